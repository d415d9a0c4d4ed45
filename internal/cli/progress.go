// Package cli holds helpers for the card-restore command line: input file
// checks, progress display and result formatting.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/schollz/progressbar/v3"
)

// Progress counts finished cards on stderr.
type Progress struct {
	bar *progressbar.ProgressBar
}

// NewProgress creates a progress bar for total cards. A nil writer selects
// stderr.
func NewProgress(total int, description string, w io.Writer) *Progress {
	if w == nil {
		w = os.Stderr
	}
	bar := progressbar.NewOptions(
		total,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetDescription(description),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "│",
			BarEnd:        "│",
		}),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionSetItsString("cards"),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
		progressbar.OptionSetRenderBlankState(true),
	)
	return &Progress{bar: bar}
}

// Done records one finished card. Safe for concurrent use.
func (p *Progress) Done() {
	_ = p.bar.Add(1)
}

// Finish completes the bar.
func (p *Progress) Finish() {
	_ = p.bar.Finish()
}
