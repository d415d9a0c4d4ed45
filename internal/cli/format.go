package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/fpang/card-restore/internal/domain"
)

// FormatDurationShort formats a duration in a short format (M:SS or H:MM:SS).
func FormatDurationShort(d time.Duration) string {
	totalSeconds := int(d.Seconds())
	hours := totalSeconds / 3600
	minutes := (totalSeconds % 3600) / 60
	seconds := totalSeconds % 60

	if hours > 0 {
		return fmt.Sprintf("%d:%02d:%02d", hours, minutes, seconds)
	}
	return fmt.Sprintf("%d:%02d", minutes, seconds)
}

// FormatBatchSummary renders a one-line summary followed by one line per
// item that did not succeed.
func FormatBatchSummary(batch domain.BatchResult, elapsed time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d/%d cards restored in %s (batch %s)\n",
		batch.Success, batch.Total, FormatDurationShort(elapsed), batch.BatchID)
	for _, r := range batch.Results {
		if r.Succeeded() {
			continue
		}
		fmt.Fprintf(&b, "  %s: %s", r.Filename, r.Status)
		if r.Error != "" {
			fmt.Fprintf(&b, " (%s)", r.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}
