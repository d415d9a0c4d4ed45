package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/card-restore/internal/app"
	"github.com/fpang/card-restore/internal/cli"
	"github.com/fpang/card-restore/internal/domain"
	"github.com/fpang/card-restore/internal/pipeline"
)

var (
	urlsFlag     bool
	progressFlag bool
)

var restoreCmd = &cobra.Command{
	Use:   "restore <file|url>...",
	Short: "Restore local card photos (or URLs with --urls)",
	Long: `Restore runs each argument through the full pipeline and writes the batch
result as JSON to stdout. Progress and a summary go to stderr.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runRestore,
}

func init() {
	restoreCmd.Flags().BoolVar(&urlsFlag, "urls", false, "Treat arguments as image URLs")
	restoreCmd.Flags().BoolVar(&progressFlag, "progress", true, "Show a progress bar on stderr")
}

func runRestore(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := cmd.Context()

	var files []string
	if !urlsFlag {
		var err error
		files, err = cli.ResolveInputFiles(args)
		if err != nil {
			log.Fatal().Err(err).Msg("Invalid input")
		}
	}

	var progress *cli.Progress
	opts := app.Options{Name: "card-restore-cli"}
	if progressFlag {
		progress = cli.NewProgress(len(args), "Restoring", nil)
		opts.OnItem = func(domain.ItemResult) { progress.Done() }
	}

	a := buildApp(ctx, cfg, opts)
	defer a.Close()

	start := time.Now()
	var batch domain.BatchResult
	if urlsFlag {
		batch = a.Processor.ProcessURLs(ctx, args)
	} else {
		batch = a.Processor.ProcessFiles(ctx, fileSources(files))
	}
	if progress != nil {
		progress.Finish()
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(batch); err != nil {
		log.Fatal().Err(err).Msg("Failed to write result")
	}
	fmt.Fprint(os.Stderr, cli.FormatBatchSummary(batch, time.Since(start)))

	if batch.Success < batch.Total {
		a.Close()
		os.Exit(2)
	}
}

func fileSources(paths []string) []pipeline.FileSource {
	out := make([]pipeline.FileSource, len(paths))
	for i, p := range paths {
		out[i] = pipeline.FileSource{
			Name: filepath.Base(p),
			Open: func() (io.ReadCloser, error) { return os.Open(p) },
		}
	}
	return out
}
