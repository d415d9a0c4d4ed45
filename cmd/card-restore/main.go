// Command card-restore restores photographed business cards into clean,
// print-ready renditions.
//
//	card-restore serve                 run the HTTP API
//	card-restore restore a.jpg b.png   restore local files, JSON on stdout
//	card-restore refresh-refs          re-publish the reference images once
package main

import (
	"context"
	"errors"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/card-restore/internal/app"
	"github.com/fpang/card-restore/internal/auth"
	"github.com/fpang/card-restore/internal/cli"
	"github.com/fpang/card-restore/internal/config"
	"github.com/fpang/card-restore/internal/logging"
)

// CLI flags
var (
	configFlag   string
	validateFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "card-restore",
	Short: "Restore photographed business cards",
	Long: `Card Restore corrects the perspective of business-card photos, asks a
generative image model for several clean renditions of each card and crops
every rendition back onto the card surface.

Examples:
  card-restore serve --config card-restore.yaml
  card-restore restore front.jpg back.jpg > result.json
  card-restore refresh-refs`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Path to a YAML config file")
	rootCmd.PersistentFlags().BoolVar(&validateFlag, "validate-keys", true, "Check provider API keys at startup")

	rootCmd.AddCommand(serveCmd, restoreCmd, refreshCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config and configures the global logger from it.
func loadConfig() *config.Config {
	logging.Init()
	cfg, err := config.Load(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.InitWith(cfg.Log.Level, cfg.Log.Format)
	return cfg
}

// buildApp wires the service, exiting with a readable message when a
// provider key is missing or rejected.
func buildApp(ctx context.Context, cfg *config.Config, opts app.Options) *app.App {
	opts.CommitHash = commitHash
	opts.BuildTime = buildTime
	opts.ValidateKeys = validateFlag
	a, err := app.Build(ctx, cfg, opts)
	if err != nil {
		var valErr *auth.ValidationError
		if errors.As(err, &valErr) {
			cli.HandleValidationError(opts.Name, err)
		}
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	return a
}
