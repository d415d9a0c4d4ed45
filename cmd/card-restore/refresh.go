package main

import (
	"encoding/json"
	"os"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/fpang/card-restore/internal/app"
)

var refreshCmd = &cobra.Command{
	Use:   "refresh-refs",
	Short: "Re-publish the reference images and print the new snapshot",
	Args:  cobra.NoArgs,
	Run:   runRefresh,
}

func runRefresh(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	ctx := cmd.Context()

	a := buildApp(ctx, cfg, app.Options{Name: "card-restore-refresh"})
	defer a.Close()

	if err := a.Refresher.EnsureLocal(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to prepare local reference images")
	}
	snap, err := a.Refresher.Refresh(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Reference refresh failed")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(snap); err != nil {
		log.Fatal().Err(err).Msg("Failed to write snapshot")
	}
}
