// Package main provides a Lambda entry point for the card restoration API.
//
// It serves the same router as "card-restore serve" behind API Gateway
// (HTTP API, payload v2). Provider keys are read from SSM Parameter Store at
// cold start unless already present in the environment:
//   - ARK_API_KEY    from SSM_ARK_KEY_PARAM    (default /card-restore/prod/ark-api-key)
//   - GEMINI_API_KEY from SSM_GEMINI_KEY_PARAM (only with CARD_VISION_PROVIDER=gemini)
//
// The reference pool uses the configured URLs; the scheduled refresh runs in
// the long-lived server, not here.
package main

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/fpang/card-restore/internal/app"
	"github.com/fpang/card-restore/internal/config"
	"github.com/fpang/card-restore/internal/lambdaboot"
	"github.com/fpang/card-restore/internal/logging"
)

var service *app.App

func init() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	clients, err := lambdaboot.InitAWS(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}

	ssmParams := map[string]string{
		"ark_api_key": logging.EnvOrDefault("SSM_ARK_KEY_PARAM", lambdaboot.DefaultArkKeyParam),
	}
	if err := lambdaboot.LoadSecret(ctx, clients.SSM, "ARK_API_KEY", "SSM_ARK_KEY_PARAM", lambdaboot.DefaultArkKeyParam); err != nil {
		log.Fatal().Err(err).Msg("Failed to load Ark API key from SSM")
	}
	if os.Getenv("CARD_VISION_PROVIDER") == "gemini" {
		ssmParams["gemini_api_key"] = logging.EnvOrDefault("SSM_GEMINI_KEY_PARAM", lambdaboot.DefaultGeminiKeyParam)
		if err := lambdaboot.LoadSecret(ctx, clients.SSM, "GEMINI_API_KEY", "SSM_GEMINI_KEY_PARAM", lambdaboot.DefaultGeminiKeyParam); err != nil {
			log.Fatal().Err(err).Msg("Failed to load Gemini API key from SSM")
		}
	}

	cfg, err := config.Load(os.Getenv("CARD_CONFIG"))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}
	logging.InitWith(cfg.Log.Level, logging.EnvOrDefault("CARD_LOG_FORMAT", "json"))

	service, err = app.Build(ctx, cfg, app.Options{
		Name:       "card-restore-lambda",
		CommitHash: commitHash,
		BuildTime:  buildTime,
		SSMParams:  ssmParams,
		AWS:        &clients.Config,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize service")
	}
	log.Debug().Dur("init", time.Since(initStart)).Msg("Cold start complete")
}

func main() {
	adapter := httpadapter.NewV2(service.Server.Handler())
	lambda.Start(adapter.ProxyWithContext)
}
