// Package lambdaboot provides the AWS bootstrap shared by the Lambda entry
// point and any CLI command that talks to AWS: config loading, S3 and
// DynamoDB clients, SSM secret fetch and startup logging.
package lambdaboot

import (
	"context"
	"os"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"

	"github.com/fpang/card-restore/internal/logging"
	"github.com/fpang/card-restore/internal/store"
)

// Default SSM parameter paths for provider keys.
const (
	DefaultArkKeyParam    = "/card-restore/prod/ark-api-key"
	DefaultGeminiKeyParam = "/card-restore/prod/gemini-api-key"
)

// AWSClients holds the core AWS SDK clients.
type AWSClients struct {
	Config aws.Config
	SSM    *ssm.Client
}

// InitAWS loads the default AWS config and returns it along with common clients.
func InitAWS(ctx context.Context) (AWSClients, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return AWSClients{}, err
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return AWSClients{
		Config: cfg,
		SSM:    ssm.NewFromConfig(cfg),
	}, nil
}

// InitS3 creates an S3 client.
func InitS3(cfg aws.Config) *s3.Client {
	return s3.NewFromConfig(cfg)
}

// InitDynamoStore creates a DynamoDB batch store for tableName.
func InitDynamoStore(cfg aws.Config, tableName string, ttl time.Duration) *store.DynamoStore {
	return store.NewDynamoStore(dynamodb.NewFromConfig(cfg), tableName, ttl)
}

// SSMGetter is the part of *ssm.Client used by LoadSecret.
type SSMGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// LoadSecret ensures envVar is set, fetching the value from the SSM
// parameter named by paramEnvVar (or defaultParam) when it is not. The
// value is exported to envVar so later lookups find it.
func LoadSecret(ctx context.Context, client SSMGetter, envVar, paramEnvVar, defaultParam string) error {
	if os.Getenv(envVar) != "" {
		return nil
	}
	paramName := logging.EnvOrDefault(paramEnvVar, defaultParam)

	ssmStart := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &paramName,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return err
	}
	if result.Parameter == nil || result.Parameter.Value == nil {
		return &MissingParameterError{Name: paramName}
	}
	os.Setenv(envVar, *result.Parameter.Value)
	log.Debug().Str("param", paramName).Dur("elapsed", time.Since(ssmStart)).Msg("Secret loaded from SSM")
	return nil
}

// MissingParameterError reports an SSM parameter without a value.
type MissingParameterError struct {
	Name string
}

func (e *MissingParameterError) Error() string {
	return "SSM parameter " + e.Name + " has no value"
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
