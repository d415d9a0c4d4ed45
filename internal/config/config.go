// Package config loads the service configuration. Values come from, in
// increasing precedence: built-in defaults, an optional YAML file, an
// optional .env file and CARD_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the restoration service.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Pools      PoolsConfig      `yaml:"pools"`
	Timeouts   TimeoutsConfig   `yaml:"timeouts"`
	Ark        ArkConfig        `yaml:"ark"`
	Vision     VisionConfig     `yaml:"vision"`
	Correction CorrectionConfig `yaml:"correction"`
	Assets     AssetsConfig     `yaml:"assets"`
	Refs       RefsConfig       `yaml:"refs"`
	Store      StoreConfig      `yaml:"store"`
	Metrics    MetricsConfig    `yaml:"metrics"`
	Log        LogConfig        `yaml:"log"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host             string        `yaml:"host"`
	Port             int           `yaml:"port"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	IdleTimeout      time.Duration `yaml:"idle_timeout"`
	GracefulShutdown time.Duration `yaml:"graceful_shutdown"`
	MaxUploadBytes   int64         `yaml:"max_upload_bytes"`
}

// Addr returns host:port.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// PoolsConfig sizes the concurrency limits.
type PoolsConfig struct {
	Admission  int `yaml:"admission"`
	GPU        int `yaml:"gpu"`
	API        int `yaml:"api"`
	Upload     int `yaml:"upload"`
	CPUWorkers int `yaml:"cpu_workers"`
}

// TimeoutsConfig holds per-call time limits.
type TimeoutsConfig struct {
	LayoutWait time.Duration `yaml:"layout_wait"`
	Upload     time.Duration `yaml:"upload"`
	Download   time.Duration `yaml:"download"`
	Generation time.Duration `yaml:"generation"`
	Correction time.Duration `yaml:"correction"`
}

// ArkConfig configures the Ark generation and vision endpoints.
type ArkConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKey      string `yaml:"api_key"`
	GenModel    string `yaml:"gen_model"`
	VisionModel string `yaml:"vision_model"`
	Size        string `yaml:"size"`
}

// VisionConfig selects the vision provider.
type VisionConfig struct {
	Provider     string `yaml:"provider"` // ark or gemini
	GeminiModel  string `yaml:"gemini_model"`
	GeminiAPIKey string `yaml:"gemini_api_key"`
}

// CorrectionConfig points at the perspective-correction model server. An
// empty URL uses the passthrough corrector.
type CorrectionConfig struct {
	URL string `yaml:"url"`
}

// AssetsConfig selects where uploaded images are published.
type AssetsConfig struct {
	Driver    string   `yaml:"driver"` // http or s3
	UploadURL string   `yaml:"upload_url"`
	URLPrefix string   `yaml:"url_prefix"`
	S3        S3Config `yaml:"s3"`
}

// S3Config configures the S3 asset store. An empty PublicBase selects
// pre-signed URLs valid for PresignExpiry.
type S3Config struct {
	Bucket        string        `yaml:"bucket"`
	Prefix        string        `yaml:"prefix"`
	PublicBase    string        `yaml:"public_base"`
	PresignExpiry time.Duration `yaml:"presign_expiry"`
}

// RefsConfig configures the reference-image pool.
type RefsConfig struct {
	Enabled  bool     `yaml:"enabled"`
	LocalDir string   `yaml:"local_dir"`
	URLs     []string `yaml:"urls"`
	Schedule string   `yaml:"schedule"`
}

// StoreConfig selects the batch result store.
type StoreConfig struct {
	Driver string        `yaml:"driver"` // memory, dynamodb or redis
	Table  string        `yaml:"table"`
	TTL    time.Duration `yaml:"ttl"`
	Redis  RedisConfig   `yaml:"redis"`
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	Prefix   string `yaml:"prefix"`
}

// MetricsConfig controls EMF metric output.
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

// LogConfig controls the global logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console or json
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:             "0.0.0.0",
			Port:             6003,
			ReadTimeout:      60 * time.Second,
			WriteTimeout:     15 * time.Minute,
			IdleTimeout:      120 * time.Second,
			GracefulShutdown: 30 * time.Second,
			MaxUploadBytes:   512 << 20,
		},
		Pools: PoolsConfig{
			Admission:  15,
			GPU:        8,
			API:        50,
			Upload:     50,
			CPUWorkers: 64,
		},
		Timeouts: TimeoutsConfig{
			LayoutWait: 30 * time.Second,
			Upload:     180 * time.Second,
			Download:   60 * time.Second,
			Generation: 180 * time.Second,
			Correction: 120 * time.Second,
		},
		Ark: ArkConfig{
			BaseURL:     "https://ark.cn-beijing.volces.com/api/v3",
			GenModel:    "doubao-seedream-4-5-251128",
			VisionModel: "doubao-seed-1-6-vision-250815",
			Size:        "3000x1824",
		},
		Vision: VisionConfig{
			Provider:    "ark",
			GeminiModel: "gemini-2.5-flash",
		},
		Assets: AssetsConfig{
			Driver:    "http",
			UploadURL: "https://tt.36588.com.cn/mcard/common/commonUpload",
			URLPrefix: "https://tt.36588.com.cn/mcard/assets/resource/imgs/normal/",
			S3: S3Config{
				Prefix:        "cards",
				PresignExpiry: 7 * 24 * time.Hour,
			},
		},
		Refs: RefsConfig{
			Enabled:  true,
			LocalDir: "ref_imgs",
			Schedule: "0 0 * * *",
		},
		Store: StoreConfig{
			Driver: "memory",
			Table:  "card-restore-batches",
			TTL:    24 * time.Hour,
			Redis: RedisConfig{
				Addr:   "localhost:6379",
				Prefix: "card-restore:batch:",
			},
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Namespace: "CardRestore",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load builds the configuration. path may be empty to skip the YAML file.
// A .env file in the working directory is read when present; variables
// already set in the environment win over it.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	pools := map[string]int{
		"admission":   c.Pools.Admission,
		"gpu":         c.Pools.GPU,
		"api":         c.Pools.API,
		"upload":      c.Pools.Upload,
		"cpu_workers": c.Pools.CPUWorkers,
	}
	for name, n := range pools {
		if n < 1 {
			return fmt.Errorf("pools.%s must be at least 1, got %d", name, n)
		}
	}

	if c.Timeouts.LayoutWait <= 0 {
		return fmt.Errorf("timeouts.layout_wait must be positive")
	}

	switch c.Vision.Provider {
	case "ark", "gemini":
	default:
		return fmt.Errorf("invalid vision provider: %s", c.Vision.Provider)
	}

	switch c.Assets.Driver {
	case "http":
		if c.Assets.UploadURL == "" {
			return fmt.Errorf("assets.upload_url is required for the http driver")
		}
	case "s3":
		if c.Assets.S3.Bucket == "" {
			return fmt.Errorf("assets.s3.bucket is required for the s3 driver")
		}
	default:
		return fmt.Errorf("invalid assets driver: %s", c.Assets.Driver)
	}

	switch c.Store.Driver {
	case "memory", "dynamodb", "redis":
	default:
		return fmt.Errorf("invalid store driver: %s", c.Store.Driver)
	}
	if c.Store.Driver == "dynamodb" && c.Store.Table == "" {
		return fmt.Errorf("store.table is required for the dynamodb driver")
	}

	switch c.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("invalid log format: %s", c.Log.Format)
	}
	return nil
}

// ReferenceURLs returns the configured initial reference URLs, or the
// given defaults when none are configured.
func (c *Config) ReferenceURLs(defaults []string) []string {
	if len(c.Refs.URLs) > 0 {
		return c.Refs.URLs
	}
	return defaults
}

// applyEnvOverrides applies environment variable overrides to cfg.
func applyEnvOverrides(cfg *Config) error {
	str := func(name string, dst *string) {
		if v := os.Getenv(name); v != "" {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v := os.Getenv(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = n
		}
	}
	dur := func(name string, dst *time.Duration) {
		if v := os.Getenv(name); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = d
		}
	}
	flag := func(name string, dst *bool) {
		if v := os.Getenv(name); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", name, err))
				return
			}
			*dst = b
		}
	}

	str("CARD_HOST", &cfg.Server.Host)
	num("CARD_PORT", &cfg.Server.Port)

	num("CARD_POOL_ADMISSION", &cfg.Pools.Admission)
	num("CARD_POOL_GPU", &cfg.Pools.GPU)
	num("CARD_POOL_API", &cfg.Pools.API)
	num("CARD_POOL_UPLOAD", &cfg.Pools.Upload)
	num("CARD_POOL_CPU_WORKERS", &cfg.Pools.CPUWorkers)

	dur("CARD_LAYOUT_WAIT", &cfg.Timeouts.LayoutWait)
	dur("CARD_UPLOAD_TIMEOUT", &cfg.Timeouts.Upload)
	dur("CARD_DOWNLOAD_TIMEOUT", &cfg.Timeouts.Download)

	str("ARK_API_KEY", &cfg.Ark.APIKey)
	str("CARD_ARK_BASE_URL", &cfg.Ark.BaseURL)
	str("CARD_ARK_GEN_MODEL", &cfg.Ark.GenModel)
	str("CARD_ARK_VISION_MODEL", &cfg.Ark.VisionModel)

	str("CARD_VISION_PROVIDER", &cfg.Vision.Provider)
	str("CARD_GEMINI_MODEL", &cfg.Vision.GeminiModel)
	str("GEMINI_API_KEY", &cfg.Vision.GeminiAPIKey)

	str("CARD_CORRECTION_URL", &cfg.Correction.URL)

	str("CARD_ASSETS_DRIVER", &cfg.Assets.Driver)
	str("UPLOAD_API_URL", &cfg.Assets.UploadURL)
	str("CARD_ASSETS_URL_PREFIX", &cfg.Assets.URLPrefix)
	str("CARD_S3_BUCKET", &cfg.Assets.S3.Bucket)
	str("CARD_S3_PREFIX", &cfg.Assets.S3.Prefix)
	str("CARD_S3_PUBLIC_BASE", &cfg.Assets.S3.PublicBase)
	dur("CARD_S3_PRESIGN_EXPIRY", &cfg.Assets.S3.PresignExpiry)

	flag("CARD_REFS_ENABLED", &cfg.Refs.Enabled)
	str("CARD_REFS_DIR", &cfg.Refs.LocalDir)
	str("CARD_REFS_SCHEDULE", &cfg.Refs.Schedule)
	if v := os.Getenv("CARD_REFS_URLS"); v != "" {
		cfg.Refs.URLs = splitList(v)
	}

	str("CARD_STORE_DRIVER", &cfg.Store.Driver)
	str("CARD_STORE_TABLE", &cfg.Store.Table)
	dur("CARD_STORE_TTL", &cfg.Store.TTL)
	str("CARD_REDIS_ADDR", &cfg.Store.Redis.Addr)
	str("CARD_REDIS_PASSWORD", &cfg.Store.Redis.Password)

	flag("CARD_METRICS_ENABLED", &cfg.Metrics.Enabled)
	str("CARD_METRICS_NAMESPACE", &cfg.Metrics.Namespace)

	str("CARD_LOG_LEVEL", &cfg.Log.Level)
	str("CARD_LOG_FORMAT", &cfg.Log.Format)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
