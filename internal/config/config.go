package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// Document storage root.
	DataDir string

	// Optional bearer key protecting the JSON API.
	APIKey string

	// GigaChat endpoints.
	OAuthURL       string
	CompletionsURL string
	FilesURL       string

	// OAuth credentials.
	AuthKey string
	Scope   string

	// mTLS credentials. If ClientCert is set, requests are attempted
	// cert-first; ClientKey may be empty for a combined PEM.
	ClientCert     string
	ClientKey      string
	CABundle       string
	TLSVerify      bool
	ForceTokenAuth bool

	// Model defaults.
	TextModel         string
	VisionModel       string
	TextTemperature   float64
	VisionTemperature float64

	// Page extraction.
	RasterDPI   int
	JPEGQuality int

	// Upload limits.
	MaxUploadBytes int64

	// Job workers.
	WorkerCount  int
	MaxQueueSize int
	JobTTL       time.Duration

	// Prompt budgets.
	FAQContextChars     int
	FAQOutputTokens     int
	GeneralBatchChars   int
	GeneralOutputTokens int
}

func Load() Config {
	// Missing .env is fine; real env vars win either way.
	_ = godotenv.Load()

	cfg := Config{
		Port: envOr("PORT", "8000"),

		DataDir: envOr("PAMPHLET_DATA_DIR", "out/web"),
		APIKey:  os.Getenv("PAMPHLET_API_KEY"),

		OAuthURL:       envOr("GIGA_NGW_URL", "https://ngw.devices.sberbank.ru:9443/api/v2/oauth"),
		CompletionsURL: envOr("GIGA_CHAT_COMPLETIONS_URL", "https://gigachat.devices.sberbank.ru/api/v1/chat/completions"),
		FilesURL:       envOr("GIGA_CHAT_FILES_URL", "https://gigachat.devices.sberbank.ru/api/v1/files"),

		AuthKey: os.Getenv("GIGA_ACCESS_KEY"),
		Scope:   envOr("GIGA_CHAT_SCOPE", "GIGACHAT_API_CORP"),

		ClientCert:     os.Getenv("GIGA_CLIENT_CERT"),
		ClientKey:      os.Getenv("GIGA_CLIENT_KEY"),
		CABundle:       os.Getenv("GIGA_CA_BUNDLE"),
		TLSVerify:      envBool("GIGA_TLS_VERIFY", false),
		ForceTokenAuth: envBool("GIGA_FORCE_TOKEN_AUTH", false),

		TextModel:         envOr("GIGA_TEXT_MODEL", "GigaChat-2-Pro"),
		VisionModel:       envOr("GIGA_VISION_MODEL", "GigaChat-2-Pro"),
		TextTemperature:   envFloat("GIGA_TEXT_TEMPERATURE", 0.01),
		VisionTemperature: envFloat("GIGA_VISION_TEMPERATURE", 0.01),

		RasterDPI:   envInt("RASTER_DPI", 150),
		JPEGQuality: envInt("JPEG_QUALITY", 85),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 104857600), // 100MB

		WorkerCount:  envInt("WORKER_COUNT", 2),
		MaxQueueSize: envInt("MAX_QUEUE_SIZE", 32),
		JobTTL:       envDuration("JOB_TTL", 24*time.Hour),

		FAQContextChars:     envInt("FAQ_CONTEXT_CHARS", 12000),
		FAQOutputTokens:     envInt("FAQ_OUTPUT_TOKENS", 10000),
		GeneralBatchChars:   envInt("GENERAL_BATCH_CHARS", 12000),
		GeneralOutputTokens: envInt("GENERAL_OUTPUT_TOKENS", 12000),
	}

	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 2
	}
	if cfg.MaxQueueSize <= 0 {
		cfg.MaxQueueSize = 32
	}
	if cfg.RasterDPI <= 0 {
		cfg.RasterDPI = 150
	}
	if cfg.JPEGQuality <= 0 || cfg.JPEGQuality > 100 {
		cfg.JPEGQuality = 85
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 104857600
	}
	if cfg.JobTTL <= 0 {
		cfg.JobTTL = 24 * time.Hour
	}
	if cfg.FAQContextChars <= 0 {
		cfg.FAQContextChars = 12000
	}

	return cfg
}

// Validate checks that at least one authentication mode is configured.
func (c Config) Validate() error {
	if c.AuthKey == "" && c.ClientCert == "" {
		return fmt.Errorf("no GigaChat credentials: set GIGA_ACCESS_KEY (OAuth) or GIGA_CLIENT_CERT/GIGA_CLIENT_KEY (mTLS)")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
