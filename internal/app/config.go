package app

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// providerMaxChars is the hard per-request character cap of the speech
// providers; chunks must stay at or below it.
const providerMaxChars = 5000

type Config struct {
	HTTPAddr      string
	PublicBaseURL string
	LogLevel      string
	Environment   string
	SentryDSN     string

	// Datastore: Postgres when DatabaseURL is set, embedded SQLite otherwise
	DatabaseURL string
	SQLitePath  string
	AutoMigrate bool

	// Object storage
	StorageBackend    string // "local" or "s3"
	StorageDir        string
	S3Bucket          string
	S3Region          string
	S3Endpoint        string
	S3Prefix          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	SignedURLTTL      time.Duration

	// Speech provider
	TTSProvider          string // "elevenlabs" or "openai"
	ElevenLabsAPIKey     string
	ElevenLabsModelID    string
	ElevenLabsTimestamps bool
	OpenAIAPIKey         string
	OpenAITTSModel       string
	MaxChunkChars        int
	MinInterval          time.Duration
	SynthConcurrency     int

	// In-flight claim (enabled by RedisURL)
	RedisURL  string
	ClaimTTL  time.Duration
	ClaimWait time.Duration

	// JWT Authentication, also the local media signing key
	JWTSecret string

	// Notifications
	DiscordWebhookURL string
	APNsKeyPath       string
	APNsKeyID         string
	APNsTeamID        string
	APNsBundleID      string
	APNsProduction    bool

	// Telemetry
	OTLPEndpoint string
	OTLPInsecure bool
	TraceStdout  bool

	EventRetentionDays int
}

// LoadConfig reads .env and the optional CONFIG_FILE overlay into the
// environment, then builds the Config from it. Variables already set in the
// environment win over .env, which wins over the overlay.
func LoadConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := applyConfigFile(path); err != nil {
			return Config{}, err
		}
	}
	return LoadConfigFromEnv(), nil
}

// applyConfigFile sets every key of a flat YAML mapping of environment
// variable names that is not set yet.
func applyConfigFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	var values map[string]any
	if err := yaml.Unmarshal(data, &values); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	for k, v := range values {
		if v == nil {
			continue
		}
		if _, set := os.LookupEnv(k); set {
			continue
		}
		if err := os.Setenv(k, fmt.Sprint(v)); err != nil {
			return fmt.Errorf("apply %s: %w", k, err)
		}
	}
	return nil
}

func LoadConfigFromEnv() Config {
	return Config{
		HTTPAddr:      getenv("HTTP_ADDR", ":8080"),
		PublicBaseURL: getenv("PUBLIC_BASE_URL", "http://localhost:8080"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		Environment:   getenv("ENVIRONMENT", "development"),
		SentryDSN:     os.Getenv("SENTRY_DSN"),

		DatabaseURL: getenv("DATABASE_URL", ""),
		SQLitePath:  getenv("SQLITE_PATH", "data/narrations.db"),
		AutoMigrate: getenvBool("AUTO_MIGRATE", true),

		StorageBackend:    strings.ToLower(getenv("STORAGE_BACKEND", "local")),
		StorageDir:        getenv("STORAGE_DIR", "data/media"),
		S3Bucket:          getenv("S3_BUCKET", ""),
		S3Region:          getenv("S3_REGION", "us-east-1"),
		S3Endpoint:        getenv("S3_ENDPOINT", ""),
		S3Prefix:          getenv("S3_PREFIX", ""),
		S3AccessKeyID:     getenv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getenv("S3_SECRET_ACCESS_KEY", ""),
		SignedURLTTL:      getenvDuration("SIGNED_URL_TTL", time.Hour),

		TTSProvider:          strings.ToLower(getenv("TTS_PROVIDER", "elevenlabs")),
		ElevenLabsAPIKey:     getenv("ELEVENLABS_API_KEY", ""),
		ElevenLabsModelID:    getenv("ELEVENLABS_MODEL_ID", ""),
		ElevenLabsTimestamps: getenvBool("ELEVENLABS_TIMESTAMPS", true),
		OpenAIAPIKey:         getenv("OPENAI_API_KEY", ""),
		OpenAITTSModel:       getenv("OPENAI_TTS_MODEL", ""),
		MaxChunkChars:        getenvInt("TTS_MAX_CHUNK_CHARS", 4500),
		MinInterval:          getenvDuration("TTS_MIN_INTERVAL", 0),
		SynthConcurrency:     getenvIntClamped("SYNTH_CONCURRENCY", 1, 1, 8),

		RedisURL:  getenv("REDIS_URL", ""),
		ClaimTTL:  getenvDuration("CLAIM_TTL", 10*time.Minute),
		ClaimWait: getenvDuration("CLAIM_WAIT", 2*time.Minute),

		JWTSecret: os.Getenv("JWT_SECRET"), // Required - no fallback for security

		DiscordWebhookURL: getenv("DISCORD_WEBHOOK_URL", ""),
		APNsKeyPath:       getenv("APNS_KEY_PATH", ""),
		APNsKeyID:         getenv("APNS_KEY_ID", ""),
		APNsTeamID:        getenv("APNS_TEAM_ID", ""),
		APNsBundleID:      getenv("APNS_BUNDLE_ID", ""),
		APNsProduction:    getenvBool("APNS_PRODUCTION", false),

		OTLPEndpoint: getenv("OTLP_ENDPOINT", ""),
		OTLPInsecure: getenvBool("OTLP_INSECURE", false),
		TraceStdout:  getenvBool("TRACE_STDOUT", false),

		EventRetentionDays: getenvIntClamped("EVENT_RETENTION_DAYS", 30, 1, 3650),
	}
}

// Validate reports every setting that makes the service unable to start.
func (c Config) Validate() error {
	var errs []error
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		errs = append(errs, errors.New("either DATABASE_URL or SQLITE_PATH is required"))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}

	switch c.StorageBackend {
	case "local":
		if c.StorageDir == "" {
			errs = append(errs, errors.New("STORAGE_DIR is required for local storage"))
		}
	case "s3":
		if c.S3Bucket == "" {
			errs = append(errs, errors.New("S3_BUCKET is required for s3 storage"))
		}
	default:
		errs = append(errs, fmt.Errorf("STORAGE_BACKEND %q is not local or s3", c.StorageBackend))
	}

	switch c.TTSProvider {
	case "elevenlabs":
		if c.ElevenLabsAPIKey == "" {
			errs = append(errs, errors.New("ELEVENLABS_API_KEY is required"))
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("TTS_PROVIDER %q is not elevenlabs or openai", c.TTSProvider))
	}

	if c.MaxChunkChars <= 0 || c.MaxChunkChars > providerMaxChars {
		errs = append(errs, fmt.Errorf("TTS_MAX_CHUNK_CHARS must be in 1..%d, got %d", providerMaxChars, c.MaxChunkChars))
	}
	if c.SignedURLTTL <= 0 {
		errs = append(errs, errors.New("SIGNED_URL_TTL must be positive"))
	}
	return errors.Join(errs...)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func getenvInt(k string, def int) int {
	v, err := strconv.Atoi(getenv(k, ""))
	if err != nil {
		return def
	}
	return v
}

// getenvIntClamped reads an int and clamps it to [min, max]. Unset or
// unparsable values yield def.
func getenvIntClamped(k string, def, min, max int) int {
	v := getenvInt(k, def)
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func getenvBool(k string, def bool) bool {
	v, err := strconv.ParseBool(getenv(k, ""))
	if err != nil {
		return def
	}
	return v
}

func getenvDuration(k string, def time.Duration) time.Duration {
	v, err := time.ParseDuration(getenv(k, ""))
	if err != nil {
		return def
	}
	return v
}
