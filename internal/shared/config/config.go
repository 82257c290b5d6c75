package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	DatabaseURL     string

	ObjectStoreType string
	LocalStoreDir   string
	AWSRegion       string
	S3Bucket        string
	S3Prefix        string
	SSEKMSKeyID     string

	SigningProvider string
	SigningKMSKeyID string
	SigningKeyFile  string

	WorkflowQueueURL string

	MaxDocumentsPerEnvelope int
	MaxRecipients           int
	MaxFields               int
	PayloadSizeLimit        int64

	AccessTokenBytes int
	AccessTokenTTL   time.Duration

	SignRetryAttempts int
	SignRetryBase     time.Duration
	SignRetryFactor   float64
	SignRetryJitter   float64

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	UIRedirectURL      string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")

	if env == "production" && dbURL == "" {
		log.Printf("DATABASE_URL is required in production")
	}

	return Config{
		Port:            getEnv("PORT", "8080"),
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		Env:             env,
		DatabaseURL:     dbURL,

		ObjectStoreType: normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:   getEnv("LOCAL_STORE_DIR", "./data"),
		AWSRegion:       getEnv("AWS_REGION", ""),
		S3Bucket:        getEnv("S3_BUCKET", ""),
		S3Prefix:        getEnv("S3_PREFIX", ""),
		SSEKMSKeyID:     getEnv("SSE_KMS_KEY_ID", ""),

		SigningProvider: normalizeSigningProvider(getEnv("SIGNING_PROVIDER", "software")),
		SigningKMSKeyID: getEnv("SIGNING_KMS_KEY_ID", ""),
		SigningKeyFile:  getEnv("SIGNING_KEY_FILE", ""),

		WorkflowQueueURL: getEnv("WORKFLOW_QUEUE_URL", ""),

		MaxDocumentsPerEnvelope: getEnvInt("MAX_DOCUMENTS_PER_ENVELOPE", 50),
		MaxRecipients:           getEnvInt("MAX_RECIPIENTS_PER_ENVELOPE", 200),
		MaxFields:               getEnvInt("MAX_FIELDS_PER_ENVELOPE", 5000),
		PayloadSizeLimit:        int64(getEnvInt("PAYLOAD_SIZE_LIMIT_BYTES", 1<<20)),

		AccessTokenBytes: getEnvInt("ACCESS_TOKEN_BYTES", 16),
		AccessTokenTTL:   getEnvDuration("ACCESS_TOKEN_TTL", 30*24*time.Hour),

		SignRetryAttempts: getEnvInt("SIGN_RETRY_ATTEMPTS", 3),
		SignRetryBase:     getEnvDuration("SIGN_RETRY_BASE", 200*time.Millisecond),
		SignRetryFactor:   getEnvFloat("SIGN_RETRY_FACTOR", 2.0),
		SignRetryJitter:   getEnvFloat("SIGN_RETRY_JITTER", 0.25),

		GoogleClientID:     getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret: getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:  getEnv("GOOGLE_REDIRECT_URL", ""),
		UIRedirectURL:      getEnv("UI_REDIRECT_URL", ""),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvInt(key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("config %s invalid int: %v", key, err)
		return def
	}
	return val
}

func getEnvFloat(key string, def float64) float64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		log.Printf("config %s invalid float: %v", key, err)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		log.Printf("config %s invalid duration: %v", key, err)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	default:
		return "local"
	}
}

func normalizeSigningProvider(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "kms":
		return "kms"
	case "hsm":
		return "hsm"
	default:
		return "software"
	}
}
