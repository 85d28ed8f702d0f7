package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds runtime configuration for the ingestion pipeline.
type Config struct {
	Env     string
	OpsAddr string

	PostgresDSN string

	// Redis is optional; when unset the outbound rate limiter is disabled.
	RedisAddr         string
	RedisPassword     string
	RedisDB           int
	RateLimitCapacity int
	RateLimitRefill   float64

	S3Region    string
	S3Bucket    string
	S3Endpoint  string
	S3PathStyle bool
	S3PartSize  int64
	PresignTTL  time.Duration

	FetchBinary          string
	FetchSocketTimeout   time.Duration
	FetchFragmentRetries int
	FetchReferer         string
	FetchOrigin          string
	FetchInsecureTLS     bool
	FirstByteTimeout     time.Duration
	MinObjectBytes       int64

	TranscribeURL     string
	TranscribeAPIKey  string
	TranscribeTimeout time.Duration

	// DiscoverySources maps "region/branch" to a listing endpoint URL.
	DiscoverySources map[string]string

	RetryCeiling     int
	MaxAttempts      int
	BackoffBase      time.Duration
	BackoffMax       time.Duration
	StuckAfter       time.Duration
	LookbackDays     int
	QueueLimit       int
	PreflightTimeout time.Duration
}

// Load reads configuration from environment variables with defaults suited
// to local development. Required values are checked by Validate.
func Load() Config {
	return Config{
		Env:     getEnv("APP_ENV", "dev"),
		OpsAddr: getEnv("OPS_ADDR", ":9090"),

		PostgresDSN: getEnv("POSTGRES_DSN", ""),

		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		RateLimitCapacity: getEnvInt("RATE_LIMIT_CAPACITY", 10),
		RateLimitRefill:   getEnvFloat("RATE_LIMIT_REFILL_PER_SEC", 2),

		S3Region:    getEnv("S3_REGION", ""),
		S3Bucket:    getEnv("S3_BUCKET", ""),
		S3Endpoint:  getEnv("S3_ENDPOINT", ""),
		S3PathStyle: getEnvBool("S3_PATH_STYLE", false),
		S3PartSize:  getEnvInt64("S3_PART_SIZE", 8*1024*1024),
		PresignTTL:  getEnvDuration("PRESIGN_TTL", time.Hour),

		FetchBinary:          getEnv("FETCH_BINARY", "yt-dlp"),
		FetchSocketTimeout:   getEnvDuration("FETCH_SOCKET_TIMEOUT", 30*time.Second),
		FetchFragmentRetries: getEnvInt("FETCH_FRAGMENT_RETRIES", 10),
		FetchReferer:         getEnv("FETCH_REFERER", ""),
		FetchOrigin:          getEnv("FETCH_ORIGIN", ""),
		FetchInsecureTLS:     getEnvBool("FETCH_INSECURE_TLS", true),
		FirstByteTimeout:     getEnvDuration("FIRST_BYTE_TIMEOUT", 45*time.Second),
		MinObjectBytes:       getEnvInt64("MIN_OBJECT_BYTES", 5*1024*1024),

		TranscribeURL:     getEnv("TRANSCRIBE_URL", ""),
		TranscribeAPIKey:  getEnv("TRANSCRIBE_API_KEY", ""),
		TranscribeTimeout: getEnvDuration("TRANSCRIBE_TIMEOUT", 10*time.Minute),

		DiscoverySources: getEnvMap("DISCOVERY_SOURCES"),

		RetryCeiling:     getEnvInt("RETRY_CEILING", 5),
		MaxAttempts:      getEnvInt("MAX_ATTEMPTS", 5),
		BackoffBase:      getEnvDuration("BACKOFF_BASE", 500*time.Millisecond),
		BackoffMax:       getEnvDuration("BACKOFF_MAX", 10*time.Second),
		StuckAfter:       getEnvDuration("STUCK_AFTER", 6*time.Hour),
		LookbackDays:     getEnvInt("LOOKBACK_DAYS", 7),
		QueueLimit:       getEnvInt("QUEUE_LIMIT", 100),
		PreflightTimeout: getEnvDuration("PREFLIGHT_TIMEOUT", 15*time.Second),
	}
}

// Validate reports missing startup-critical settings as a single error.
func (c Config) Validate() error {
	var missing []string
	if c.PostgresDSN == "" {
		missing = append(missing, "POSTGRES_DSN")
	}
	if c.S3Bucket == "" {
		missing = append(missing, "S3_BUCKET")
	}
	if c.S3Region == "" {
		missing = append(missing, "S3_REGION")
	}
	if c.TranscribeURL == "" {
		missing = append(missing, "TRANSCRIBE_URL")
	}
	if c.TranscribeAPIKey == "" {
		missing = append(missing, "TRANSCRIBE_API_KEY")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvInt64(key string, def int64) int64 {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.ParseInt(v, 10, 64); err == nil {
			return i
		}
	}
	return def
}

func getEnvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

// getEnvMap parses comma-separated key=value pairs.
func getEnvMap(key string) map[string]string {
	out := map[string]string{}
	for _, part := range strings.Split(os.Getenv(key), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}
