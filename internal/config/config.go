// Package config loads RegServer's runtime configuration from the
// environment, the way the teacher's pkg/config does, but refuses to start
// when a required option is missing instead of silently defaulting it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	ListenAddress string

	DatabaseURL         string
	DatabaseMinConns    int
	DatabaseMaxConns    int

	S3Endpoint      string
	S3Region        string
	S3Bucket        string
	S3AccessKey     string
	S3SecretKey     string
	S3UseSSL        bool
	S3UsePathStyle  bool
	MultipartThreshold int64
	PartSize           int64
	StorageRetryAttempts int

	RedisURL      string
	RedisPassword string

	JWTSecret            string
	JWTExpiration        time.Duration

	CacheManifestTTL     time.Duration
	CacheBlobMetaTTL     time.Duration
	CacheRepositoriesTTL time.Duration
	CacheTagsTTL         time.Duration
	CacheAuthTokenTTL    time.Duration
	CachePermissionsTTL  time.Duration
	CacheAPIKeyTTL       time.Duration
	CacheSessionTTL      time.Duration
	CacheMaxMemoryEntries int

	UploadSessionGrace time.Duration
	RequestTimeout     time.Duration
	ShutdownGrace      time.Duration

	EnableImmutableTags bool

	SMTPHost string
	SMTPPort string
	SMTPUser string
	SMTPPass string
	SMTPFrom string
}

// Load reads Config from the environment. It returns an error naming every
// missing required option at once rather than failing on the first one, so
// an operator can fix a broken deployment in one pass.
func Load() (*Config, error) {
	var missing []string
	require := func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok || v == "" {
			missing = append(missing, key)
		}
		return v
	}

	cfg := &Config{
		ListenAddress: getEnv("LISTEN_ADDRESS", ":5000"),
		DatabaseURL:   require("DATABASE_URL"),

		S3Endpoint:  require("S3_ENDPOINT"),
		S3Region:    getEnv("S3_REGION", "us-east-1"),
		S3Bucket:    require("S3_BUCKET"),
		S3AccessKey: require("S3_ACCESS_KEY"),
		S3SecretKey: require("S3_SECRET_KEY"),
		S3UsePathStyle: getEnvBool("S3_USE_PATH_STYLE", true),
		S3UseSSL:       getEnvBool("S3_USE_SSL", false),

		RedisURL:      getEnv("REDIS_URL", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		JWTSecret: require("JWT_SECRET"),

		EnableImmutableTags: getEnvBool("ENABLE_IMMUTABLE_TAGS", false),

		SMTPHost: getEnv("SMTP_HOST", ""),
		SMTPPort: getEnv("SMTP_PORT", "587"),
		SMTPUser: getEnv("SMTP_USER", ""),
		SMTPPass: getEnv("SMTP_PASS", ""),
		SMTPFrom: getEnv("SMTP_FROM", "noreply@regserver.local"),
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing required configuration options: %s", strings.Join(missing, ", "))
	}

	cfg.DatabaseMinConns = getEnvInt("DATABASE_MIN_CONNECTIONS", 5)
	cfg.DatabaseMaxConns = getEnvInt("DATABASE_MAX_CONNECTIONS", 100)

	cfg.MultipartThreshold = getEnvInt64("MULTIPART_THRESHOLD", 64<<20)
	cfg.PartSize = getEnvInt64("PART_SIZE", 8<<20)
	cfg.StorageRetryAttempts = getEnvInt("STORAGE_RETRY_ATTEMPTS", 3)

	jwtExpSeconds := getEnvInt("JWT_EXPIRATION_SECONDS", 3600)
	if jwtExpSeconds < 300 {
		jwtExpSeconds = 300
	}
	cfg.JWTExpiration = time.Duration(jwtExpSeconds) * time.Second

	cfg.CacheManifestTTL = getEnvSeconds("CACHE_MANIFEST_TTL_SECONDS", 5*time.Minute)
	cfg.CacheBlobMetaTTL = getEnvSeconds("CACHE_BLOB_META_TTL_SECONDS", 10*time.Minute)
	cfg.CacheRepositoriesTTL = getEnvSeconds("CACHE_REPOSITORIES_TTL_SECONDS", 1*time.Minute)
	cfg.CacheTagsTTL = getEnvSeconds("CACHE_TAGS_TTL_SECONDS", 2*time.Minute)
	cfg.CacheAuthTokenTTL = getEnvSeconds("CACHE_AUTH_TOKEN_TTL_SECONDS", 15*time.Minute)
	cfg.CachePermissionsTTL = getEnvSeconds("CACHE_PERMISSIONS_TTL_SECONDS", 5*time.Minute)
	cfg.CacheAPIKeyTTL = cfg.CacheAuthTokenTTL
	cfg.CacheSessionTTL = getEnvSeconds("CACHE_SESSION_TTL_SECONDS", 30*time.Minute)
	cfg.CacheMaxMemoryEntries = getEnvInt("CACHE_MAX_MEMORY_ENTRIES", 10000)

	cfg.UploadSessionGrace = getEnvSeconds("UPLOAD_SESSION_GRACE_SECONDS", 24*time.Hour)
	cfg.RequestTimeout = getEnvSeconds("REQUEST_TIMEOUT_SECONDS", 5*time.Minute)
	cfg.ShutdownGrace = getEnvSeconds("SHUTDOWN_GRACE_SECONDS", 30*time.Second)

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		return v == "true" || v == "1"
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvInt64(key string, fallback int64) int64 {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvSeconds(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}
