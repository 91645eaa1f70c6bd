package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the API server and supporting services.
type Config struct {
	HTTPListenAddr string
	MySQLDSN       string
	SentryDSN      string
	CORSOrigins    []string

	ProviderBaseURL string
	ProviderAPIKey  string
	ProviderTimeout time.Duration
	EnhanceModel    string

	AuthJWTSecret   string
	AuthVerifyURL   string
	SessionCacheTTL time.Duration

	FreeGenerationsLimit int
	StalePendingAfter    time.Duration

	StripeSecretKey    string
	StripePremiumPrice string
	CheckoutSuccessURL string
	CheckoutCancelURL  string

	AdminUsername string
	AdminPassword string

	S3Endpoint      string
	S3Region        string
	S3AccessKey     string
	S3SecretKey     string
	S3Bucket        string
	S3PublicBaseURL string
	S3UsePathStyle  bool
	S3Prefix        string
}

// AssetStorageEnabled reports whether generated binary payloads can be
// mirrored to object storage. Without a bucket the gateway keeps provider
// URLs as-is and rejects binary-only results.
func (c Config) AssetStorageEnabled() bool {
	return c.S3Bucket != ""
}

// Load reads configuration from environment variables, applying sane defaults.
func Load() (Config, error) {
	if err := loadEnvFile(); err != nil {
		return Config{}, err
	}

	cfg := Config{
		HTTPListenAddr:       getEnv("HTTP_LISTEN_ADDR", ":8080"),
		SentryDSN:            os.Getenv("SENTRY_DSN"),
		CORSOrigins:          splitList(getEnv("CORS_ALLOWED_ORIGINS", "*")),
		ProviderBaseURL:      getEnv("PROVIDER_BASE_URL", "https://api.a4f.co/v1"),
		ProviderTimeout:      time.Second * time.Duration(getInt("PROVIDER_TIMEOUT_SECONDS", 120)),
		EnhanceModel:         getEnv("PROVIDER_ENHANCE_MODEL", "gpt-4o-mini"),
		AuthVerifyURL:        os.Getenv("AUTH_VERIFY_URL"),
		SessionCacheTTL:      time.Second * time.Duration(getInt("SESSION_CACHE_TTL_SECONDS", 300)),
		FreeGenerationsLimit: getInt("FREE_GENERATIONS_LIMIT", 50),
		StalePendingAfter:    time.Minute * time.Duration(getInt("STALE_PENDING_MINUTES", 30)),
		StripeSecretKey:      os.Getenv("STRIPE_SECRET_KEY"),
		StripePremiumPrice:   os.Getenv("STRIPE_PREMIUM_PRICE_ID"),
		CheckoutSuccessURL:   getEnv("CHECKOUT_SUCCESS_URL", "https://loveaihub.com/billing/success"),
		CheckoutCancelURL:    getEnv("CHECKOUT_CANCEL_URL", "https://loveaihub.com/pricing"),
		AdminUsername:        getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:        getEnv("ADMIN_PASSWORD", "change-me"),
		S3Endpoint:           os.Getenv("S3_ENDPOINT"),
		S3Region:             os.Getenv("S3_REGION"),
		S3AccessKey:          os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:          os.Getenv("S3_SECRET_KEY"),
		S3Bucket:             os.Getenv("S3_BUCKET"),
		S3PublicBaseURL:      os.Getenv("S3_PUBLIC_BASE_URL"),
		S3UsePathStyle:       getBool("S3_USE_PATH_STYLE", false),
		S3Prefix:             getEnv("S3_PREFIX", "generations"),
	}

	cfg.MySQLDSN = os.Getenv("MYSQL_DSN")
	cfg.ProviderAPIKey = os.Getenv("PROVIDER_API_KEY")
	cfg.AuthJWTSecret = os.Getenv("AUTH_JWT_SECRET")

	var missing []string
	if cfg.MySQLDSN == "" {
		missing = append(missing, "MYSQL_DSN")
	}
	if cfg.ProviderAPIKey == "" {
		missing = append(missing, "PROVIDER_API_KEY")
	}
	if cfg.AuthJWTSecret == "" {
		missing = append(missing, "AUTH_JWT_SECRET")
	}
	if cfg.StripeSecretKey != "" && cfg.StripePremiumPrice == "" {
		missing = append(missing, "STRIPE_PREMIUM_PRICE_ID")
	}
	if cfg.AssetStorageEnabled() {
		if cfg.S3Region == "" {
			missing = append(missing, "S3_REGION")
		}
		if cfg.S3AccessKey == "" {
			missing = append(missing, "S3_ACCESS_KEY")
		}
		if cfg.S3SecretKey == "" {
			missing = append(missing, "S3_SECRET_KEY")
		}
		if cfg.S3PublicBaseURL == "" {
			missing = append(missing, "S3_PUBLIC_BASE_URL")
		}
	}
	if len(missing) > 0 {
		return Config{}, fmt.Errorf("missing required environment variables: %v", missing)
	}

	cfg.ProviderBaseURL = strings.TrimRight(cfg.ProviderBaseURL, "/")

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func loadEnvFile() error {
	candidates := []string{}
	if custom, ok := os.LookupEnv("CONFIG_ENV_PATH"); ok && custom != "" {
		candidates = append(candidates, custom)
	}
	candidates = append(candidates,
		filepath.Join("configs", ".env"),
		".env",
	)

	for _, path := range candidates {
		info, err := os.Stat(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return fmt.Errorf("access env file %s: %w", path, err)
		}
		if info.IsDir() {
			continue
		}
		if err := godotenv.Overload(path); err != nil {
			return fmt.Errorf("load env file %s: %w", path, err)
		}
		return nil
	}
	// no env file is fine; run off the process environment
	return nil
}
