package config

import (
	"os"
	"strings"

	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server    ServerConfig
	SQLite    SQLiteConfig
	Redis     RedisConfig
	JWT       JWTConfig
	RateLimit RateLimitConfig
	Limits    LimitsConfig
	Suno      SunoConfig
	PayPal    PayPalConfig
	R2        R2Config
	Zitadel   ZitadelConfig
	Mailer    MailerConfig
	Secrets   SecretsConfig
	Gateway   GatewayConfig
}

type ServerConfig struct {
	Port      string
	Env       string
	LogLevel  string
	ApiDomain string
	// PublicURL is the externally reachable base URL used to build
	// provider callback URLs and buyer download links.
	PublicURL string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type JWTConfig struct {
	Secret     string
	Expiration int // hours
}

type RateLimitConfig struct {
	GeneratePerHour int
	PurchasePerMin  int
	DownloadPerMin  int
}

// LimitsConfig holds the per-agent fulfillment invariants.
type LimitsConfig struct {
	RequestsPerHour int
	BeatsPerDay     int
	PriceFloor      float64
	PlatformFeePct  float64
	DownloadCap     int
}

type SunoConfig struct {
	BaseURL string
	// APIKey is the platform fallback key used only for opportunistic
	// re-triggers; generation always uses the agent-supplied key.
	APIKey string
	Model  string
}

type PayPalConfig struct {
	BaseURL  string
	ClientID string
	Secret   string
	Currency string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

type ZitadelConfig struct {
	Domain   string
	ClientID string
	Issuer   string
}

type MailerConfig struct {
	ServiceURL string
	APIKey     string
	FromName   string
}

type SecretsConfig struct {
	// CallbackSecret is the pre-shared secret every provider webhook must
	// present before any parsing happens.
	CallbackSecret string
	// DownloadSecret signs download capability tokens.
	DownloadSecret string
}

type GatewayConfig struct {
	Enabled bool
}

func Load() (*Config, error) {
	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("SUNO_API_KEY")
	readSecret("PAYPAL_CLIENT_SECRET")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")
	readSecret("ZITADEL_CLIENT_ID")
	readSecret("CALLBACK_SECRET")
	readSecret("DOWNLOAD_TOKEN_SECRET")
	readSecret("MAILER_API_KEY")

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	// Environment variables
	viper.AutomaticEnv()

	// Bind environment variables with underscores to nested config keys
	_ = viper.BindEnv("server.port", "SERVER_PORT")
	_ = viper.BindEnv("server.env", "SERVER_ENV")
	_ = viper.BindEnv("server.log_level", "LOG_LEVEL")
	_ = viper.BindEnv("server.api_domain", "API_DOMAIN")
	_ = viper.BindEnv("server.public_url", "PUBLIC_URL")
	_ = viper.BindEnv("sqlite.path", "SQLITE_PATH")
	_ = viper.BindEnv("redis.addr", "REDIS_ADDR")
	_ = viper.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = viper.BindEnv("redis.db", "REDIS_DB")
	_ = viper.BindEnv("jwt.secret", "JWT_SECRET")
	_ = viper.BindEnv("jwt.expiration", "JWT_EXPIRATION")
	_ = viper.BindEnv("suno.base_url", "SUNO_BASE_URL")
	_ = viper.BindEnv("suno.api_key", "SUNO_API_KEY")
	_ = viper.BindEnv("suno.model", "SUNO_MODEL")
	_ = viper.BindEnv("paypal.base_url", "PAYPAL_BASE_URL")
	_ = viper.BindEnv("paypal.client_id", "PAYPAL_CLIENT_ID")
	_ = viper.BindEnv("paypal.secret", "PAYPAL_CLIENT_SECRET")
	_ = viper.BindEnv("paypal.currency", "PAYPAL_CURRENCY")
	_ = viper.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = viper.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = viper.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = viper.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = viper.BindEnv("r2.public_url", "R2_PUBLIC_URL")
	_ = viper.BindEnv("zitadel.domain", "ZITADEL_DOMAIN")
	_ = viper.BindEnv("zitadel.client_id", "ZITADEL_CLIENT_ID")
	_ = viper.BindEnv("zitadel.issuer", "ZITADEL_ISSUER")
	_ = viper.BindEnv("mailer.service_url", "MAILER_SERVICE_URL")
	_ = viper.BindEnv("mailer.api_key", "MAILER_API_KEY")
	_ = viper.BindEnv("mailer.from_name", "MAILER_FROM_NAME")
	_ = viper.BindEnv("secrets.callback", "CALLBACK_SECRET")
	_ = viper.BindEnv("secrets.download", "DOWNLOAD_TOKEN_SECRET")
	_ = viper.BindEnv("ratelimit.generate_per_hour", "RATELIMIT_GENERATE_PER_HOUR")
	_ = viper.BindEnv("limits.requests_per_hour", "LIMITS_REQUESTS_PER_HOUR")
	_ = viper.BindEnv("limits.beats_per_day", "LIMITS_BEATS_PER_DAY")
	_ = viper.BindEnv("limits.price_floor", "LIMITS_PRICE_FLOOR")
	_ = viper.BindEnv("limits.platform_fee_pct", "LIMITS_PLATFORM_FEE_PCT")
	_ = viper.BindEnv("limits.download_cap", "LIMITS_DOWNLOAD_CAP")
	_ = viper.BindEnv("gateway.enabled", "GATEWAY_ENABLED")

	// Defaults
	viper.SetDefault("server.port", "8000")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("server.log_level", "info")
	viper.SetDefault("server.public_url", "http://localhost:8000")
	viper.SetDefault("sqlite.path", "./data/beatforge.db")
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("jwt.secret", "change-me-in-production")
	viper.SetDefault("jwt.expiration", 24)
	viper.SetDefault("ratelimit.generate_per_hour", 30)
	viper.SetDefault("ratelimit.purchase_per_min", 10)
	viper.SetDefault("ratelimit.download_per_min", 30)
	viper.SetDefault("limits.requests_per_hour", 5)
	viper.SetDefault("limits.beats_per_day", 20)
	viper.SetDefault("limits.price_floor", 0.99)
	viper.SetDefault("limits.platform_fee_pct", 15.0)
	viper.SetDefault("limits.download_cap", 5)

	// Suno defaults
	viper.SetDefault("suno.base_url", "https://api.sunoapi.org")
	viper.SetDefault("suno.model", "V3_5")

	// PayPal defaults (sandbox)
	viper.SetDefault("paypal.base_url", "https://api-m.sandbox.paypal.com")
	viper.SetDefault("paypal.currency", "USD")

	// Gateway defaults
	viper.SetDefault("gateway.enabled", false)

	// Try to read config file (optional)
	_ = viper.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:      viper.GetString("server.port"),
			Env:       viper.GetString("server.env"),
			LogLevel:  viper.GetString("server.log_level"),
			ApiDomain: viper.GetString("server.api_domain"),
			PublicURL: strings.TrimRight(viper.GetString("server.public_url"), "/"),
		},
		SQLite: SQLiteConfig{
			Path: viper.GetString("sqlite.path"),
		},
		Redis: RedisConfig{
			Addr:     viper.GetString("redis.addr"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
		JWT: JWTConfig{
			Secret:     viper.GetString("jwt.secret"),
			Expiration: viper.GetInt("jwt.expiration"),
		},
		RateLimit: RateLimitConfig{
			GeneratePerHour: viper.GetInt("ratelimit.generate_per_hour"),
			PurchasePerMin:  viper.GetInt("ratelimit.purchase_per_min"),
			DownloadPerMin:  viper.GetInt("ratelimit.download_per_min"),
		},
		Limits: LimitsConfig{
			RequestsPerHour: viper.GetInt("limits.requests_per_hour"),
			BeatsPerDay:     viper.GetInt("limits.beats_per_day"),
			PriceFloor:      viper.GetFloat64("limits.price_floor"),
			PlatformFeePct:  viper.GetFloat64("limits.platform_fee_pct"),
			DownloadCap:     viper.GetInt("limits.download_cap"),
		},
		Suno: SunoConfig{
			BaseURL: viper.GetString("suno.base_url"),
			APIKey:  viper.GetString("suno.api_key"),
			Model:   viper.GetString("suno.model"),
		},
		PayPal: PayPalConfig{
			BaseURL:  viper.GetString("paypal.base_url"),
			ClientID: viper.GetString("paypal.client_id"),
			Secret:   viper.GetString("paypal.secret"),
			Currency: viper.GetString("paypal.currency"),
		},
		R2: R2Config{
			AccountID:       viper.GetString("r2.account_id"),
			AccessKeyID:     viper.GetString("r2.access_key_id"),
			SecretAccessKey: viper.GetString("r2.secret_access_key"),
			BucketName:      viper.GetString("r2.bucket_name"),
			PublicURL:       viper.GetString("r2.public_url"),
		},
		Zitadel: ZitadelConfig{
			Domain:   viper.GetString("zitadel.domain"),
			ClientID: viper.GetString("zitadel.client_id"),
			Issuer:   viper.GetString("zitadel.issuer"),
		},
		Mailer: MailerConfig{
			ServiceURL: viper.GetString("mailer.service_url"),
			APIKey:     viper.GetString("mailer.api_key"),
			FromName:   viper.GetString("mailer.from_name"),
		},
		Secrets: SecretsConfig{
			CallbackSecret: viper.GetString("secrets.callback"),
			DownloadSecret: viper.GetString("secrets.download"),
		},
		Gateway: GatewayConfig{
			Enabled: viper.GetBool("gateway.enabled"),
		},
	}

	return cfg, nil
}
