package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	StorageMemory   = "memory"
	StoragePostgres = "postgres"
)

// Configはアプリ全体の設定
type Config struct {
	Port     string // サーバーポート（8080）
	LogLevel string // debug/info/warn/error

	StorageDriver string // postgres / memory
	DatabaseURL   string // あればPOSTGRES_*より優先

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     int
	PostgresSSLMode  string

	JWTSecret string // JWT署名シークレット

	GatewayBaseURL       string
	GatewayAPIKey        string
	GatewayWebhookSecret string
	GatewayTimeout       time.Duration // 1リクエストの上限
	GatewayMaxRetries    int           // 一時エラー時の最大試行回数
	WebhookTolerance     time.Duration // 署名タイムスタンプの許容ずれ

	Currency              string
	TaxRate               decimal.Decimal // 0.10 = 10%
	ShippingFlat          int64           // 最小通貨単位
	FreeShippingThreshold int64           // 0なら常に送料あり

	RedisAddr    string   // 空ならWebhookの重複排除はDBのみ
	KafkaBrokers []string // 空ならイベントはログ出力のみ
	KafkaTopic   string

	OutboxPollInterval time.Duration
	RecoveryInterval   time.Duration
	RecoveryStaleAfter time.Duration
}

// Loadは環境変数
func Load() (Config, error) {
	cfg := Config{
		Port:     os.Getenv("PORT"),
		LogLevel: getenv("LOG_LEVEL", "info"),

		StorageDriver: getenv("STORAGE_DRIVER", StoragePostgres),
		DatabaseURL:   os.Getenv("DATABASE_URL"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     os.Getenv("POSTGRES_HOST"),
		PostgresSSLMode:  getenv("POSTGRES_SSLMODE", "disable"),

		JWTSecret: os.Getenv("JWT_SECRET"),

		GatewayBaseURL:       strings.TrimRight(os.Getenv("GATEWAY_BASE_URL"), "/"),
		GatewayAPIKey:        os.Getenv("GATEWAY_API_KEY"),
		GatewayWebhookSecret: os.Getenv("GATEWAY_WEBHOOK_SECRET"),

		Currency: strings.ToUpper(getenv("CURRENCY", "USD")),

		RedisAddr:    os.Getenv("REDIS_ADDR"),
		KafkaBrokers: splitCSV(os.Getenv("KAFKA_BROKERS")),
		KafkaTopic:   getenv("KAFKA_TOPIC", "checkout-events"),
	}

	var err error
	if cfg.GatewayTimeout, err = durationOr("GATEWAY_TIMEOUT", 10*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.GatewayMaxRetries, err = intOr("GATEWAY_MAX_RETRIES", 3); err != nil {
		return Config{}, err
	}
	if cfg.WebhookTolerance, err = durationOr("WEBHOOK_TOLERANCE", 5*time.Minute); err != nil {
		return Config{}, err
	}
	if cfg.OutboxPollInterval, err = durationOr("OUTBOX_POLL_INTERVAL", time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RecoveryInterval, err = durationOr("RECOVERY_INTERVAL", 30*time.Second); err != nil {
		return Config{}, err
	}
	if cfg.RecoveryStaleAfter, err = durationOr("RECOVERY_STALE_AFTER", 2*time.Minute); err != nil {
		return Config{}, err
	}

	taxRate, err := decimal.NewFromString(getenv("TAX_RATE", "0"))
	if err != nil {
		return Config{}, fmt.Errorf("TAX_RATE must be decimal: %w", err)
	}
	if taxRate.IsNegative() {
		return Config{}, fmt.Errorf("TAX_RATE must not be negative")
	}
	cfg.TaxRate = taxRate

	shipping, err := intOr("SHIPPING_FLAT", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.ShippingFlat = int64(shipping)
	threshold, err := intOr("FREE_SHIPPING_THRESHOLD", 0)
	if err != nil {
		return Config{}, err
	}
	cfg.FreeShippingThreshold = int64(threshold)

	//必須チェック
	if cfg.Port == "" {
		return Config{}, fmt.Errorf("PORT is required")
	}
	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("JWT_SECRET is required")
	}
	if cfg.GatewayBaseURL == "" {
		return Config{}, fmt.Errorf("GATEWAY_BASE_URL is required")
	}
	if cfg.GatewayAPIKey == "" {
		return Config{}, fmt.Errorf("GATEWAY_API_KEY is required")
	}
	if cfg.GatewayWebhookSecret == "" {
		return Config{}, fmt.Errorf("GATEWAY_WEBHOOK_SECRET is required")
	}
	if len(cfg.Currency) != 3 {
		return Config{}, fmt.Errorf("CURRENCY must be ISO 4217 code")
	}
	if cfg.GatewayMaxRetries < 1 {
		return Config{}, fmt.Errorf("GATEWAY_MAX_RETRIES must be >= 1")
	}

	switch cfg.StorageDriver {
	case StorageMemory:
	case StoragePostgres:
		if cfg.DatabaseURL != "" {
			break
		}
		pgPort, err := mustAtoi("POSTGRES_PORT")
		if err != nil {
			return Config{}, err
		}
		cfg.PostgresPort = pgPort
		if cfg.PostgresUser == "" {
			return Config{}, fmt.Errorf("POSTGRES_USER is required")
		}
		if cfg.PostgresPassword == "" {
			return Config{}, fmt.Errorf("POSTGRES_PASSWORD is required")
		}
		if cfg.PostgresDB == "" {
			return Config{}, fmt.Errorf("POSTGRES_DB is required")
		}
		if cfg.PostgresHost == "" {
			return Config{}, fmt.Errorf("POSTGRES_HOST is required")
		}
	default:
		return Config{}, fmt.Errorf("STORAGE_DRIVER must be %q or %q", StoragePostgres, StorageMemory)
	}

	return cfg, nil
}

// DATABASE_URL があれば最優先で使う
func (c Config) DSN() string {
	if c.DatabaseURL != "" {
		return c.DatabaseURL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresUser, c.PostgresPassword, c.PostgresDB, c.PostgresSSLMode,
	)
}

func mustAtoi(key string) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, fmt.Errorf("%s is required", key)
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be number: %w", key, err)
	}
	return i, nil
}

func intOr(key string, def int) (int, error) {
	if os.Getenv(key) == "" {
		return def, nil
	}
	return mustAtoi(key)
}

func durationOr(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be duration: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be positive", key)
	}
	return d, nil
}

func getenv(key string, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}

func splitCSV(v string) []string {
	out := []string{}
	for _, s := range strings.Split(v, ",") {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}
