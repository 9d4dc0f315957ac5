package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	JWTSecret    string
	OTLPEndpoint string
	HTTPAddr     string

	GatewayBaseURL   string
	GatewaySecretKey string
	GatewayTimeout   time.Duration

	Currency         string
	MinPayableAmount int64
	SuccessURL       string
	FailURL          string

	ReconcileInterval time.Duration
	ReconcileAfter    time.Duration
	IdempotencyTTL    time.Duration
	ConfirmLockTTL    time.Duration

	RateLimitPerMinute   int
	ReleaseSeatsOnRefund bool
	RefundViaGateway     bool
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      getString("MONGO_DB", "checkout"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		JWTSecret:    os.Getenv("JWT_SECRET"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		HTTPAddr:     getString("HTTP_ADDR", ":8080"),

		GatewayBaseURL:   getString("GATEWAY_BASE_URL", "https://api.tosspayments.com"),
		GatewaySecretKey: os.Getenv("GATEWAY_SECRET_KEY"),
		GatewayTimeout:   getDuration("GATEWAY_TIMEOUT", 10*time.Second),

		Currency:         getString("CURRENCY", "KRW"),
		MinPayableAmount: getInt64("MIN_PAYABLE_AMOUNT", 100),
		SuccessURL:       os.Getenv("CHECKOUT_SUCCESS_URL"),
		FailURL:          os.Getenv("CHECKOUT_FAIL_URL"),

		ReconcileInterval: getDuration("RECONCILE_INTERVAL", time.Minute),
		ReconcileAfter:    getDuration("RECONCILE_AFTER", 30*time.Minute),
		IdempotencyTTL:    getDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		ConfirmLockTTL:    getDuration("CONFIRM_LOCK_TTL", 30*time.Second),

		RateLimitPerMinute:   int(getInt64("RATE_LIMIT_PER_MINUTE", 30)),
		ReleaseSeatsOnRefund: getBool("RELEASE_SEATS_ON_REFUND", true),
		RefundViaGateway:     getBool("REFUND_VIA_GATEWAY", true),
	}

	if cfg.MinPayableAmount < 0 {
		return nil, errors.Newf("MIN_PAYABLE_AMOUNT must not be negative, got %d", cfg.MinPayableAmount)
	}
	return cfg, nil
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d <= 0 {
		return def
	}
	return d
}

func getInt64(key string, def int64) int64 {
	n, err := strconv.ParseInt(os.Getenv(key), 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getBool(key string, def bool) bool {
	b, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return def
	}
	return b
}
