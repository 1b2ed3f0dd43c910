package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	awspkg "github.com/yashrajoria/storefront/pkg/aws"
)

const (
	PriceSourceDB     = "db"
	PriceSourceHTTP   = "http"
	PriceSourceDynamo = "dynamodb"

	dbSecretName = "cart/DB_CREDENTIALS"
)

// Config holds all configuration for the cart service.
type Config struct {
	Port   string
	AppEnv string

	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresHost     string
	PostgresPort     string
	PostgresSSLMode  string
	PostgresTimeZone string

	RedisURL       string
	PriceCacheTTL  time.Duration
	IdempotencyTTL time.Duration

	PriceSource         string
	ProductServiceURL   string
	DynamoProductsTable string

	KafkaBrokers       []string
	KafkaGroupID       string
	CartEventsTopic    string
	ProductEventsTopic string
	CartSNSTopicARN    string
	ProductEventsQueue string

	JWTSecret           string
	TrustGatewayHeaders bool
	AllowedOrigins      string
	RateLimitPerSecond  float64
	RateLimitBurst      int

	CloudWatchEnabled   bool
	CloudWatchNamespace string
	CloudWatchLogGroup  string
	UseAWSSecrets       bool
}

// SecretSource returns a JSON secret as a flat map.
type SecretSource interface {
	GetSecretMap(ctx context.Context, name string) (map[string]string, error)
}

// LoadConfig reads configuration from the environment (and .env when present)
// with an optional Secrets Manager override for the database credentials.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg, err := fromEnv()
	if err != nil {
		return nil, err
	}

	if cfg.UseAWSSecrets {
		awsCfg, err := awspkg.LoadAWSConfig(context.Background())
		if err != nil {
			return nil, err
		}
		if err := cfg.applySecrets(context.Background(), awspkg.NewSecretsClient(awsCfg)); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromEnv() (*Config, error) {
	priceTTL, err := getDuration("PRICE_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, err
	}
	idemTTL, err := getDuration("IDEMPOTENCY_TTL", 24*time.Hour)
	if err != nil {
		return nil, err
	}
	rps, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "20"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}
	burst, err := strconv.Atoi(getEnv("RATE_LIMIT_BURST", "40"))
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_BURST: %w", err)
	}

	return &Config{
		Port:   getEnv("PORT", "8086"),
		AppEnv: getEnv("APP_ENV", "development"),

		PostgresUser:     os.Getenv("POSTGRES_USER"),
		PostgresPassword: os.Getenv("POSTGRES_PASSWORD"),
		PostgresDB:       os.Getenv("POSTGRES_DB"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),
		PostgresTimeZone: getEnv("POSTGRES_TIMEZONE", "Asia/Kolkata"),

		RedisURL:       os.Getenv("REDIS_URL"),
		PriceCacheTTL:  priceTTL,
		IdempotencyTTL: idemTTL,

		PriceSource:         strings.ToLower(getEnv("PRICE_SOURCE", PriceSourceDB)),
		ProductServiceURL:   strings.TrimSuffix(os.Getenv("PRODUCT_SERVICE_URL"), "/"),
		DynamoProductsTable: os.Getenv("DDB_TABLE_PRODUCTS"),

		KafkaBrokers:       splitList(os.Getenv("KAFKA_BROKERS")),
		KafkaGroupID:       getEnv("KAFKA_GROUP_ID", "cart-service"),
		CartEventsTopic:    getEnv("CART_EVENTS_TOPIC", "cart.events"),
		ProductEventsTopic: getEnv("PRODUCT_EVENTS_TOPIC", "product.events"),
		CartSNSTopicARN:    os.Getenv("CART_SNS_TOPIC_ARN"),
		ProductEventsQueue: os.Getenv("PRODUCT_EVENTS_QUEUE_URL"),

		JWTSecret:           os.Getenv("JWT_SECRET"),
		TrustGatewayHeaders: os.Getenv("TRUST_GATEWAY_HEADERS") == "true",
		AllowedOrigins:      getEnv("ALLOWED_ORIGINS", "http://localhost:3000"),
		RateLimitPerSecond:  rps,
		RateLimitBurst:      burst,

		CloudWatchEnabled:   os.Getenv("CLOUDWATCH_ENABLED") == "true",
		CloudWatchNamespace: getEnv("CLOUDWATCH_NAMESPACE", "Storefront"),
		CloudWatchLogGroup:  getEnv("CLOUDWATCH_LOG_GROUP", "/storefront/services"),
		UseAWSSecrets:       os.Getenv("AWS_USE_SECRETS") == "true",
	}, nil
}

func (c *Config) applySecrets(ctx context.Context, src SecretSource) error {
	m, err := src.GetSecretMap(ctx, dbSecretName)
	if err != nil {
		return fmt.Errorf("load %s: %w", dbSecretName, err)
	}
	overrides := map[string]*string{
		"POSTGRES_USER":     &c.PostgresUser,
		"POSTGRES_PASSWORD": &c.PostgresPassword,
		"POSTGRES_DB":       &c.PostgresDB,
		"POSTGRES_HOST":     &c.PostgresHost,
		"POSTGRES_PORT":     &c.PostgresPort,
	}
	for key, field := range overrides {
		if v, ok := m[key]; ok && v != "" {
			*field = v
		}
	}
	return nil
}

// Validate reports the first missing or inconsistent setting.
func (c *Config) Validate() error {
	if c.PostgresUser == "" || c.PostgresPassword == "" || c.PostgresDB == "" || c.PostgresHost == "" {
		return fmt.Errorf("database config incomplete")
	}
	switch c.PriceSource {
	case PriceSourceDB:
	case PriceSourceHTTP:
		if c.ProductServiceURL == "" {
			return fmt.Errorf("PRODUCT_SERVICE_URL is required when PRICE_SOURCE=http")
		}
	case PriceSourceDynamo:
		if c.DynamoProductsTable == "" {
			return fmt.Errorf("DDB_TABLE_PRODUCTS is required when PRICE_SOURCE=dynamodb")
		}
	default:
		return fmt.Errorf("unknown PRICE_SOURCE %q", c.PriceSource)
	}
	if c.JWTSecret == "" && !c.TrustGatewayHeaders {
		return fmt.Errorf("JWT_SECRET is required unless TRUST_GATEWAY_HEADERS=true")
	}
	return nil
}

// DSN builds the Postgres connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf(
		"host=%s user=%s password=%s dbname=%s port=%s sslmode=%s TimeZone=%s",
		c.PostgresHost, c.PostgresUser, c.PostgresPassword, c.PostgresDB,
		c.PostgresPort, c.PostgresSSLMode, c.PostgresTimeZone,
	)
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
