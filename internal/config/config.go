/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables and an optional .env
 * file, providing a centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 * - github.com/shopspring/decimal: Fee amounts are parsed as decimals.
 */

package config

import (
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

const (
	defaultDomesticWireFee      = "25.00"
	defaultInternationalWireFee = "45.00"
	defaultCodeTTLSeconds       = 300
	defaultMaxResends           = 5
	defaultMaxLifetimeSeconds   = 900
	defaultResendLimit          = 3
	defaultConfirmLimit         = 10
	defaultAbandonedAgeMinutes  = 60
)

// Config holds all the configuration variables for the transfer-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort                   string `mapstructure:"SERVER_PORT"`
	StoreDriver                  string `mapstructure:"STORE_DRIVER"`
	DatabaseURL                  string `mapstructure:"DATABASE_URL"`
	DBMaxConns                   int32  `mapstructure:"DB_MAX_CONNS"`
	DBMinConns                   int32  `mapstructure:"DB_MIN_CONNS"`
	RedisURL                     string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix         string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	EventBroker                  string `mapstructure:"EVENT_BROKER"`
	RabbitMQURL                  string `mapstructure:"RABBITMQ_URL"`
	EventsExchange               string `mapstructure:"EVENTS_EXCHANGE"`
	DeliveryReportQueue          string `mapstructure:"NOTIFICATION_DELIVERY_QUEUE"`
	KafkaBrokers                 string `mapstructure:"KAFKA_BROKERS"`
	KafkaTopic                   string `mapstructure:"KAFKA_TOPIC"`
	JWTSecret                    string `mapstructure:"JWT_SECRET"`
	JWTIssuer                    string `mapstructure:"JWT_ISSUER"`
	CORSAllowedOrigins           string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	LogLevel                     string `mapstructure:"LOG_LEVEL"`
	LogFormat                    string `mapstructure:"LOG_FORMAT"`
	VerificationCodeTTLSeconds   int    `mapstructure:"VERIFICATION_CODE_TTL_SECONDS"`
	VerificationCodeHashCost     int    `mapstructure:"VERIFICATION_CODE_HASH_COST"`
	VerificationBypassUserIDs    string `mapstructure:"VERIFICATION_BYPASS_USER_IDS"`
	VerificationMaxResends       int    `mapstructure:"VERIFICATION_MAX_RESENDS"`
	VerificationMaxLifetimeSecs  int    `mapstructure:"VERIFICATION_MAX_LIFETIME_SECONDS"`
	VerificationResendPerMinute  int    `mapstructure:"VERIFICATION_RESEND_LIMIT_PER_MINUTE"`
	VerificationConfirmPerMinute int    `mapstructure:"VERIFICATION_CONFIRM_LIMIT_PER_MINUTE"`
	ChallengeSweepSchedule       string `mapstructure:"CHALLENGE_SWEEP_SCHEDULE"`
	AbandonedTransferSchedule    string `mapstructure:"ABANDONED_TRANSFER_SCHEDULE"`
	AbandonedTransferAgeMinutes  int    `mapstructure:"ABANDONED_TRANSFER_AGE_MINUTES"`

	DomesticWireFee      decimal.Decimal `mapstructure:"-"`
	InternationalWireFee decimal.Decimal `mapstructure:"-"`
}

// CodeTTL returns the verification window as a duration.
func (c Config) CodeTTL() time.Duration {
	return time.Duration(c.VerificationCodeTTLSeconds) * time.Second
}

// ChallengeLifetime bounds a transfer's challenge chain, resends included.
func (c Config) ChallengeLifetime() time.Duration {
	return time.Duration(c.VerificationMaxLifetimeSecs) * time.Second
}

// AbandonedTransferAge returns the age after which a pending verification is reported.
func (c Config) AbandonedTransferAge() time.Duration {
	return time.Duration(c.AbandonedTransferAgeMinutes) * time.Minute
}

// BypassUserIDs returns the allow-listed identities that skip code issuance.
func (c Config) BypassUserIDs() []string {
	return splitList(c.VerificationBypassUserIDs)
}

// AllowedOrigins returns the CORS origin allow-list.
func (c Config) AllowedOrigins() []string {
	return splitList(c.CORSAllowedOrigins)
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("STORE_DRIVER", "postgres")
	viper.SetDefault("DB_MAX_CONNS", 50)
	viper.SetDefault("DB_MIN_CONNS", 5)
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", "transfa:rate_limit")
	viper.SetDefault("EVENT_BROKER", "rabbitmq")
	viper.SetDefault("EVENTS_EXCHANGE", "transfa.events")
	viper.SetDefault("NOTIFICATION_DELIVERY_QUEUE", "transfer_service_delivery_reports")
	viper.SetDefault("KAFKA_TOPIC", "transfer_events")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "json")
	viper.SetDefault("VERIFICATION_CODE_TTL_SECONDS", defaultCodeTTLSeconds)
	viper.SetDefault("VERIFICATION_CODE_HASH_COST", 10)
	viper.SetDefault("VERIFICATION_MAX_RESENDS", defaultMaxResends)
	viper.SetDefault("VERIFICATION_MAX_LIFETIME_SECONDS", defaultMaxLifetimeSeconds)
	viper.SetDefault("VERIFICATION_RESEND_LIMIT_PER_MINUTE", defaultResendLimit)
	viper.SetDefault("VERIFICATION_CONFIRM_LIMIT_PER_MINUTE", defaultConfirmLimit)
	viper.SetDefault("DOMESTIC_WIRE_FEE", defaultDomesticWireFee)
	viper.SetDefault("INTERNATIONAL_WIRE_FEE", defaultInternationalWireFee)
	viper.SetDefault("CHALLENGE_SWEEP_SCHEDULE", "@every 1m")
	viper.SetDefault("ABANDONED_TRANSFER_SCHEDULE", "@every 15m")
	viper.SetDefault("ABANDONED_TRANSFER_AGE_MINUTES", defaultAbandonedAgeMinutes)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("STORE_DRIVER")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("DB_MAX_CONNS")
	_ = viper.BindEnv("DB_MIN_CONNS")
	_ = viper.BindEnv("REDIS_URL", "REDIS_URL", "TRANSFER_REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("EVENT_BROKER")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("EVENTS_EXCHANGE")
	_ = viper.BindEnv("NOTIFICATION_DELIVERY_QUEUE")
	_ = viper.BindEnv("KAFKA_BROKERS")
	_ = viper.BindEnv("KAFKA_TOPIC")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("JWT_ISSUER")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FORMAT")
	_ = viper.BindEnv("VERIFICATION_CODE_TTL_SECONDS")
	_ = viper.BindEnv("VERIFICATION_CODE_HASH_COST")
	_ = viper.BindEnv("VERIFICATION_BYPASS_USER_IDS")
	_ = viper.BindEnv("VERIFICATION_MAX_RESENDS")
	_ = viper.BindEnv("VERIFICATION_MAX_LIFETIME_SECONDS")
	_ = viper.BindEnv("VERIFICATION_RESEND_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("VERIFICATION_CONFIRM_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("DOMESTIC_WIRE_FEE")
	_ = viper.BindEnv("INTERNATIONAL_WIRE_FEE")
	_ = viper.BindEnv("CHALLENGE_SWEEP_SCHEDULE")
	_ = viper.BindEnv("ABANDONED_TRANSFER_SCHEDULE")
	_ = viper.BindEnv("ABANDONED_TRANSFER_AGE_MINUTES")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Warn().Err(err).Str("component", "config").Msg("failed to read config file; using environment values")
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.StoreDriver = strings.ToLower(strings.TrimSpace(config.StoreDriver))
	config.EventBroker = strings.ToLower(strings.TrimSpace(config.EventBroker))
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = "transfa:rate_limit"
	}

	config.DomesticWireFee = parseFee("DOMESTIC_WIRE_FEE", defaultDomesticWireFee)
	config.InternationalWireFee = parseFee("INTERNATIONAL_WIRE_FEE", defaultInternationalWireFee)

	if config.VerificationCodeTTLSeconds <= 0 {
		log.Warn().Str("component", "config").Int("value", config.VerificationCodeTTLSeconds).Msg("non-positive verification code ttl; using default")
		config.VerificationCodeTTLSeconds = defaultCodeTTLSeconds
	}
	if config.VerificationMaxResends <= 0 {
		config.VerificationMaxResends = defaultMaxResends
	}
	if config.VerificationMaxLifetimeSecs < config.VerificationCodeTTLSeconds {
		log.Warn().Str("component", "config").Int("value", config.VerificationMaxLifetimeSecs).Msg("challenge lifetime shorter than code ttl; using code ttl")
		config.VerificationMaxLifetimeSecs = config.VerificationCodeTTLSeconds
	}
	if config.VerificationResendPerMinute <= 0 {
		config.VerificationResendPerMinute = defaultResendLimit
	}
	if config.VerificationConfirmPerMinute <= 0 {
		config.VerificationConfirmPerMinute = defaultConfirmLimit
	}
	if config.AbandonedTransferAgeMinutes <= 0 {
		config.AbandonedTransferAgeMinutes = defaultAbandonedAgeMinutes
	}
	if config.DBMaxConns <= 0 {
		config.DBMaxConns = 50
	}
	if config.DBMinConns < 0 || config.DBMinConns > config.DBMaxConns {
		config.DBMinConns = 0
	}

	return
}

// parseFee reads a fee in whole currency units. Invalid or negative values fall back to
// the default with a warning.
func parseFee(key, fallback string) decimal.Decimal {
	raw := strings.TrimSpace(viper.GetString(key))
	if raw == "" {
		return decimal.RequireFromString(fallback)
	}
	fee, err := decimal.NewFromString(raw)
	if err != nil {
		log.Warn().Err(err).Str("component", "config").Str("key", key).Str("value", raw).Msg("invalid fee; using default")
		return decimal.RequireFromString(fallback)
	}
	if fee.IsNegative() {
		log.Warn().Str("component", "config").Str("key", key).Str("value", raw).Msg("negative fee configured; using default")
		return decimal.RequireFromString(fallback)
	}
	return fee.Round(2)
}

func splitList(raw string) []string {
	items := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
