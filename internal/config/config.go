/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Config holds all the configuration variables for the panel-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort            string  `mapstructure:"SERVER_PORT"`
	DatabaseURL           string  `mapstructure:"DATABASE_URL"`
	RedisURL              string  `mapstructure:"REDIS_URL"`
	RabbitMQURL           string  `mapstructure:"RABBITMQ_URL"`
	ProviderAPIURL        string  `mapstructure:"PROVIDER_API_URL"`
	ProviderAPIKey        string  `mapstructure:"PROVIDER_API_KEY"`
	PaystackBaseURL       string  `mapstructure:"PAYSTACK_BASE_URL"`
	PaystackSecretKey     string  `mapstructure:"PAYSTACK_SECRET_KEY"`
	PaystackWebhookSecret string  `mapstructure:"PAYSTACK_WEBHOOK_SECRET"`
	AuthJWKSURL           string  `mapstructure:"AUTH_JWKS_URL"`
	InternalAPIKey        string  `mapstructure:"INTERNAL_API_KEY"`
	TopupCallbackURL      string  `mapstructure:"TOPUP_CALLBACK_URL"`
	USDRate               float64 `mapstructure:"USD_NGN_RATE"`
	MarginPercent         float64 `mapstructure:"MARGIN_PERCENT"`
	CatalogCacheTTLSecs   int     `mapstructure:"CATALOG_CACHE_TTL_SECONDS"`
	PlaceOrderTimeoutSecs int     `mapstructure:"PLACE_ORDER_TIMEOUT_SECONDS"`
	StatusTimeoutSecs     int     `mapstructure:"STATUS_TIMEOUT_SECONDS"`
	SyncGraceMinutes      int     `mapstructure:"SYNC_GRACE_MINUTES"`
	SyncBatchSize         int     `mapstructure:"SYNC_BATCH_SIZE"`
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
	viper.SetDefault("PROVIDER_API_URL", "https://justanotherpanel.com/api/v2")
	viper.SetDefault("PAYSTACK_BASE_URL", "https://api.paystack.co")
	viper.SetDefault("USD_NGN_RATE", 1700.0)
	viper.SetDefault("MARGIN_PERCENT", 20.0)
	viper.SetDefault("CATALOG_CACHE_TTL_SECONDS", 300)
	viper.SetDefault("PLACE_ORDER_TIMEOUT_SECONDS", 20)
	viper.SetDefault("STATUS_TIMEOUT_SECONDS", 10)
	viper.SetDefault("SYNC_GRACE_MINUTES", 10)
	viper.SetDefault("SYNC_BATCH_SIZE", 50)

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("PROVIDER_API_URL", "PROVIDER_API_URL", "JAP_API_URL")
	_ = viper.BindEnv("PROVIDER_API_KEY", "PROVIDER_API_KEY", "JAP_API_KEY")
	_ = viper.BindEnv("PAYSTACK_BASE_URL")
	_ = viper.BindEnv("PAYSTACK_SECRET_KEY")
	_ = viper.BindEnv("PAYSTACK_WEBHOOK_SECRET")
	_ = viper.BindEnv("AUTH_JWKS_URL")
	_ = viper.BindEnv("INTERNAL_API_KEY", "INTERNAL_API_KEY", "PANEL_SERVICE_INTERNAL_API_KEY")
	_ = viper.BindEnv("TOPUP_CALLBACK_URL")
	_ = viper.BindEnv("USD_NGN_RATE")
	_ = viper.BindEnv("MARGIN_PERCENT")
	_ = viper.BindEnv("CATALOG_CACHE_TTL_SECONDS")
	_ = viper.BindEnv("PLACE_ORDER_TIMEOUT_SECONDS")
	_ = viper.BindEnv("STATUS_TIMEOUT_SECONDS")
	_ = viper.BindEnv("SYNC_GRACE_MINUTES")
	_ = viper.BindEnv("SYNC_BATCH_SIZE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			log.Printf("level=warn component=config msg=\"failed to read config file; using environment values\" err=%v", err)
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
	if strings.TrimSpace(config.InternalAPIKey) == "" {
		config.InternalAPIKey = strings.TrimSpace(os.Getenv("PANEL_SERVICE_INTERNAL_API_KEY"))
	}
	// The webhook secret falls back to the API secret key, matching the
	// gateway's documented behavior.
	if strings.TrimSpace(config.PaystackWebhookSecret) == "" {
		config.PaystackWebhookSecret = config.PaystackSecretKey
	}

	if config.USDRate <= 0 {
		log.Printf("level=warn component=config msg=\"non-positive exchange rate configured; using default\" usd_rate=%f", config.USDRate)
		config.USDRate = 1700
	}
	if config.MarginPercent < 0 {
		log.Printf("level=warn component=config msg=\"negative margin configured; coercing to zero\" margin_percent=%f", config.MarginPercent)
		config.MarginPercent = 0
	}
	if config.CatalogCacheTTLSecs <= 0 {
		config.CatalogCacheTTLSecs = 300
	}
	if config.PlaceOrderTimeoutSecs <= 0 {
		config.PlaceOrderTimeoutSecs = 20
	}
	if config.StatusTimeoutSecs <= 0 {
		config.StatusTimeoutSecs = 10
	}
	if config.SyncGraceMinutes <= 0 {
		config.SyncGraceMinutes = 10
	}
	if config.SyncBatchSize <= 0 {
		config.SyncBatchSize = 50
	}

	return
}
