package config

import (
	"log"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	App       AppConfig       `mapstructure:"app"`
	DB        DBConfig        `mapstructure:"db"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Donations DonationsConfig `mapstructure:"donations"`
	Notify    NotifyConfig    `mapstructure:"notify"`
}

type AppConfig struct {
	Env           string `mapstructure:"env"`
	HttpPort      string `mapstructure:"http_port"`
	BaseURL       string `mapstructure:"base_url"`
	InternalToken string `mapstructure:"internal_token"`
}

type DBConfig struct {
	Host     string `mapstructure:"host"`
	Port     string `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
}

type RedisConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// ProvidersConfig holds the per-provider webhook secrets and API credentials.
// An empty webhook secret outside production means unverified pass-through,
// which the gateway logs loudly.
type ProvidersConfig struct {
	Banking      BankingProvider      `mapstructure:"banking"`
	Collection   CollectionProvider   `mapstructure:"collection"`
	Disbursement DisbursementProvider `mapstructure:"disbursement"`
}

type BankingProvider struct {
	VerificationKey string `mapstructure:"verification_key"` // PEM ES256 public key for webhook JWTs
}

type CollectionProvider struct {
	APIKey        string `mapstructure:"api_key"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	BaseURL       string `mapstructure:"base_url"`
}

type DisbursementProvider struct {
	PartnerID     string `mapstructure:"partner_id"`
	PartnerSecret string `mapstructure:"partner_secret"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	BaseURL       string `mapstructure:"base_url"`
}

// NotifyConfig points at the user-facing notification service. Leaving the
// endpoint empty disables outbound notifications.
type NotifyConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Token    string `mapstructure:"token"`
}

type DonationsConfig struct {
	MappingCacheTTLSeconds int    `mapstructure:"mapping_cache_ttl_seconds"`
	MinBatchTotal          string `mapstructure:"min_batch_total"` // decimal string, e.g. "1.00"
	MaxWebhookRetries      int    `mapstructure:"max_webhook_retries"`
}

var Global Config

func Init() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")

	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Printf("Warning: config file not found, using defaults and environment variables")
		} else {
			log.Fatalf("Fatal error reading config file: %s", err)
		}
	}

	if err := viper.Unmarshal(&Global); err != nil {
		log.Fatalf("Unable to decode config into struct: %v", err)
	}
}

func setDefaults() {
	viper.SetDefault("app.env", "development")
	viper.SetDefault("app.http_port", "8080")
	viper.SetDefault("app.base_url", "http://localhost:8080")

	viper.SetDefault("db.host", "localhost")
	viper.SetDefault("db.port", "5432")
	viper.SetDefault("db.user", "donations_user")
	viper.SetDefault("db.password", "donations_password")
	viper.SetDefault("db.name", "donations_db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.addr", "localhost:6379")
	viper.SetDefault("redis.db", 0)

	viper.SetDefault("providers.collection.base_url", "https://api.collection.example.com/v1")
	viper.SetDefault("providers.disbursement.base_url", "https://partners.disbursement.example.com/v1")

	viper.SetDefault("notify.endpoint", "")

	viper.SetDefault("donations.mapping_cache_ttl_seconds", 300)
	viper.SetDefault("donations.min_batch_total", "1.00")
	viper.SetDefault("donations.max_webhook_retries", 3)
}
