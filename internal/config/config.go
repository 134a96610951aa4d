package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	API       APIConfig
	Provision ProvisionConfig
	Recon     ReconConfig
}

type ServerConfig struct {
	Port int
	Env  string // "development", "production"
}

type DatabaseConfig struct {
	Host    string
	Port    string
	Name    string
	User    string
	Pass    string
	Charset string
}

type RedisConfig struct {
	Addr string
	Pass string
	DB   int
}

type APIConfig struct {
	Key      string
	HashFile string
}

// ProvisionConfig tunes the orchestrator. Passed in at construction,
// never read from ambient state.
type ProvisionConfig struct {
	CreateRetries int
	RetryBackoff  time.Duration
	PanelTimeout  time.Duration
}

// ReconConfig tunes the reconciliation engine.
type ReconConfig struct {
	IntervalMinutes  int
	ProbeMinutes     int
	GracePeriod      time.Duration
	FailureThreshold int
	WarnUsagePercent int
	WarnExpiryWithin time.Duration
	PanelTimeout     time.Duration
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file (ignore error if missing)
	_ = godotenv.Load()

	viper.AutomaticEnv()

	// Set defaults
	viper.SetDefault("APP_PORT", 8080)
	viper.SetDefault("APP_ENV", "production")
	viper.SetDefault("DB_HOST", "localhost")
	viper.SetDefault("DB_PORT", "3306")
	viper.SetDefault("DB_CHARSET", "utf8mb4")
	viper.SetDefault("REDIS_ADDR", "localhost:6379")
	viper.SetDefault("REDIS_DB", 0)
	viper.SetDefault("PROVISION_CREATE_RETRIES", 3)
	viper.SetDefault("PROVISION_RETRY_BACKOFF", "2s")
	viper.SetDefault("PROVISION_PANEL_TIMEOUT", "30s")
	viper.SetDefault("RECON_INTERVAL_MINUTES", 5)
	viper.SetDefault("RECON_PROBE_MINUTES", 10)
	viper.SetDefault("RECON_GRACE_PERIOD", "72h")
	viper.SetDefault("RECON_FAILURE_THRESHOLD", 5)
	viper.SetDefault("RECON_WARN_USAGE_PERCENT", 85)
	viper.SetDefault("RECON_WARN_EXPIRY_WITHIN", "72h")
	viper.SetDefault("RECON_PANEL_TIMEOUT", "30s")

	cfg := &Config{
		Server: ServerConfig{
			Port: viper.GetInt("APP_PORT"),
			Env:  viper.GetString("APP_ENV"),
		},
		Database: DatabaseConfig{
			Host:    viper.GetString("DB_HOST"),
			Port:    viper.GetString("DB_PORT"),
			Name:    viper.GetString("DB_NAME"),
			User:    viper.GetString("DB_USER"),
			Pass:    viper.GetString("DB_PASS"),
			Charset: viper.GetString("DB_CHARSET"),
		},
		Redis: RedisConfig{
			Addr: viper.GetString("REDIS_ADDR"),
			Pass: viper.GetString("REDIS_PASS"),
			DB:   viper.GetInt("REDIS_DB"),
		},
		API: APIConfig{
			Key:      viper.GetString("API_KEY"),
			HashFile: viper.GetString("API_HASH_FILE"),
		},
		Provision: ProvisionConfig{
			CreateRetries: viper.GetInt("PROVISION_CREATE_RETRIES"),
			RetryBackoff:  viper.GetDuration("PROVISION_RETRY_BACKOFF"),
			PanelTimeout:  viper.GetDuration("PROVISION_PANEL_TIMEOUT"),
		},
		Recon: ReconConfig{
			IntervalMinutes:  viper.GetInt("RECON_INTERVAL_MINUTES"),
			ProbeMinutes:     viper.GetInt("RECON_PROBE_MINUTES"),
			GracePeriod:      viper.GetDuration("RECON_GRACE_PERIOD"),
			FailureThreshold: viper.GetInt("RECON_FAILURE_THRESHOLD"),
			WarnUsagePercent: viper.GetInt("RECON_WARN_USAGE_PERCENT"),
			WarnExpiryWithin: viper.GetDuration("RECON_WARN_EXPIRY_WITHIN"),
			PanelTimeout:     viper.GetDuration("RECON_PANEL_TIMEOUT"),
		},
	}

	if cfg.Database.Name == "" {
		log.Println("WARNING: DB_NAME is not set")
	}
	if cfg.API.Key == "" {
		log.Println("WARNING: API_KEY is not set")
	}

	return cfg, nil
}

// DSN returns the MySQL DSN string for GORM.
func (d *DatabaseConfig) DSN() string {
	return d.User + ":" + d.Pass + "@tcp(" + d.Host + ":" + d.Port + ")/" + d.Name + "?charset=" + d.Charset + "&parseTime=True&loc=Local"
}
