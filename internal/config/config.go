package config

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Log       LogConfig
	License   LicenseConfig
	Auth      AuthConfig
	RateLimit RateLimitConfig
	Kafka     KafkaConfig
	Worker    WorkerConfig
}

type ServerConfig struct {
	Port           string        `mapstructure:"port"`
	ReadTimeout    time.Duration `mapstructure:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"writeTimeout"`
	IdleTimeout    time.Duration `mapstructure:"idleTimeout"`
	ShutdownPeriod time.Duration `mapstructure:"shutdownPeriod"`
	AllowedOrigins []string      `mapstructure:"allowedOrigins"`
}

type DatabaseConfig struct {
	URL             string        `mapstructure:"url"`
	MaxOpenConns    int           `mapstructure:"maxOpenConns"`
	MaxIdleConns    int           `mapstructure:"maxIdleConns"`
	ConnMaxLifetime time.Duration `mapstructure:"connMaxLifetime"`
	RunMigrations   bool          `mapstructure:"runMigrations"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LicenseConfig drives token issuance and concurrent-use detection.
type LicenseConfig struct {
	TokenSecret         string        `mapstructure:"tokenSecret"`
	TokenTTL            time.Duration `mapstructure:"tokenTTL"`
	ConcurrentUseWindow time.Duration `mapstructure:"concurrentUseWindow"`
}

// AuthConfig covers admin authentication. When OIDCIssuerURL is set, bearer tokens are
// verified against the issuer instead of the local HS256 secret.
type AuthConfig struct {
	JWTSecret     string        `mapstructure:"jwtSecret"`
	JWTTTL        time.Duration `mapstructure:"jwtTTL"`
	OIDCIssuerURL string        `mapstructure:"oidcIssuerURL"`
	OIDCClientID  string        `mapstructure:"oidcClientID"`
	AdminUsername string        `mapstructure:"adminUsername"`
	AdminPassword string        `mapstructure:"adminPassword"`
}

type RateLimitConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Window      time.Duration `mapstructure:"window"`
	MaxRequests int           `mapstructure:"maxRequests"`
}

type KafkaConfig struct {
	Brokers    []string `mapstructure:"brokers"`
	AlertTopic string   `mapstructure:"alertTopic"`
}

type WorkerConfig struct {
	Concurrency    int           `mapstructure:"concurrency"`
	TokenRetention time.Duration `mapstructure:"tokenRetention"`
	UsageRetention time.Duration `mapstructure:"usageRetention"`
	PurgeSchedule  string        `mapstructure:"purgeSchedule"`
}

func LoadConfig(configPath string) (*Config, error) {
	err := godotenv.Load()
	if err != nil {
		log.Println("No .env file found or error loading it, relying on environment variables and config file")
	}

	v := viper.New()

	v.SetDefault("server.port", "8080")
	v.SetDefault("server.readTimeout", 5*time.Second)
	v.SetDefault("server.writeTimeout", 10*time.Second)
	v.SetDefault("server.idleTimeout", 120*time.Second)
	v.SetDefault("server.shutdownPeriod", 15*time.Second)
	v.SetDefault("server.allowedOrigins", []string{"http://localhost:3000"})

	v.SetDefault("database.url", "")
	v.SetDefault("database.maxOpenConns", 25)
	v.SetDefault("database.maxIdleConns", 5)
	v.SetDefault("database.connMaxLifetime", 5*time.Minute)
	v.SetDefault("database.runMigrations", true)

	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")

	v.SetDefault("license.tokenSecret", "")
	v.SetDefault("license.tokenTTL", 7*24*time.Hour)
	v.SetDefault("license.concurrentUseWindow", time.Hour)

	v.SetDefault("auth.jwtTTL", 24*time.Hour)
	v.SetDefault("auth.jwtSecret", "")
	v.SetDefault("auth.oidcIssuerURL", "")
	v.SetDefault("auth.oidcClientID", "")
	v.SetDefault("auth.adminUsername", "admin")
	v.SetDefault("auth.adminPassword", "")

	v.SetDefault("rateLimit.enabled", true)
	v.SetDefault("rateLimit.window", time.Minute)
	v.SetDefault("rateLimit.maxRequests", 60)

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.alertTopic", "security.alerts")

	v.SetDefault("worker.concurrency", 5)
	v.SetDefault("worker.tokenRetention", 30*24*time.Hour)
	v.SetDefault("worker.usageRetention", 90*24*time.Hour)
	v.SetDefault("worker.purgeSchedule", "@every 6h")

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AllowEmptyEnv(true)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			log.Printf("Warning: could not read config file: %s. Error: %v\n", configPath, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.License.TokenSecret == "" {
		return errors.New("license.tokenSecret is required")
	}
	if c.License.TokenTTL <= 0 {
		return fmt.Errorf("license.tokenTTL must be positive, got %s", c.License.TokenTTL)
	}
	if c.Auth.OIDCIssuerURL == "" && c.Auth.JWTSecret == "" {
		return errors.New("either auth.oidcIssuerURL or auth.jwtSecret must be set")
	}
	if c.RateLimit.Enabled && c.RateLimit.MaxRequests <= 0 {
		return fmt.Errorf("rateLimit.maxRequests must be positive, got %d", c.RateLimit.MaxRequests)
	}
	return nil
}
