package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config holds the full service configuration.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`

	// Provider selects the model gateway adapter: "anthropic" or "openai".
	Provider    string  `mapstructure:"provider"`
	Model       string  `mapstructure:"model"`
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	MaxTokens   int64   `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`

	// Store selects the conversation store backend:
	// "memory", "redis", "postgres" or "mongo".
	Store    string         `mapstructure:"store"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Postgres PostgresConfig `mapstructure:"postgres"`
	Mongo    MongoConfig    `mapstructure:"mongo"`

	// MCPEndpoints lists the capability sources queried during tool
	// discovery, in priority order.
	MCPEndpoints []string `mapstructure:"mcp_endpoints"`

	// Guard caps for one conversation turn.
	MaxCallsPerTool int `mapstructure:"max_calls_per_tool"`
	MaxTotalCalls   int `mapstructure:"max_total_calls"`

	// HistoryTokenBudget bounds the normalized history sent to the provider.
	HistoryTokenBudget int `mapstructure:"history_token_budget"`
}

// RedisConfig holds Redis store settings.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Prefix   string `mapstructure:"prefix"`
}

// PostgresConfig holds PostgreSQL store settings.
type PostgresConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
}

// MongoConfig holds MongoDB store settings.
type MongoConfig struct {
	URI        string `mapstructure:"uri"`
	Database   string `mapstructure:"database"`
	Collection string `mapstructure:"collection"`
}

// Load reads configuration from the optional file path plus SHOPCHAT_*
// environment variables and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8080")
	v.SetDefault("provider", "anthropic")
	v.SetDefault("max_tokens", 4096)
	v.SetDefault("temperature", 0.7)
	v.SetDefault("store", "memory")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.prefix", "shopchat:conv:")
	v.SetDefault("postgres.host", "localhost")
	v.SetDefault("postgres.port", 5432)
	v.SetDefault("postgres.sslmode", "disable")
	v.SetDefault("mongo.uri", "mongodb://localhost:27017")
	v.SetDefault("mongo.database", "shopchat")
	v.SetDefault("mongo.collection", "turns")
	v.SetDefault("max_calls_per_tool", 2)
	v.SetDefault("max_total_calls", 5)
	v.SetDefault("history_token_budget", 24000)

	v.SetEnvPrefix("SHOPCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	v := NewValidator()

	v.RequireNonEmpty("listen_addr", c.ListenAddr)
	v.ValidateOneOf("provider", c.Provider, "anthropic", "openai")
	v.ValidateOneOf("store", c.Store, "memory", "redis", "postgres", "mongo")
	v.RequirePositive("max_calls_per_tool", c.MaxCallsPerTool)
	v.RequirePositive("max_total_calls", c.MaxTotalCalls)
	v.RequirePositive("history_token_budget", c.HistoryTokenBudget)
	v.ValidateFloatRange("temperature", c.Temperature, 0.0, 2.0)

	switch c.Store {
	case "redis":
		v.RequireNonEmpty("redis.addr", c.Redis.Addr)
		v.RequireNonEmpty("redis.prefix", c.Redis.Prefix)
		v.ValidateRange("redis.db", c.Redis.DB, 0, 15)
	case "postgres":
		v.RequireNonEmpty("postgres.host", c.Postgres.Host)
		v.ValidatePort("postgres.port", c.Postgres.Port)
		v.RequireNonEmpty("postgres.user", c.Postgres.User)
		v.RequireNonEmpty("postgres.dbname", c.Postgres.DBName)
		v.ValidateOneOf("postgres.sslmode", c.Postgres.SSLMode, "disable", "require", "verify-ca", "verify-full")
	case "mongo":
		v.RequireNonEmpty("mongo.uri", c.Mongo.URI)
		v.RequireNonEmpty("mongo.database", c.Mongo.Database)
		v.RequireNonEmpty("mongo.collection", c.Mongo.Collection)
	}

	return v.Error()
}
