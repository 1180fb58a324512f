package config

import (
	"strings"

	"github.com/joho/godotenv"
	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" mapstructure:"server"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
	Data      DataConfig      `yaml:"data" mapstructure:"data"`
	Query     QueryConfig     `yaml:"query" mapstructure:"query"`
	Anthropic AnthropicConfig `yaml:"anthropic" mapstructure:"anthropic"`
	Schema    SchemaConfig    `yaml:"schema" mapstructure:"schema"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Port int `yaml:"port" mapstructure:"port"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// DataConfig holds the paths of the datasets loaded by the dashboard.
type DataConfig struct {
	Infrastructure string `yaml:"infrastructure" mapstructure:"infrastructure"`
	Facilities     string `yaml:"facilities" mapstructure:"facilities"`
	Permits        string `yaml:"permits" mapstructure:"permits"`
	PermitsSheet   string `yaml:"permits_sheet" mapstructure:"permits_sheet"`
	Postcodes      string `yaml:"postcodes" mapstructure:"postcodes"`
	Crime          string `yaml:"crime" mapstructure:"crime"`
	Suburbs        string `yaml:"suburbs" mapstructure:"suburbs"`
	Schools        string `yaml:"schools" mapstructure:"schools"`
	Enrolments     string `yaml:"enrolments" mapstructure:"enrolments"`
}

// QueryConfig holds defaults for radius queries.
type QueryConfig struct {
	DefaultRadiusKm float64 `yaml:"default_radius_km" mapstructure:"default_radius_km"`
}

// AnthropicConfig holds settings for the chart caption endpoint. An empty key
// disables it.
type AnthropicConfig struct {
	Key               string `yaml:"key" mapstructure:"key"`
	Model             string `yaml:"model" mapstructure:"model"`
	MaxTokens         int64  `yaml:"max_tokens" mapstructure:"max_tokens"`
	RequestsPerMinute int    `yaml:"requests_per_minute" mapstructure:"requests_per_minute"`
}

// SchemaConfig points at an optional column alias override file.
type SchemaConfig struct {
	AliasesPath string `yaml:"aliases_path" mapstructure:"aliases_path"`
}

// Load reads configuration from .env, config file and environment, in
// increasing order of precedence.
func Load() (*Config, error) {
	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load()

	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("VICMAPS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The caption key is commonly provided under its vendor name.
	if err := v.BindEnv("anthropic.key", "VICMAPS_ANTHROPIC_KEY", "ANTHROPIC_API_KEY"); err != nil {
		return nil, eris.Wrap(err, "config: bind anthropic key")
	}

	// Defaults
	v.SetDefault("server.port", 8000)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("data.infrastructure", "data/bicycle_infrastructure.parquet")
	v.SetDefault("data.facilities", "data/community_facilities.xlsx")
	v.SetDefault("data.permits", "data/building_permits.xlsx")
	v.SetDefault("data.permits_sheet", "")
	v.SetDefault("data.postcodes", "data/postcodes")
	v.SetDefault("data.crime", "data/crime_by_lga.xlsx")
	v.SetDefault("data.suburbs", "data/suburbs.csv")
	v.SetDefault("data.schools", "data/schools.csv")
	v.SetDefault("data.enrolments", "data/enrolments.csv")
	v.SetDefault("query.default_radius_km", 2.0)
	v.SetDefault("anthropic.model", "claude-sonnet-4-5-20250929")
	v.SetDefault("anthropic.max_tokens", 1024)
	v.SetDefault("anthropic.requests_per_minute", 10)
	v.SetDefault("schema.aliases_path", "")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks the values the server cannot start without.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return eris.Errorf("config: server.port %d out of range", c.Server.Port)
	}
	if c.Query.DefaultRadiusKm < 0 {
		return eris.Errorf("config: query.default_radius_km must not be negative, got %g", c.Query.DefaultRadiusKm)
	}
	if c.Anthropic.Key != "" && c.Anthropic.MaxTokens <= 0 {
		return eris.New("config: anthropic.max_tokens must be positive")
	}
	if c.Anthropic.RequestsPerMinute < 0 {
		return eris.New("config: anthropic.requests_per_minute must not be negative")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
