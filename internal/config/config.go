package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const envPrefix = "tulip"

// Config holds all configuration for the application.
type Config struct {
	Market    Market      `mapstructure:"market"`
	Scheduler Scheduler   `mapstructure:"scheduler"`
	Registry  Registry    `mapstructure:"registry"`
	Agents    []AgentSeed `mapstructure:"agents"`
	Logger    Logger      `mapstructure:"logger"`
	Server    Server      `mapstructure:"server"`
	Database  Database    `mapstructure:"database"`
	Viewer    Viewer      `mapstructure:"viewer"`
}

// Market holds the bonding-curve parameters of the simulated coin.
type Market struct {
	Name          string  `mapstructure:"name"`
	InitialVolume int64   `mapstructure:"initial_volume"`
	InitialPrice  float64 `mapstructure:"initial_price"`
	RecentTrades  int     `mapstructure:"recent_trades"`
}

// K is the constant product the curve preserves.
func (m Market) K() float64 {
	return float64(m.InitialVolume) * m.InitialPrice
}

// Scheduler controls how and how often turns are taken.
type Scheduler struct {
	Policy       string        `mapstructure:"policy"`
	TickInterval time.Duration `mapstructure:"tick_interval"`
	MaxTurns     int           `mapstructure:"max_turns"`
	EndTime      time.Time     `mapstructure:"end_time"`
	Seed         int64         `mapstructure:"seed"`
}

// Registry holds agent registration rules.
type Registry struct {
	UniqueNames     bool  `mapstructure:"unique_names"`
	InitialHoldings int64 `mapstructure:"initial_holdings"`
}

// AgentSeed describes an agent registered at startup and after every reset.
type AgentSeed struct {
	Name     string  `mapstructure:"name"`
	Funds    float64 `mapstructure:"funds"`
	Strategy string  `mapstructure:"strategy"`
}

// Server holds the configuration for the API server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Viewer holds the configuration for the polling terminal viewer.
type Viewer struct {
	BaseURL         string        `mapstructure:"base_url"`
	RateLimit       float64       `mapstructure:"rate_limit"`
	RateLimitBurst  int           `mapstructure:"rate_limit_burst"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	Leaderboard     int           `mapstructure:"leaderboard"`
}

// LoadConfig reads config.yml from path, with environment variables taking precedence.
func LoadConfig(path string) (Config, error) {
	v := viper.New()
	v.AddConfigPath(path)
	v.SetConfigName("config")
	v.SetConfigType("yml")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	var cfg Config
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("market.name", "Tulip Coin")
	v.SetDefault("market.initial_volume", 100000)
	v.SetDefault("market.initial_price", 0.1)
	v.SetDefault("market.recent_trades", 100)

	v.SetDefault("scheduler.policy", "random")
	v.SetDefault("scheduler.tick_interval", "5s")
	v.SetDefault("scheduler.max_turns", 0)
	// No default: an empty string would not decode as a time.
	_ = v.BindEnv("scheduler.end_time")

	v.SetDefault("registry.unique_names", false)
	v.SetDefault("registry.initial_holdings", 0)

	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")

	v.SetDefault("server.port", 5000)

	v.SetDefault("database.dsn", "coin_price_history.db")
	v.SetDefault("database.max_open_conns", 1)

	v.SetDefault("viewer.base_url", "http://localhost:5000")
	v.SetDefault("viewer.rate_limit", 5)
	v.SetDefault("viewer.rate_limit_burst", 2)
	v.SetDefault("viewer.refresh_interval", "5s")
	v.SetDefault("viewer.leaderboard", 10)
}

func decodeHook() viper.DecoderConfigOption {
	return func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "mapstructure"
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
			mapstructure.StringToSliceHookFunc(","),
		)
	}
}

// Validate checks the configuration and reports every problem found.
func (c *Config) Validate() error {
	var err error

	if c.Market.InitialVolume <= 0 {
		err = multierr.Append(err, errors.New("market.initial_volume must be positive"))
	}
	if c.Market.InitialPrice <= 0 {
		err = multierr.Append(err, errors.New("market.initial_price must be positive"))
	}
	if c.Market.RecentTrades < 0 {
		err = multierr.Append(err, errors.New("market.recent_trades must not be negative"))
	}
	switch c.Scheduler.Policy {
	case "random", "round-robin":
	default:
		err = multierr.Append(err, fmt.Errorf("scheduler.policy %q must be random or round-robin", c.Scheduler.Policy))
	}
	if c.Scheduler.TickInterval <= 0 {
		err = multierr.Append(err, errors.New("scheduler.tick_interval must be positive"))
	}
	if c.Scheduler.MaxTurns < 0 {
		err = multierr.Append(err, errors.New("scheduler.max_turns must not be negative"))
	}
	if c.Registry.InitialHoldings < 0 {
		err = multierr.Append(err, errors.New("registry.initial_holdings must not be negative"))
	}
	for i, a := range c.Agents {
		if a.Name == "" {
			err = multierr.Append(err, fmt.Errorf("agents[%d].name must not be empty", i))
		}
		if a.Funds < 0 {
			err = multierr.Append(err, fmt.Errorf("agents[%d].funds must not be negative", i))
		}
		if a.Strategy == "" {
			err = multierr.Append(err, fmt.Errorf("agents[%d].strategy must not be empty", i))
		}
	}
	if c.Database.DSN == "" {
		err = multierr.Append(err, errors.New("database.dsn must not be empty"))
	}

	return err
}
