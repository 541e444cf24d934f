// Package config loads this engine's configuration via viper: the
// subscription configuration of instruments/exchanges, per-exchange
// execution settings, and the engine's own operational knobs.
package config

import (
	"fmt"
	"sync"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// InstrumentConfig names one instrument to subscribe to on one exchange.
// MaxOrderSize/MaxPositionSize are decimal strings (e.g. "1.5"); left empty,
// the instrument carries no risk limit and every order is approved.
type InstrumentConfig struct {
	Exchange        string `mapstructure:"exchange"`
	NameExchange    string `mapstructure:"name_exchange"`
	Base            string `mapstructure:"base"`
	Quote           string `mapstructure:"quote"`
	Kind            string `mapstructure:"kind"`
	MaxOrderSize    string `mapstructure:"max_order_size"`
	MaxPositionSize string `mapstructure:"max_position_size"`
}

// ExecutionConfig configures one exchange's execution manager.
type ExecutionConfig struct {
	Exchange    string        `mapstructure:"exchange"`
	Mode        string        `mapstructure:"mode"` // "live" or "mock"
	BaseURL     string        `mapstructure:"base_url"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MockLatency time.Duration `mapstructure:"mock_latency"`
	MockFeesPct float64       `mapstructure:"mock_fees_percent"`
}

// MarketDataConfig names the snapshot/stream endpoints for one exchange's
// order-book feed. SnapshotURLTemplate and StreamURLTemplate each contain one
// "%s" placeholder filled with the instrument's exchange-native symbol.
type MarketDataConfig struct {
	Exchange            string `mapstructure:"exchange"`
	SnapshotURLTemplate string `mapstructure:"snapshot_url_template"`
	StreamURLTemplate   string `mapstructure:"stream_url_template"`
}

// EngineConfig carries the reducer's own operational knobs.
type EngineConfig struct {
	AuditChannelCapacity int           `mapstructure:"audit_channel_capacity"`
	InputChannelCapacity int           `mapstructure:"input_channel_capacity"`
	ExecutionTimeout     time.Duration `mapstructure:"execution_timeout"`
	ReconnectMinBackoff  time.Duration `mapstructure:"reconnect_min_backoff"`
	ReconnectMaxBackoff  time.Duration `mapstructure:"reconnect_max_backoff"`
	PositionHistorySize  int           `mapstructure:"position_history_size"`
}

// MetricsConfig configures the Prometheus HTTP exporter.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
}

// AuditConfig configures the NATS-backed audit publisher.
type AuditConfig struct {
	NATSURL       string `mapstructure:"nats_url"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	InstanceID    string `mapstructure:"instance_id"`
}

// Config is the full configuration of one engine instance.
type Config struct {
	Instruments []InstrumentConfig `mapstructure:"instruments"`
	Executions  []ExecutionConfig  `mapstructure:"executions"`
	MarketData  []MarketDataConfig `mapstructure:"market_data"`
	Engine      EngineConfig       `mapstructure:"engine"`
	Audit       AuditConfig        `mapstructure:"audit"`
	Metrics     MetricsConfig      `mapstructure:"metrics"`
	LogLevel    string             `mapstructure:"log_level"`
}

var (
	config *Config
	once   sync.Once
)

// Load reads configuration from path (a directory passed to viper's
// AddConfigPath), falling back to defaults plus TRADENGINE_* environment
// overrides when no config file is present. Subsequent calls in the same
// process return the first-loaded configuration.
func Load(path string) (*Config, error) {
	var err error

	once.Do(func() {
		config = &Config{}
		setDefaults(config)

		v := viper.New()
		v.SetConfigName("config")
		v.SetConfigType("yaml")

		if path != "" {
			v.AddConfigPath(path)
		} else {
			v.AddConfigPath(".")
			v.AddConfigPath("./config")
			v.AddConfigPath("/etc/tradengine")
		}

		v.AutomaticEnv()
		v.SetEnvPrefix("TRADENGINE")

		if readErr := v.ReadInConfig(); readErr != nil {
			if _, notFound := readErr.(viper.ConfigFileNotFoundError); !notFound {
				err = fmt.Errorf("read config: %w", readErr)
				return
			}
		}

		if unmarshalErr := v.Unmarshal(config); unmarshalErr != nil {
			err = fmt.Errorf("unmarshal config: %w", unmarshalErr)
			return
		}
	})

	return config, err
}

func setDefaults(c *Config) {
	c.Engine.AuditChannelCapacity = 4096
	c.Engine.InputChannelCapacity = 1024
	c.Engine.ExecutionTimeout = 5 * time.Second
	c.Engine.ReconnectMinBackoff = 500 * time.Millisecond
	c.Engine.ReconnectMaxBackoff = 30 * time.Second
	c.Engine.PositionHistorySize = 256
	c.Audit.SubjectPrefix = "audit"
	c.Audit.NATSURL = "nats://127.0.0.1:4222"
	c.Metrics.Addr = ":9090"
	c.LogLevel = "info"
}

// NewLogger builds the base zap.Logger for cfg.LogLevel, matching the
// teacher's development-vs-production split.
func NewLogger(cfg *Config) (*zap.Logger, error) {
	switch cfg.LogLevel {
	case "debug":
		return zap.NewDevelopment()
	default:
		return zap.NewProduction()
	}
}
