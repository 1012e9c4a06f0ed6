package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DefaultTimeLimitSeconds is how long a poll stays active when the
// presenter does not ask for a specific limit.
const DefaultTimeLimitSeconds = 60

type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Poll    PollConfig    `mapstructure:"poll"`
	Gateway GatewayConfig `mapstructure:"gateway"`
	GraphQL GraphQLConfig `mapstructure:"graphql"`
	Kafka   KafkaConfig   `mapstructure:"kafka"`
	Log     LogConfig     `mapstructure:"log"`
	Stats   StatsConfig   `mapstructure:"stats"`
}

type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	Mode           string   `mapstructure:"mode"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

type PollConfig struct {
	DefaultTimeLimitSeconds int `mapstructure:"default_time_limit_seconds"`
	MaxTimeLimitSeconds     int `mapstructure:"max_time_limit_seconds"`
}

type GatewayConfig struct {
	// per-session send buffer; frames beyond it are dropped
	OutboxSize   int           `mapstructure:"outbox_size"`
	LegacyMode   bool          `mapstructure:"legacy_mode"`
	ReadLimit    int64         `mapstructure:"read_limit"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type GraphQLConfig struct {
	Path           string `mapstructure:"path"`
	PlaygroundPath string `mapstructure:"playground_path"`
}

type KafkaConfig struct {
	Enabled bool     `mapstructure:"enabled"`
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

type StatsConfig struct {
	// cron spec, empty disables the stats job
	Spec string `mapstructure:"spec"`
}

var AppConfig Config

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 4000)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.allowed_origins", []string{"*"})

	v.SetDefault("poll.default_time_limit_seconds", DefaultTimeLimitSeconds)
	v.SetDefault("poll.max_time_limit_seconds", 3600)

	v.SetDefault("gateway.outbox_size", 64)
	v.SetDefault("gateway.legacy_mode", false)
	v.SetDefault("gateway.read_limit", 32*1024)
	v.SetDefault("gateway.write_timeout", 10*time.Second)

	v.SetDefault("graphql.path", "/graphql")
	v.SetDefault("graphql.playground_path", "/playground")

	v.SetDefault("kafka.enabled", false)
	v.SetDefault("kafka.brokers", []string{"localhost:9092"})
	v.SetDefault("kafka.topic", "livepoll.events")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.pretty", true)

	v.SetDefault("stats.spec", "@every 1m")
}

// LoadConfig reads configPath into AppConfig. A missing file is not an error: defaults and
// environment variables (SERVER_PORT, KAFKA_ENABLED, ...) still apply.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.Is(err, fs.ErrNotExist) && !errors.As(err, &notFound) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	AppConfig = cfg
	return &AppConfig, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Poll.DefaultTimeLimitSeconds <= 0 {
		return fmt.Errorf("poll.default_time_limit_seconds must be positive")
	}
	if c.Poll.MaxTimeLimitSeconds > 0 && c.Poll.MaxTimeLimitSeconds < c.Poll.DefaultTimeLimitSeconds {
		return fmt.Errorf("poll.max_time_limit_seconds %d is below the default %d",
			c.Poll.MaxTimeLimitSeconds, c.Poll.DefaultTimeLimitSeconds)
	}
	if c.Gateway.OutboxSize <= 0 {
		return fmt.Errorf("gateway.outbox_size must be positive")
	}
	if c.Kafka.Enabled && (len(c.Kafka.Brokers) == 0 || c.Kafka.Topic == "") {
		return fmt.Errorf("kafka is enabled but brokers or topic is missing")
	}
	return nil
}
