package config

import (
	"errors"
	"fmt"

	"github.com/spf13/viper"
)

type AppConfig struct {
	API     APIConfig
	Gateway GatewayConfig
	Session SessionConfig
	Live    LiveConfig
	Notify  NotifyConfig
	Metrics MetricsConfig
}

type APIConfig struct {
	BaseURL        string
	RequestTimeout int // Seconds
}

type GatewayConfig struct {
	URL              string
	HandshakeTimeout int // Seconds
	PingInterval     int // Seconds
	PongTimeout      int // Seconds
	WriteTimeout     int // Seconds
	ReconnectBackoff int // Milliseconds, initial delay
	MaxBackoff       int // Seconds, delay ceiling
	MaxRetries       int // Consecutive failures before the channel gives up
}

type SessionConfig struct {
	Storage string // "memory" or "redis"
	Redis   RedisConfig
	Keys    SessionKeys
}

type RedisConfig struct {
	Address  string
	Password string
	DB       int
	PoolSize int
	TTL      int // Seconds, session key lifetime
}

type SessionKeys struct {
	Token      string
	User       string
	ActiveUnit string
	Logout     string
}

type LiveConfig struct {
	PollInterval      int // Seconds
	MaxEntities       int
	WarningThreshold  int // Minutes of SLA remaining before "warning"
	CriticalThreshold int // Minutes of SLA remaining before "critical"
}

type NotifyConfig struct {
	Desktop bool
}

type MetricsConfig struct {
	Enabled bool
	Port    int
	Path    string
}

// Load reads config.<env>.yaml plus SELORG_* environment overrides and
// returns a validated configuration. A missing config file is not an error;
// the defaults are a complete working setup against a local gateway.
func Load(env string) (*AppConfig, error) {
	v := viper.New()
	v.SetConfigName(fmt.Sprintf("config.%s", env))
	v.SetConfigType("yaml")
	v.AddConfigPath("./configs")
	v.AddConfigPath(".")

	v.AutomaticEnv()
	v.SetEnvPrefix("SELORG")

	setDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config file error: %w", err)
		}
	}

	cfg := &AppConfig{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("config unmarshal error: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}
