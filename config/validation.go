package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

func (c *AppConfig) Validate() error {
	if c.API.BaseURL == "" {
		return errors.New("api.baseURL must be set")
	}
	if c.Gateway.URL == "" {
		return errors.New("gateway.url must be set")
	}
	if c.Gateway.HandshakeTimeout < 1 {
		return errors.New("gateway handshake timeout must be at least 1 second")
	}
	if c.Gateway.MaxRetries < 1 {
		return errors.New("gateway maxRetries must be positive")
	}
	if c.Gateway.PingInterval >= c.Gateway.PongTimeout {
		return errors.New("gateway ping interval should be less than pong timeout")
	}

	switch strings.ToLower(c.Session.Storage) {
	case "memory":
	case "redis":
		if c.Session.Redis.Address == "" {
			return errors.New("redis address must be specified for redis session storage")
		}
		if c.Session.Redis.TTL < 1 {
			return errors.New("redis session TTL must be positive")
		}
	default:
		return fmt.Errorf("invalid session storage type: %s. Must be 'memory' or 'redis'", c.Session.Storage)
	}

	k := c.Session.Keys
	if k.Token == "" || k.User == "" || k.ActiveUnit == "" || k.Logout == "" {
		return errors.New("session storage key names must all be configured")
	}

	if c.Live.PollInterval < 1 {
		return errors.New("live poll interval must be at least 1 second")
	}
	if c.Live.MaxEntities < 1 {
		return errors.New("live maxEntities must be positive")
	}
	if c.Live.CriticalThreshold >= c.Live.WarningThreshold {
		return errors.New("live critical threshold must be below the warning threshold")
	}

	return nil
}

func bindEnvVars(v *viper.Viper) {
	// API
	v.BindEnv("api.baseURL", "SELORG_API_URL")

	// Gateway
	v.BindEnv("gateway.url", "SELORG_GATEWAY_URL")
	v.BindEnv("gateway.handshakeTimeout", "SELORG_HANDSHAKE_TIMEOUT")
	v.BindEnv("gateway.pingInterval", "SELORG_PING_INTERVAL")
	v.BindEnv("gateway.pongTimeout", "SELORG_PONG_TIMEOUT")
	v.BindEnv("gateway.reconnectBackoff", "SELORG_RECONNECT_BACKOFF")
	v.BindEnv("gateway.maxRetries", "SELORG_MAX_RETRIES")

	// Session
	v.BindEnv("session.storage", "SELORG_SESSION_STORAGE")
	v.BindEnv("session.redis.address", "SELORG_REDIS_ADDRESS")
	v.BindEnv("session.redis.password", "SELORG_REDIS_PASSWORD")
	v.BindEnv("session.redis.ttl", "SELORG_SESSION_TTL")

	// Live views
	v.BindEnv("live.pollInterval", "SELORG_POLL_INTERVAL")
	v.BindEnv("live.maxEntities", "SELORG_MAX_ENTITIES")

	// Notifications
	v.BindEnv("notify.desktop", "SELORG_NOTIFY_DESKTOP")
}
