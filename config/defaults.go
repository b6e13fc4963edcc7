package config

import "github.com/spf13/viper"

func setDefaults(v *viper.Viper) {
	// API
	v.SetDefault("api.baseURL", "http://localhost:8080")
	v.SetDefault("api.requestTimeout", 10)

	// Gateway
	v.SetDefault("gateway.url", "ws://localhost:8080/ws")
	v.SetDefault("gateway.handshakeTimeout", 10)
	v.SetDefault("gateway.pingInterval", 25)
	v.SetDefault("gateway.pongTimeout", 60)
	v.SetDefault("gateway.writeTimeout", 10)
	v.SetDefault("gateway.reconnectBackoff", 1000)
	v.SetDefault("gateway.maxBackoff", 30)
	v.SetDefault("gateway.maxRetries", 5)

	// Session
	v.SetDefault("session.storage", "memory")
	v.SetDefault("session.redis.address", "localhost:6379")
	v.SetDefault("session.redis.db", 0)
	v.SetDefault("session.redis.poolSize", 100)
	v.SetDefault("session.redis.ttl", 86400)
	v.SetDefault("session.keys.token", "selorg:token")
	v.SetDefault("session.keys.user", "selorg:user")
	v.SetDefault("session.keys.activeUnit", "selorg:active_unit")
	v.SetDefault("session.keys.logout", "selorg:logout_at")

	// Live views
	v.SetDefault("live.pollInterval", 20)
	v.SetDefault("live.maxEntities", 50)
	v.SetDefault("live.warningThreshold", 15)
	v.SetDefault("live.criticalThreshold", 5)

	// Notifications
	v.SetDefault("notify.desktop", true)

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")
}
