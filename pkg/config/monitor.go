package config

import "time"

// MonitorConfig holds runtime configuration for the monitor service.
type MonitorConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	MQTTBrokerURL      string
	MQTTTopic          string
	MQTTClientID       string
	MQTTBuffer         int
	RecentLimit        int
	ChartLimit         int
	StoreTimeout       time.Duration
	LogLevel           string
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
}

// LoadMonitorConfig constructs a MonitorConfig from environment variables.
func LoadMonitorConfig() MonitorConfig {
	return MonitorConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("MONITOR_ADDR", ":3001"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://monitor:monitor@db:5432/cyclemon?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "./db/migrations"),
		MQTTBrokerURL:      GetString("MQTT_BROKER", "tcp://localhost:1883"),
		MQTTTopic:          GetString("MQTT_TOPIC", "monitoring"),
		MQTTClientID:       GetString("MQTT_CLIENT_ID", "cyclemon-monitor"),
		MQTTBuffer:         GetInt("MQTT_BUFFER", 64),
		RecentLimit:        GetInt("SNAPSHOT_RECENT_LIMIT", 5),
		ChartLimit:         GetInt("SNAPSHOT_CHART_LIMIT", 10),
		StoreTimeout:       GetSeconds("STORE_TIMEOUT_SECONDS", 10),
		LogLevel:           GetString("LOG_LEVEL", "info"),
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
	}
}
