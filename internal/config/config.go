package config

import (
	"fmt"
	"os"
	"strconv"
)

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int
	MaxIdle  int
}

// GetDSN 获取数据库连接字符串
func (c *DatabaseConfig) GetDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// MQTTConfig MQTT配置
type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	QoS      byte
}

// Config 报告服务配置
type Config struct {
	Database DatabaseConfig
	Redis    RedisConfig
	MQTT     MQTTConfig

	// 报告生命周期服务特定配置
	Report struct {
		// 过期清扫配置
		SweepInterval  int // 清扫间隔（秒），默认 30秒
		FetchBatchSize int // 每页拉取的活跃报告数量，默认 100

		// 变更流配置
		ChangeStream  string // Redis Stream 名称，如 "reports:changes"
		ConsumerGroup string // 消费者组名称
		ConsumerName  string // 消费者名称

		// 通知配置
		SettingsKeyPrefix string // 用户通知设置缓存键前缀，如 "reports:settings:"
		CleanupInterval   int    // 通知历史清理间隔（秒），默认 3600秒
	}

	// 系统通知投递渠道配置
	Push struct {
		Mode        string // "mqtt"、"gateway" 或 "none"
		TopicPrefix string // MQTT 主题前缀
		GatewayURL  string // 推送网关地址
		GatewayKey  string // 推送网关 API Key
	}

	Log struct {
		Level  string
		Format string
	}
}

// Load 加载配置
func Load() (*Config, error) {
	cfg := &Config{}

	// 从环境变量加载（默认值）
	cfg.Database.Host = getEnv("DB_HOST", "localhost")
	cfg.Database.Port = getEnvInt("DB_PORT", 5432)
	cfg.Database.User = getEnv("DB_USER", "postgres")
	cfg.Database.Password = getEnv("DB_PASSWORD", "postgres")
	cfg.Database.Database = getEnv("DB_NAME", "roadwatch")
	cfg.Database.SSLMode = getEnv("DB_SSLMODE", "disable")
	cfg.Database.MaxConns = getEnvInt("DB_MAX_CONNS", 10)
	cfg.Database.MaxIdle = getEnvInt("DB_MAX_IDLE", 5)

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "localhost:6379")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = getEnvInt("REDIS_DB", 0)

	cfg.MQTT.Broker = getEnv("MQTT_BROKER", "tcp://localhost:1883")
	cfg.MQTT.ClientID = getEnv("MQTT_CLIENT_ID", "roadwatch-reports")
	cfg.MQTT.Username = getEnv("MQTT_USERNAME", "")
	cfg.MQTT.Password = getEnv("MQTT_PASSWORD", "")
	cfg.MQTT.QoS = 1

	// 报告服务配置
	cfg.Report.SweepInterval = getEnvInt("SWEEP_INTERVAL", 30) // 30秒清扫一次
	cfg.Report.FetchBatchSize = getEnvInt("FETCH_BATCH_SIZE", 100)
	cfg.Report.ChangeStream = getEnv("CHANGE_STREAM", "reports:changes")
	cfg.Report.ConsumerGroup = getEnv("CONSUMER_GROUP", "report-relay")
	cfg.Report.ConsumerName = getEnv("CONSUMER_NAME", "relay-1")
	cfg.Report.SettingsKeyPrefix = getEnv("SETTINGS_KEY_PREFIX", "reports:settings:")
	cfg.Report.CleanupInterval = getEnvInt("CLEANUP_INTERVAL", 3600) // 1小时清理一次通知历史

	cfg.Push.Mode = getEnv("PUSH_MODE", "mqtt")
	cfg.Push.TopicPrefix = getEnv("PUSH_TOPIC_PREFIX", "roadwatch/users/")
	cfg.Push.GatewayURL = getEnv("PUSH_GATEWAY_URL", "")
	cfg.Push.GatewayKey = getEnv("PUSH_GATEWAY_KEY", "")

	cfg.Log.Level = getEnv("LOG_LEVEL", "info")
	cfg.Log.Format = getEnv("LOG_FORMAT", "json")

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}
