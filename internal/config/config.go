package config

import (
	"log"

	"github.com/spf13/viper"
)

// Config 全局配置结构
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	MySQL    MySQLConfig    `mapstructure:"mysql"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Business BusinessConfig `mapstructure:"business"`
}

type ServerConfig struct {
	Port int `mapstructure:"port"`
}

type LogConfig struct {
	Mode string `mapstructure:"mode"` // debug / release
	Dir  string `mapstructure:"dir"`
}

type MySQLConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	User         string `mapstructure:"user"`
	Password     string `mapstructure:"password"`
	Database     string `mapstructure:"database"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
}

type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type KafkaConfig struct {
	Brokers       []string         `mapstructure:"brokers"`
	ConsumerGroup string           `mapstructure:"consumer_group"`
	Topic         KafkaTopicConfig `mapstructure:"topic"`
}

type KafkaTopicConfig struct {
	SeckillOrder string `mapstructure:"seckill_order"`
	StockAlert   string `mapstructure:"stock_alert"`
}

type BusinessConfig struct {
	OrderTimeoutMinutes   int `mapstructure:"order_timeout_minutes"`   // 待支付订单超时时间
	LockTTLSeconds        int `mapstructure:"lock_ttl_seconds"`        // SKU 库存锁过期时间
	LockRetryCount        int `mapstructure:"lock_retry_count"`        // 锁获取重试次数
	LockRetryIntervalMs   int `mapstructure:"lock_retry_interval_ms"`  // 锁重试间隔
	MaterializeRetryCount int `mapstructure:"materialize_retry_count"` // 秒杀订单落库重试次数
	MaterializeBackoffMs  int `mapstructure:"materialize_backoff_ms"`  // 落库重试退避间隔
	OutboxRetryCount      int `mapstructure:"outbox_retry_count"`      // 预警消息投递重试次数
}

var GlobalConfig *Config

// LoadConfig 加载配置文件
func LoadConfig(configPath string) *Config {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	if err := viper.ReadInConfig(); err != nil {
		log.Fatalf("读取配置文件失败: %v", err)
	}

	config := &Config{}
	if err := viper.Unmarshal(config); err != nil {
		log.Fatalf("解析配置文件失败: %v", err)
	}

	GlobalConfig = config
	return config
}
