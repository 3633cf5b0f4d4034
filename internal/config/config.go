package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// ServerConfig 定义状态/指标 HTTP 服务器的监听配置。
type ServerConfig struct {
	Host string // 监听地址，默认 "0.0.0.0"
	Port int    // 监听端口，默认 3000
}

// TelegramConfig 定义 Telegram 机器人配置。
type TelegramConfig struct {
	Token           string // Bot API 令牌，必填
	ChannelUsername string // 强制关注的频道用户名（不带 @）
	ChannelURL      string // 频道邀请链接
	PollTimeout     int    // 长轮询超时秒数，默认 30
}

// ProviderConfig 定义上游邮件服务商的访问配置。
type ProviderConfig struct {
	BaseURL        string        // REST API 地址，默认 https://api.mail.tm
	WSBaseURL      string        // 推送通道地址，默认 wss://api.mail.tm
	RequestTimeout time.Duration // 单次 HTTP 请求超时，默认 12s
	RateLimit      float64       // 出站请求速率上限（次/秒），默认 5
	RateBurst      int           // 出站请求突发额度，默认 10
}

// WatchConfig 定义邮箱监听器的行为参数。
type WatchConfig struct {
	KeepaliveInterval time.Duration // 保活探测间隔，默认 30s
	BackoffInitial    time.Duration // 重连退避起始值，默认 1s
	BackoffMax        time.Duration // 重连退避上限，默认 30s
	AuthRetryLimit    int           // 连续令牌刷新上限，默认 3
	RestoreWindow     time.Duration // 启动恢复时的活跃窗口，默认 72h
	RestoreStagger    time.Duration // 启动恢复时相邻监听器的间隔，默认 2s
	RestoreDelay      time.Duration // 进程启动到开始恢复的延迟，默认 10s
	QueueSize         int           // 事实队列长度，默认 256
}

// NotifyConfig 定义通知格式化配置。
type NotifyConfig struct {
	PreviewLimit int // 正文预览字符上限，默认 200
}

// RetentionConfig 定义邮件留存清理配置。
type RetentionConfig struct {
	MaxAge        time.Duration // 邮件最长留存时间，默认 168h
	SweepInterval time.Duration // 清理周期，默认 5m
}

// PoolConfig 定义 Telegram 更新处理协程池配置。
type PoolConfig struct {
	Workers   int // 工作协程数，默认 8
	QueueSize int // 任务队列长度，默认 64
}

// LogConfig 定义日志系统配置。
type LogConfig struct {
	Level       string // 日志级别: debug, info, warn, error
	Development bool   // 开发模式: 控制台编码器 + 调试堆栈
	File        string // 日志文件路径，留空则只输出到标准输出
}

// DatabaseConfig 定义数据库连接配置（支持 MySQL 和 PostgreSQL）。
type DatabaseConfig struct {
	Type            string        // "mysql" 或 "postgres"，留空使用内存存储
	DSN             string        // 数据库连接字符串
	MaxOpenConns    int           // 最大打开连接数，默认 25
	MaxIdleConns    int           // 最大空闲连接数，默认 5
	ConnMaxLifetime time.Duration // 连接最大生命周期，默认 5m
}

// RedisConfig 定义 Redis 配置。
type RedisConfig struct {
	Enabled  bool   // 是否启用 Redis（会话状态 + 去重缓存）
	Address  string // 服务地址，默认 "localhost:6379"
	Password string
	DB       int
}

// Config 是系统配置的根结构体。
type Config struct {
	Server    ServerConfig
	Telegram  TelegramConfig
	Provider  ProviderConfig
	Watch     WatchConfig
	Notify    NotifyConfig
	Retention RetentionConfig
	Pool      PoolConfig
	Log       LogConfig
	Database  DatabaseConfig
	Redis     RedisConfig
}

// Load 从环境变量和 .env 文件加载配置。
//
// 优先级（从高到低）：系统环境变量 > .env 文件 > 默认值。
// 环境变量前缀 MAILBOT_，例如 MAILBOT_TELEGRAM_TOKEN。
func Load() (*Config, error) {
	loadEnvFile()

	viper.SetEnvPrefix("mailbot")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 3000)
	viper.SetDefault("telegram.token", "")
	viper.SetDefault("telegram.channel_username", "")
	viper.SetDefault("telegram.channel_url", "")
	viper.SetDefault("telegram.poll_timeout", 30)
	viper.SetDefault("provider.base_url", "https://api.mail.tm")
	viper.SetDefault("provider.ws_base_url", "wss://api.mail.tm")
	viper.SetDefault("provider.request_timeout", "12s")
	viper.SetDefault("provider.rate_limit", 5.0)
	viper.SetDefault("provider.rate_burst", 10)
	viper.SetDefault("watch.keepalive_interval", "30s")
	viper.SetDefault("watch.backoff_initial", "1s")
	viper.SetDefault("watch.backoff_max", "30s")
	viper.SetDefault("watch.auth_retry_limit", 3)
	viper.SetDefault("watch.restore_window", "72h")
	viper.SetDefault("watch.restore_stagger", "2s")
	viper.SetDefault("watch.restore_delay", "10s")
	viper.SetDefault("watch.queue_size", 256)
	viper.SetDefault("notify.preview_limit", 200)
	viper.SetDefault("retention.max_age", "168h")
	viper.SetDefault("retention.sweep_interval", "5m")
	viper.SetDefault("pool.workers", 8)
	viper.SetDefault("pool.queue_size", 64)
	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.development", false)
	viper.SetDefault("log.file", "")
	viper.SetDefault("database.type", "")
	viper.SetDefault("database.dsn", "")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.address", "localhost:6379")
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)

	token := viper.GetString("telegram.token")
	if token == "" {
		return nil, fmt.Errorf("MAILBOT_TELEGRAM_TOKEN is required")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host: viper.GetString("server.host"),
			Port: viper.GetInt("server.port"),
		},
		Telegram: TelegramConfig{
			Token:           token,
			ChannelUsername: strings.TrimPrefix(viper.GetString("telegram.channel_username"), "@"),
			ChannelURL:      viper.GetString("telegram.channel_url"),
			PollTimeout:     viper.GetInt("telegram.poll_timeout"),
		},
		Provider: ProviderConfig{
			BaseURL:        strings.TrimSuffix(viper.GetString("provider.base_url"), "/"),
			WSBaseURL:      strings.TrimSuffix(viper.GetString("provider.ws_base_url"), "/"),
			RequestTimeout: durationOrDefault("provider.request_timeout", 12*time.Second),
			RateLimit:      viper.GetFloat64("provider.rate_limit"),
			RateBurst:      viper.GetInt("provider.rate_burst"),
		},
		Watch: WatchConfig{
			KeepaliveInterval: durationOrDefault("watch.keepalive_interval", 30*time.Second),
			BackoffInitial:    durationOrDefault("watch.backoff_initial", time.Second),
			BackoffMax:        durationOrDefault("watch.backoff_max", 30*time.Second),
			AuthRetryLimit:    viper.GetInt("watch.auth_retry_limit"),
			RestoreWindow:     durationOrDefault("watch.restore_window", 72*time.Hour),
			RestoreStagger:    durationOrDefault("watch.restore_stagger", 2*time.Second),
			RestoreDelay:      durationOrDefault("watch.restore_delay", 10*time.Second),
			QueueSize:         viper.GetInt("watch.queue_size"),
		},
		Notify: NotifyConfig{
			PreviewLimit: viper.GetInt("notify.preview_limit"),
		},
		Retention: RetentionConfig{
			MaxAge:        durationOrDefault("retention.max_age", 7*24*time.Hour),
			SweepInterval: durationOrDefault("retention.sweep_interval", 5*time.Minute),
		},
		Pool: PoolConfig{
			Workers:   viper.GetInt("pool.workers"),
			QueueSize: viper.GetInt("pool.queue_size"),
		},
		Log: LogConfig{
			Level:       viper.GetString("log.level"),
			Development: viper.GetBool("log.development"),
			File:        viper.GetString("log.file"),
		},
		Database: DatabaseConfig{
			Type:            viper.GetString("database.type"),
			DSN:             viper.GetString("database.dsn"),
			MaxOpenConns:    viper.GetInt("database.max_open_conns"),
			MaxIdleConns:    viper.GetInt("database.max_idle_conns"),
			ConnMaxLifetime: durationOrDefault("database.conn_max_lifetime", 5*time.Minute),
		},
		Redis: RedisConfig{
			Enabled:  viper.GetBool("redis.enabled"),
			Address:  viper.GetString("redis.address"),
			Password: viper.GetString("redis.password"),
			DB:       viper.GetInt("redis.db"),
		},
	}

	if cfg.Watch.AuthRetryLimit <= 0 {
		cfg.Watch.AuthRetryLimit = 3
	}
	if cfg.Watch.QueueSize <= 0 {
		cfg.Watch.QueueSize = 256
	}
	if cfg.Notify.PreviewLimit <= 0 {
		cfg.Notify.PreviewLimit = 200
	}
	if cfg.Pool.Workers <= 0 {
		cfg.Pool.Workers = 8
	}

	return cfg, nil
}

// durationOrDefault 解析时长配置，非法时回退默认值。
func durationOrDefault(key string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(viper.GetString(key))
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// loadEnvFile 尝试加载 .env 文件；文件不存在时静默跳过，
// 已存在的环境变量不会被覆盖。
func loadEnvFile() {
	if err := godotenv.Load(".env"); err == nil {
		return
	}
	parentEnv := filepath.Join("..", ".env")
	if _, err := os.Stat(parentEnv); err == nil {
		_ = godotenv.Load(parentEnv)
	}
}
