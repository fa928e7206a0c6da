package core

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/RecoveryAshes/wxgather/internal/models"
	"github.com/spf13/viper"
)

// Config 应用程序配置
type Config struct {
	Logging LoggingConfig `mapstructure:"logging"`
	Session SessionConfig `mapstructure:"session"`
	Browser BrowserConfig `mapstructure:"browser"`
	Login   LoginConfig   `mapstructure:"login"`
	Gather  GatherConfig  `mapstructure:"gather"`
	Hooks   HooksConfig   `mapstructure:"hooks"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level    string         `mapstructure:"level"`
	LogDir   string         `mapstructure:"log_dir"`
	Rotation RotationConfig `mapstructure:"rotation"`
}

// RotationConfig 日志轮转配置
type RotationConfig struct {
	MaxSize    int  `mapstructure:"max_size"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAge     int  `mapstructure:"max_age"`
	Compress   bool `mapstructure:"compress"`
}

// SessionConfig 会话持久化与锁配置
type SessionConfig struct {
	DataDir      string        `mapstructure:"data_dir"`
	LicKey       string        `mapstructure:"lic_key"`
	NoiseCookies []string      `mapstructure:"noise_cookies"`
	LockTTL      time.Duration `mapstructure:"lock_ttl"`
	LockBackend  string        `mapstructure:"lock_backend"` // file | redis
	RedisAddr    string        `mapstructure:"redis_addr"`
	RedisLockKey string        `mapstructure:"redis_lock_key"`
}

// BrowserConfig 浏览器配置
type BrowserConfig struct {
	Headless        bool    `mapstructure:"headless"`
	AntiDetection   bool    `mapstructure:"anti_detection"`
	BlockImages     bool    `mapstructure:"block_images"`
	SafetyReserveMB int     `mapstructure:"safety_reserve_mb"`
	CPUThreshold    float64 `mapstructure:"cpu_threshold"`
}

// LoginConfig 扫码登录配置
type LoginConfig struct {
	QRTimeout       time.Duration `mapstructure:"qr_timeout"`
	ScanTimeout     time.Duration `mapstructure:"scan_timeout"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	DebugArtifacts  bool          `mapstructure:"debug_artifacts"`
}

// GatherConfig 采集配置
type GatherConfig struct {
	Mode           string        `mapstructure:"mode"`
	Interval       int           `mapstructure:"interval"` // 翻页最大随机间隔(秒)
	MaxPage        int           `mapstructure:"max_page"`
	GatherContent  bool          `mapstructure:"gather_content"`
	BaseURL        string        `mapstructure:"base_url"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	FeedsFile      string        `mapstructure:"feeds_file"`
	ReportDir      string        `mapstructure:"report_dir"`
}

// HooksConfig 可选外部集成
type HooksConfig struct {
	S3    S3HookConfig    `mapstructure:"s3"`
	Redis RedisHookConfig `mapstructure:"redis"`
	Kafka KafkaHookConfig `mapstructure:"kafka"`
}

// S3HookConfig 二维码上传
type S3HookConfig struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
	Region string `mapstructure:"region"`
}

// RedisHookConfig 状态广播
type RedisHookConfig struct {
	Addr    string `mapstructure:"addr"`
	Key     string `mapstructure:"key"`
	Channel string `mapstructure:"channel"`
}

// KafkaHookConfig 采集完成事件
type KafkaHookConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// LoadConfig 加载配置文件
func LoadConfig(configPath string) (*Config, error) {
	config, _, err := LoadConfigWithViper(configPath)
	return config, err
}

// LoadConfigWithViper 加载配置并返回viper实例(serve模式用于热加载)
func LoadConfigWithViper(configPath string) (*Config, *viper.Viper, error) {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".wxgather"))
		}
	}

	v.SetEnvPrefix("WXGATHER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		// 配置文件不存在时使用默认值
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, nil, fmt.Errorf("读取配置文件失败: %w", err)
		}
	}

	config, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return config, v, nil
}

// Decode 从viper实例解析配置
func Decode(v *viper.Viper) (*Config, error) {
	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.log_dir", "logs")
	v.SetDefault("logging.rotation.max_size", 10)
	v.SetDefault("logging.rotation.max_backups", 3)
	v.SetDefault("logging.rotation.max_age", 28)
	v.SetDefault("logging.rotation.compress", true)

	v.SetDefault("session.data_dir", "data")
	v.SetDefault("session.lic_key", "wxgather-default-lic-key")
	v.SetDefault("session.noise_cookies", []string{"_clck"})
	v.SetDefault("session.lock_ttl", 10*time.Minute)
	v.SetDefault("session.lock_backend", "file")
	v.SetDefault("session.redis_addr", "127.0.0.1:6379")
	v.SetDefault("session.redis_lock_key", "wxgather:login:lock")

	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.anti_detection", true)
	v.SetDefault("browser.block_images", false)
	v.SetDefault("browser.safety_reserve_mb", 512)
	v.SetDefault("browser.cpu_threshold", 95.0)

	v.SetDefault("login.qr_timeout", 15*time.Second)
	v.SetDefault("login.scan_timeout", 120*time.Second)
	v.SetDefault("login.refresh_interval", 24*time.Hour)
	v.SetDefault("login.debug_artifacts", false)

	v.SetDefault("gather.mode", string(models.ModeApp))
	v.SetDefault("gather.interval", 10)
	v.SetDefault("gather.max_page", 1)
	v.SetDefault("gather.gather_content", false)
	v.SetDefault("gather.base_url", "https://mp.weixin.qq.com")
	v.SetDefault("gather.connect_timeout", 5*time.Second)
	v.SetDefault("gather.read_timeout", 10*time.Second)
	v.SetDefault("gather.feeds_file", "configs/feeds.yaml")
	v.SetDefault("gather.report_dir", "data")

	v.SetDefault("hooks.s3.prefix", "wx-login/")
	v.SetDefault("hooks.redis.key", "wxgather:state")
	v.SetDefault("hooks.redis.channel", "wxgather:state")
	v.SetDefault("hooks.kafka.topic", "wxgather.gather")
}

// Validate 检查配置取值
func (c *Config) Validate() error {
	if !models.GatherMode(c.Gather.Mode).Valid() {
		return fmt.Errorf("gather.mode 无效: %q (可选 api/app/web)", c.Gather.Mode)
	}
	if c.Gather.MaxPage < 1 {
		return fmt.Errorf("gather.max_page 必须 >= 1")
	}
	if c.Gather.Interval < 0 {
		return fmt.Errorf("gather.interval 不能为负数")
	}
	switch c.Session.LockBackend {
	case "file", "redis":
	default:
		return fmt.Errorf("session.lock_backend 无效: %q (可选 file/redis)", c.Session.LockBackend)
	}
	if c.Session.LicKey == "" {
		return fmt.Errorf("session.lic_key 不能为空")
	}
	return nil
}

// MergeCLIFlags 合并命令行参数到配置,命令行优先
func (c *Config) MergeCLIFlags(mode string, maxPage int, interval int, headless bool, withContent bool) {
	if mode != "" {
		c.Gather.Mode = mode
	}
	if maxPage > 0 {
		c.Gather.MaxPage = maxPage
	}
	if interval >= 0 {
		c.Gather.Interval = interval
	}
	c.Browser.Headless = headless
	if withContent {
		c.Gather.GatherContent = true
	}
}

// LockPath 锁文件路径
func (c *SessionConfig) LockPath() string {
	return filepath.Join(c.DataDir, ".lock")
}

// StorePath 会话文件路径
func (c *SessionConfig) StorePath() string {
	return filepath.Join(c.DataDir, "wx.lic")
}

// CacheDir 调试截图目录
func (c *SessionConfig) CacheDir() string {
	return filepath.Join(c.DataDir, "cache")
}
