package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config 是 Narrator 的顶层配置结构。
type Config struct {
	Jobs    JobsConfig    `yaml:"jobs"`
	Cache   CacheConfig   `yaml:"cache"`
	TTS     TTSConfig     `yaml:"tts"`
	Webhook WebhookConfig `yaml:"webhook"`
	Log     LogConfig     `yaml:"log"`
}

// JobsConfig 批量任务处理配置。
type JobsConfig struct {
	// Workers 工作协程数量，同时也是外部合成调用的并发上限。
	Workers int `yaml:"workers"`

	// QueueSize 任务队列容量。
	QueueSize int `yaml:"queue_size"`

	// MaxRetries 单个任务的最大重试次数。
	MaxRetries int `yaml:"max_retries"`

	// OutputRoot 批次输出文件的根目录，每个批次一个子目录。
	OutputRoot string `yaml:"output_root"`

	// StateDir 批次状态快照的存放目录。
	StateDir string `yaml:"state_dir"`
}

// CacheConfig 合成结果缓存配置。
type CacheConfig struct {
	// Dir 缓存目录，存放音频文件和索引数据库。
	Dir string `yaml:"dir"`

	// MaxSizeMB 缓存最大容量（MB），未配置时为 512，负值表示禁用缓存。
	MaxSizeMB int64 `yaml:"max_size_mb"`
}

// MaxBytes 返回缓存容量上限（字节），缓存被禁用时返回 0。
func (c CacheConfig) MaxBytes() int64 {
	if c.MaxSizeMB < 0 {
		return 0
	}
	return c.MaxSizeMB * 1024 * 1024
}

// TTSConfig 语音合成配置。
type TTSConfig struct {
	Engine   string        `yaml:"engine"`   // 默认引擎: edge / tencent / mock
	Voice    string        `yaml:"voice"`    // 默认语音
	Language string        `yaml:"language"` // 默认语言
	Edge     EdgeConfig    `yaml:"edge"`
	Tencent  TencentConfig `yaml:"tencent"`
}

// EdgeConfig Edge TTS 配置。
type EdgeConfig struct {
	Voice string `yaml:"voice"`
}

// TencentConfig 腾讯云 TTS 配置。
type TencentConfig struct {
	SecretID  string `yaml:"secret_id"`
	SecretKey string `yaml:"secret_key"`
	VoiceType int64  `yaml:"voice_type"`
	Region    string `yaml:"region"`
}

// WebhookConfig 批次完成回调配置。
type WebhookConfig struct {
	// TimeoutSecs 出站 HTTP 请求超时时间（秒）。
	TimeoutSecs int `yaml:"timeout_secs"`
}

// LogConfig 日志配置。
type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
}

// Load 读取 YAML 配置文件并返回 Config。
// 支持 ${VAR_NAME} 形式的环境变量展开。
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", path, err)
	}

	// 展开环境变量，如 ${NARRATOR_TENCENT_SECRET_KEY}
	expanded := os.Expand(string(data), func(key string) string {
		return os.Getenv(key)
	})

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("解析配置文件 %s 失败: %w", path, err)
	}

	setDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults 为未设置的配置项填充默认值。
func setDefaults(cfg *Config) {
	if cfg.Jobs.Workers == 0 {
		cfg.Jobs.Workers = 4
	}
	if cfg.Jobs.QueueSize == 0 {
		cfg.Jobs.QueueSize = 256
	}
	if cfg.Jobs.MaxRetries == 0 {
		cfg.Jobs.MaxRetries = 3
	}
	if cfg.Jobs.OutputRoot == "" {
		cfg.Jobs.OutputRoot = dataDir("output")
	}
	if cfg.Jobs.StateDir == "" {
		cfg.Jobs.StateDir = dataDir("state")
	}
	if cfg.Cache.Dir == "" {
		cfg.Cache.Dir = dataDir("cache")
	}
	if cfg.Cache.MaxSizeMB == 0 {
		cfg.Cache.MaxSizeMB = 512
	}
	if cfg.TTS.Engine == "" {
		cfg.TTS.Engine = "edge"
	}
	if cfg.TTS.Voice == "" {
		cfg.TTS.Voice = "zh-CN-XiaoxiaoNeural"
	}
	if cfg.TTS.Language == "" {
		cfg.TTS.Language = "zh-CN"
	}
	if cfg.TTS.Edge.Voice == "" {
		cfg.TTS.Edge.Voice = cfg.TTS.Voice
	}
	if cfg.Webhook.TimeoutSecs == 0 {
		cfg.Webhook.TimeoutSecs = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}

	// 展开路径配置中的 ~/
	cfg.Jobs.OutputRoot = expandHome(cfg.Jobs.OutputRoot)
	cfg.Jobs.StateDir = expandHome(cfg.Jobs.StateDir)
	cfg.Cache.Dir = expandHome(cfg.Cache.Dir)

	// 去除密钥两端可能的空白（环境变量展开后常见）
	cfg.TTS.Tencent.SecretID = strings.TrimSpace(cfg.TTS.Tencent.SecretID)
	cfg.TTS.Tencent.SecretKey = strings.TrimSpace(cfg.TTS.Tencent.SecretKey)
}

// Validate 检查配置是否自洽。
func Validate(cfg *Config) error {
	if cfg.Jobs.Workers < 1 {
		return fmt.Errorf("jobs.workers 必须大于 0，当前为 %d", cfg.Jobs.Workers)
	}
	if cfg.Jobs.MaxRetries < 0 {
		return fmt.Errorf("jobs.max_retries 不能为负数，当前为 %d", cfg.Jobs.MaxRetries)
	}
	switch cfg.TTS.Engine {
	case "edge", "tencent", "mock":
	default:
		return fmt.Errorf("不支持的 TTS 引擎: %s", cfg.TTS.Engine)
	}
	if cfg.TTS.Engine == "tencent" && (cfg.TTS.Tencent.SecretID == "" || cfg.TTS.Tencent.SecretKey == "") {
		return fmt.Errorf("腾讯云 TTS 需要配置 secret_id 和 secret_key")
	}
	return nil
}

// dataDir 返回用户数据目录下的子目录路径。
func dataDir(sub string) string {
	home, _ := os.UserHomeDir()
	if home != "" {
		return home + "/.narrator/" + sub
	}
	return "./.narrator-data/" + sub
}

// expandHome 将路径前缀 ~/ 展开为用户主目录。
// Go 不会自动展开 ~，需要手动替换。
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		if home != "" {
			return home + path[1:]
		}
	}
	return path
}
