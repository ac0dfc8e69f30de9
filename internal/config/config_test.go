package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestSetDefaults_EmptyConfig(t *testing.T) {
	cfg := &Config{}
	setDefaults(cfg)

	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"Jobs.Workers", cfg.Jobs.Workers, 4},
		{"Jobs.QueueSize", cfg.Jobs.QueueSize, 256},
		{"Jobs.MaxRetries", cfg.Jobs.MaxRetries, 3},
		{"Cache.MaxSizeMB", cfg.Cache.MaxSizeMB, int64(512)},
		{"TTS.Engine", cfg.TTS.Engine, "edge"},
		{"TTS.Voice", cfg.TTS.Voice, "zh-CN-XiaoxiaoNeural"},
		{"TTS.Language", cfg.TTS.Language, "zh-CN"},
		{"Webhook.TimeoutSecs", cfg.Webhook.TimeoutSecs, 10},
		{"Log.Level", cfg.Log.Level, "info"},
	}

	for _, c := range checks {
		switch want := c.want.(type) {
		case int:
			if c.got.(int) != want {
				t.Errorf("%s: got %v, want %v", c.name, c.got, want)
			}
		case int64:
			if c.got.(int64) != want {
				t.Errorf("%s: got %v, want %v", c.name, c.got, want)
			}
		case string:
			if c.got.(string) != want {
				t.Errorf("%s: got %v, want %v", c.name, c.got, want)
			}
		}
	}

	// 路径默认值应非空
	if cfg.Jobs.OutputRoot == "" || cfg.Jobs.StateDir == "" || cfg.Cache.Dir == "" {
		t.Errorf("path defaults should not be empty: %q %q %q",
			cfg.Jobs.OutputRoot, cfg.Jobs.StateDir, cfg.Cache.Dir)
	}
	// Edge 语音默认继承顶层 voice
	if cfg.TTS.Edge.Voice != cfg.TTS.Voice {
		t.Errorf("Edge.Voice should inherit TTS.Voice: got %s", cfg.TTS.Edge.Voice)
	}
}

func TestSetDefaults_DoesNotOverride(t *testing.T) {
	cfg := &Config{
		Jobs:  JobsConfig{Workers: 2, QueueSize: 16, MaxRetries: 5},
		Cache: CacheConfig{MaxSizeMB: 64},
		TTS:   TTSConfig{Engine: "mock", Voice: "custom-voice"},
		Log:   LogConfig{Level: "debug"},
	}
	setDefaults(cfg)

	if cfg.Jobs.Workers != 2 {
		t.Errorf("Workers should not be overridden: got %d", cfg.Jobs.Workers)
	}
	if cfg.Jobs.QueueSize != 16 {
		t.Errorf("QueueSize should not be overridden: got %d", cfg.Jobs.QueueSize)
	}
	if cfg.Jobs.MaxRetries != 5 {
		t.Errorf("MaxRetries should not be overridden: got %d", cfg.Jobs.MaxRetries)
	}
	if cfg.Cache.MaxSizeMB != 64 {
		t.Errorf("MaxSizeMB should not be overridden: got %d", cfg.Cache.MaxSizeMB)
	}
	if cfg.TTS.Engine != "mock" {
		t.Errorf("TTS.Engine should not be overridden: got %s", cfg.TTS.Engine)
	}
	if cfg.TTS.Voice != "custom-voice" {
		t.Errorf("TTS.Voice should not be overridden: got %s", cfg.TTS.Voice)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Log.Level should not be overridden: got %s", cfg.Log.Level)
	}
}

func TestCacheConfig_MaxBytes(t *testing.T) {
	cases := []struct {
		name   string
		sizeMB int64
		want   int64
	}{
		{"positive", 64, 64 * 1024 * 1024},
		{"negative disables", -1, 0},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := CacheConfig{MaxSizeMB: c.sizeMB}
			if got := cfg.MaxBytes(); got != c.want {
				t.Errorf("MaxBytes: got %d, want %d", got, c.want)
			}
		})
	}

	// 负值是显式禁用，setDefaults 不能改写它
	cfg := &Config{Cache: CacheConfig{MaxSizeMB: -1}}
	setDefaults(cfg)
	if cfg.Cache.MaxSizeMB != -1 {
		t.Errorf("explicit disable overridden: got %d", cfg.Cache.MaxSizeMB)
	}
	if err := Validate(cfg); err != nil {
		t.Errorf("disabled cache should validate: %v", err)
	}
}

func TestLoad_ExpandsEnvVars(t *testing.T) {
	t.Setenv("NARRATOR_TEST_SECRET", "sk-12345")

	content := `
tts:
  engine: tencent
  tencent:
    secret_id: test-id
    secret_key: ${NARRATOR_TEST_SECRET}
`
	path := filepath.Join(t.TempDir(), "narrator.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.TTS.Tencent.SecretKey != "sk-12345" {
		t.Errorf("env var not expanded: got %q", cfg.TTS.Tencent.SecretKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "no-such.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad engine", func(c *Config) { c.TTS.Engine = "unknown" }, "TTS"},
		{"tencent without keys", func(c *Config) {
			c.TTS.Engine = "tencent"
			c.TTS.Tencent.SecretID = ""
			c.TTS.Tencent.SecretKey = ""
		}, "secret"},
		{"negative retries", func(c *Config) { c.Jobs.MaxRetries = -1 }, "max_retries"},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cfg := &Config{}
			setDefaults(cfg)
			c.mutate(cfg)
			err := Validate(cfg)
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), c.want) {
				t.Errorf("error %q should mention %q", err, c.want)
			}
		})
	}
}
