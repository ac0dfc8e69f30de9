package tts

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Request 一次合成请求。
type Request struct {
	Text       string // 待合成文本
	Voice      string // 语音名称，为空时由引擎使用默认语音
	Language   string // 语言代码，如 zh-CN
	OutputPath string // 音频产出路径（MP3）
}

// Result 合成结果。
type Result struct {
	AudioPath string  // 产出的音频文件路径
	Duration  float64 // 音频时长（秒）
	FileSize  int64   // 文件大小（字节）
	Provider  string  // 实际使用的引擎名
}

// Engine 定义语音合成后端接口。
// 引擎只负责合成本身，重试和缓存由上层处理。
type Engine interface {
	// Name 返回引擎名称，如 edge、tencent。
	Name() string

	// Synthesize 将文本合成为 MP3 文件并写入 req.OutputPath。
	Synthesize(ctx context.Context, req Request) (*Result, error)
}

// writeAudioFile 将音频数据原子写入目标路径。
// 先写入 .tmp 临时文件再重命名，避免产出半截文件。
func writeAudioFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("创建输出目录失败: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("写入临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("重命名音频文件失败: %w", err)
	}
	return nil
}
