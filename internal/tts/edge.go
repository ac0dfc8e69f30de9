package tts

import (
	"bytes"
	"context"
	"fmt"

	"github.com/pp-group/edge-tts-go/biz/service/tts/edge"

	"github.com/iabetor/narrator/internal/logger"
)

// EdgeEngine 使用微软 Edge TTS 实现语音合成，
// 通过 edge-tts-go 获取 MP3 音频并写入目标文件。
type EdgeEngine struct {
	defaultVoice string
}

// NewEdgeEngine 创建指定默认语音的 Edge TTS 引擎。
func NewEdgeEngine(defaultVoice string) *EdgeEngine {
	return &EdgeEngine{defaultVoice: defaultVoice}
}

// Name 返回引擎名称。
func (e *EdgeEngine) Name() string { return "edge" }

// Synthesize 将文本合成为 MP3 文件。
func (e *EdgeEngine) Synthesize(ctx context.Context, req Request) (*Result, error) {
	voice := req.Voice
	if voice == "" {
		voice = e.defaultVoice
	}

	logger.Debugf("[tts] edge-tts: 正在合成 %d 个字符，语音=%s", len([]rune(req.Text)), voice)

	// 创建 Communicate 实例并通过 Stream() 获取 MP3 音频块
	comm, err := edge.NewCommunicate(req.Text, edge.WithVoice(voice))
	if err != nil {
		return nil, fmt.Errorf("[tts] edge-tts 创建实例失败: %w", err)
	}

	ch, err := comm.Stream()
	if err != nil {
		return nil, fmt.Errorf("[tts] edge-tts 开始流式合成失败: %w", err)
	}

	// 从 channel 收集所有音频数据
	var mp3Buf bytes.Buffer
	for msg := range ch {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		// Stream() 返回的 map 中，type=="audio" 的条目包含音频数据
		if msgType, ok := msg["type"].(string); ok && msgType == "audio" {
			if data, ok := msg["data"].([]byte); ok {
				mp3Buf.Write(data)
			}
		}
	}

	mp3Data := mp3Buf.Bytes()
	if len(mp3Data) == 0 {
		return nil, fmt.Errorf("[tts] edge-tts: 未收到音频数据")
	}

	duration, err := MP3Duration(mp3Data)
	if err != nil {
		return nil, fmt.Errorf("[tts] edge-tts 音频校验失败: %w", err)
	}

	if err := writeAudioFile(req.OutputPath, mp3Data); err != nil {
		return nil, err
	}

	logger.Debugf("[tts] edge-tts: 已写入 %d 字节 MP3，时长 %.2f 秒 → %s",
		len(mp3Data), duration, req.OutputPath)

	return &Result{
		AudioPath: req.OutputPath,
		Duration:  duration,
		FileSize:  int64(len(mp3Data)),
		Provider:  e.Name(),
	}, nil
}
