package tts

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common"
	"github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/common/profile"
	tcloudtts "github.com/tencentcloud/tencentcloud-sdk-go/tencentcloud/tts/v20190823"

	"github.com/iabetor/narrator/internal/logger"
)

// TencentEngine 使用腾讯云 TTS 实现语音合成。
// 适用于中国大陆网络环境，支持多种中文音色。
type TencentEngine struct {
	client    *tcloudtts.Client
	voiceType int64
}

// TencentConfig 腾讯云 TTS 配置。
type TencentConfig struct {
	SecretID  string
	SecretKey string
	VoiceType int64
	Region    string
}

// NewTencentEngine 创建腾讯云 TTS 引擎。
func NewTencentEngine(cfg TencentConfig) (*TencentEngine, error) {
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("[tts] 腾讯云 TTS 需要 SecretID 和 SecretKey")
	}

	if cfg.VoiceType == 0 {
		cfg.VoiceType = 1001 // 默认音色：智瑜（女声）
	}
	if cfg.Region == "" {
		cfg.Region = "ap-guangzhou"
	}

	credential := common.NewCredential(cfg.SecretID, cfg.SecretKey)
	cpf := profile.NewClientProfile()
	cpf.HttpProfile.Endpoint = "tts.tencentcloudapi.com"

	client, err := tcloudtts.NewClient(credential, cfg.Region, cpf)
	if err != nil {
		return nil, fmt.Errorf("[tts] 创建腾讯云 TTS 客户端失败: %w", err)
	}

	logger.Infof("[tts] 腾讯云 TTS 引擎已初始化 (voice=%d, region=%s)", cfg.VoiceType, cfg.Region)

	return &TencentEngine{
		client:    client,
		voiceType: cfg.VoiceType,
	}, nil
}

// Name 返回引擎名称。
func (e *TencentEngine) Name() string { return "tencent" }

// Synthesize 将文本合成为 MP3 文件。
// 腾讯云 TTS 以 Base64 返回 MP3 数据。
func (e *TencentEngine) Synthesize(ctx context.Context, req Request) (*Result, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	logger.Debugf("[tts] 腾讯云 TTS: 正在合成 %d 个字符，音色=%d", len([]rune(req.Text)), e.voiceType)

	request := tcloudtts.NewTextToVoiceRequest()
	request.Text = common.StringPtr(req.Text)
	request.VoiceType = common.Int64Ptr(e.voiceType)
	request.Codec = common.StringPtr("mp3")
	request.Speed = common.Float64Ptr(1.0)
	request.Volume = common.Float64Ptr(5.0)

	response, err := e.client.TextToVoice(request)
	if err != nil {
		return nil, fmt.Errorf("[tts] 腾讯云 TTS 合成失败: %w", err)
	}

	if response.Response == nil || response.Response.Audio == nil {
		return nil, fmt.Errorf("[tts] 腾讯云 TTS: 未返回音频数据")
	}

	mp3Data, err := base64.StdEncoding.DecodeString(*response.Response.Audio)
	if err != nil {
		return nil, fmt.Errorf("[tts] Base64 解码失败: %w", err)
	}

	duration, err := MP3Duration(mp3Data)
	if err != nil {
		return nil, fmt.Errorf("[tts] 腾讯云 TTS 音频校验失败: %w", err)
	}

	if err := writeAudioFile(req.OutputPath, mp3Data); err != nil {
		return nil, err
	}

	logger.Debugf("[tts] 腾讯云 TTS: 已写入 %d 字节 MP3，时长 %.2f 秒 → %s",
		len(mp3Data), duration, req.OutputPath)

	return &Result{
		AudioPath: req.OutputPath,
		Duration:  duration,
		FileSize:  int64(len(mp3Data)),
		Provider:  e.Name(),
	}, nil
}
