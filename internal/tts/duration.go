package tts

import (
	"bytes"
	"fmt"
	"io"

	"github.com/hajimehoshi/go-mp3"
)

// mp3BytesPerFrame 解码输出固定为 16-bit 立体声 PCM，每帧 4 字节。
const mp3BytesPerFrame = 4

// MP3Duration 解码 MP3 数据并返回音频时长（秒）。
func MP3Duration(data []byte) (float64, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("[tts] 音频数据为空")
	}

	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, fmt.Errorf("[tts] MP3 解码失败: %w", err)
	}

	pcmBytes := decoder.Length()
	if pcmBytes <= 0 {
		// 无法直接定位长度时完整解码一遍
		n, err := io.Copy(io.Discard, decoder)
		if err != nil {
			return 0, fmt.Errorf("[tts] 读取 PCM 数据失败: %w", err)
		}
		pcmBytes = n
	}

	sampleRate := decoder.SampleRate()
	if sampleRate <= 0 {
		return 0, fmt.Errorf("[tts] 无效的采样率: %d", sampleRate)
	}

	return float64(pcmBytes) / mp3BytesPerFrame / float64(sampleRate), nil
}
