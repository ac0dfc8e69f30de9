package tts

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MockEngine 是用于测试的合成引擎。
// 不调用任何外部服务，向输出路径写入占位数据，
// 可配置固定时长、前 N 次调用失败和每次调用的延迟。
type MockEngine struct {
	mu       sync.Mutex
	calls    int
	failures int           // 前 N 次调用返回错误
	failSub  string        // 包含该子串的文本始终失败
	duration float64       // 返回的固定时长（秒）
	delay    time.Duration // 每次调用的模拟耗时
	payload  []byte        // 写入输出文件的数据
}

// NewMockEngine 创建返回固定时长的 mock 引擎。
func NewMockEngine(duration float64) *MockEngine {
	return &MockEngine{
		duration: duration,
		payload:  []byte("mock-mp3-data"),
	}
}

// FailFirst 设置前 n 次调用返回错误。
func (m *MockEngine) FailFirst(n int) *MockEngine {
	m.mu.Lock()
	m.failures = n
	m.mu.Unlock()
	return m
}

// FailOn 设置包含指定子串的文本始终合成失败，
// 与调用次数无关，用于确定性的失败场景。
func (m *MockEngine) FailOn(sub string) *MockEngine {
	m.mu.Lock()
	m.failSub = sub
	m.mu.Unlock()
	return m
}

// WithDelay 设置每次调用的模拟耗时。
func (m *MockEngine) WithDelay(d time.Duration) *MockEngine {
	m.mu.Lock()
	m.delay = d
	m.mu.Unlock()
	return m
}

// Calls 返回累计调用次数。
func (m *MockEngine) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Name 返回引擎名称。
func (m *MockEngine) Name() string { return "mock" }

// Synthesize 写入占位数据并返回固定结果。
func (m *MockEngine) Synthesize(ctx context.Context, req Request) (*Result, error) {
	m.mu.Lock()
	m.calls++
	call := m.calls
	fail := call <= m.failures
	if m.failSub != "" && strings.Contains(req.Text, m.failSub) {
		fail = true
	}
	delay := m.delay
	duration := m.duration
	payload := m.payload
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	if fail {
		return nil, fmt.Errorf("[tts] mock: 模拟失败（第 %d 次调用）", call)
	}

	if err := writeAudioFile(req.OutputPath, payload); err != nil {
		return nil, err
	}

	return &Result{
		AudioPath: req.OutputPath,
		Duration:  duration,
		FileSize:  int64(len(payload)),
		Provider:  m.Name(),
	}, nil
}
