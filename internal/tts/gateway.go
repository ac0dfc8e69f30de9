package tts

import (
	"context"
	"fmt"
	"sync"

	"github.com/iabetor/narrator/internal/logger"
)

// Gateway 按名称将合成请求路由到已注册的引擎。
// 未知的引擎名落到默认引擎；主引擎失败时可选地尝试兜底引擎。
// 重试和缓存不在这里做，由任务处理层负责。
type Gateway struct {
	mu       sync.RWMutex
	engines  map[string]Engine
	def      Engine // 默认引擎
	fallback Engine // 兜底引擎，可为 nil
}

// NewGateway 创建合成网关，def 作为默认引擎并自动注册。
func NewGateway(def Engine) *Gateway {
	g := &Gateway{
		engines: make(map[string]Engine),
		def:     def,
	}
	g.engines[def.Name()] = def
	return g
}

// Register 注册一个引擎，名称冲突时覆盖。
func (g *Gateway) Register(e Engine) {
	g.mu.Lock()
	g.engines[e.Name()] = e
	g.mu.Unlock()
}

// SetFallback 设置兜底引擎，主引擎失败时自动切换。
func (g *Gateway) SetFallback(e Engine) {
	g.mu.Lock()
	g.fallback = e
	g.mu.Unlock()
	if e != nil {
		logger.Infof("[tts] 兜底引擎已设置: %s", e.Name())
	}
}

// Synthesize 将请求路由到 provider 指定的引擎。
// provider 为空或未注册时使用默认引擎。
// 返回的 Result.Provider 记录实际完成合成的引擎。
func (g *Gateway) Synthesize(ctx context.Context, provider string, req Request) (*Result, error) {
	g.mu.RLock()
	engine, ok := g.engines[provider]
	if !ok {
		engine = g.def
	}
	fallback := g.fallback
	g.mu.RUnlock()

	if engine == nil {
		return nil, fmt.Errorf("[tts] 没有可用的合成引擎")
	}
	if !ok && provider != "" {
		logger.Warnf("[tts] 未注册的引擎 %s，使用默认引擎 %s", provider, engine.Name())
	}

	res, err := engine.Synthesize(ctx, req)
	if err == nil {
		res.Provider = engine.Name()
		return res, nil
	}

	// 主引擎失败且配置了不同的兜底引擎时切换重试一次
	if fallback != nil && fallback.Name() != engine.Name() && ctx.Err() == nil {
		logger.Warnf("[tts] 引擎 %s 合成失败，切换到兜底引擎 %s: %v",
			engine.Name(), fallback.Name(), err)
		res, ferr := fallback.Synthesize(ctx, req)
		if ferr == nil {
			res.Provider = fallback.Name()
			return res, nil
		}
		return nil, fmt.Errorf("[tts] 兜底引擎 %s 也失败: %w", fallback.Name(), ferr)
	}

	return nil, err
}
