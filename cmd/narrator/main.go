package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/iabetor/narrator/internal/cache"
	"github.com/iabetor/narrator/internal/config"
	"github.com/iabetor/narrator/internal/job"
	"github.com/iabetor/narrator/internal/logger"
	"github.com/iabetor/narrator/internal/tts"
)

func main() {
	configPath := flag.String("config", "configs/narrator.yaml", "配置文件路径")
	inputPath := flag.String("input", "", "文本文件路径，每行一条待合成文本")
	engineName := flag.String("engine", "", "合成引擎（覆盖配置中的默认值）")
	voice := flag.String("voice", "", "语音（覆盖配置中的默认值）")
	language := flag.String("language", "", "语言（覆盖配置中的默认值）")
	owner := flag.String("owner", "", "批次归属标识")
	webhookURL := flag.String("webhook", "", "批次完成后回调的 URL")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
	}); err != nil {
		fmt.Fprintf(os.Stderr, "初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	texts, err := collectTexts(*inputPath, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取输入文本失败: %v\n", err)
		os.Exit(1)
	}
	if len(texts) == 0 {
		fmt.Fprintln(os.Stderr, "没有待合成的文本：用 -input 指定文件或在命令行直接给出文本")
		os.Exit(1)
	}

	logger.Infof("[main] Narrator 启动中 (engine=%s, texts=%d)", cfg.TTS.Engine, len(texts))

	c, err := cache.New(cfg.Cache.Dir, cfg.Cache.MaxBytes())
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化缓存失败: %v\n", err)
		os.Exit(1)
	}
	defer c.Close()

	gateway, err := buildGateway(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "初始化合成引擎失败: %v\n", err)
		os.Exit(1)
	}

	svc, err := job.NewService(cfg, gateway, c)
	if err != nil {
		fmt.Fprintf(os.Stderr, "启动批量处理服务失败: %v\n", err)
		os.Exit(1)
	}
	defer svc.Shutdown()

	done := make(chan *job.Report, 1)
	batchID, err := svc.CreateBatch(job.BatchRequest{
		Texts:      texts,
		Provider:   *engineName,
		Voice:      *voice,
		Language:   *language,
		Owner:      *owner,
		WebhookURL: *webhookURL,
		OnComplete: func(r *job.Report) { done <- r },
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "创建批次失败: %v\n", err)
		os.Exit(1)
	}
	if err := svc.StartBatch(batchID); err != nil {
		fmt.Fprintf(os.Stderr, "启动批次失败: %v\n", err)
		os.Exit(1)
	}

	// 监听系统信号：首次收到时取消批次等待收尾，再次收到时直接退出
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case report := <-done:
			printSummary(report)
			if report.FailureCount > 0 {
				os.Exit(1)
			}
			return
		case sig := <-sigCh:
			logger.Infof("[main] 收到信号 %v，取消批次 %s", sig, batchID)
			if err := svc.CancelBatch(batchID); err != nil {
				logger.Warnf("[main] 取消批次失败: %v", err)
				return
			}
			// 已分派的任务自然结束后由 Shutdown 收尾
			go func() {
				<-sigCh
				logger.Warn("[main] 再次收到信号，立即退出")
				os.Exit(1)
			}()
			snap, err := svc.GetBatchStatus(batchID)
			if err == nil {
				fmt.Printf("批次 %s 已取消: 完成 %d/%d\n", batchID, snap.SuccessCount, snap.TotalTasks)
			}
			return
		}
	}
}

// collectTexts 汇总待合成文本：优先读文件（每行一条），再附加命令行参数。
func collectTexts(inputPath string, args []string) ([]string, error) {
	var texts []string

	if inputPath != "" {
		f, err := os.Open(inputPath)
		if err != nil {
			return nil, err
		}
		defer f.Close()

		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := strings.TrimSpace(scanner.Text())
			if line != "" {
				texts = append(texts, line)
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, err
		}
	}

	for _, arg := range args {
		if strings.TrimSpace(arg) != "" {
			texts = append(texts, arg)
		}
	}
	return texts, nil
}

// buildGateway 根据配置组装合成网关。
// Edge 引擎始终可用；配置了密钥时注册腾讯云引擎，
// 两者都在时把另一个设为故障转移引擎。
func buildGateway(cfg *config.Config) (*tts.Gateway, error) {
	edge := tts.NewEdgeEngine(cfg.TTS.Edge.Voice)

	var tencent *tts.TencentEngine
	if cfg.TTS.Tencent.SecretID != "" && cfg.TTS.Tencent.SecretKey != "" {
		t, err := tts.NewTencentEngine(tts.TencentConfig{
			SecretID:  cfg.TTS.Tencent.SecretID,
			SecretKey: cfg.TTS.Tencent.SecretKey,
			VoiceType: cfg.TTS.Tencent.VoiceType,
			Region:    cfg.TTS.Tencent.Region,
		})
		if err != nil {
			return nil, err
		}
		tencent = t
	}

	switch cfg.TTS.Engine {
	case "tencent":
		if tencent == nil {
			return nil, fmt.Errorf("默认引擎为 tencent 但未配置密钥")
		}
		g := tts.NewGateway(tencent)
		g.Register(edge)
		g.SetFallback(edge)
		return g, nil
	case "mock":
		g := tts.NewGateway(tts.NewMockEngine(1.0))
		g.Register(edge)
		return g, nil
	default:
		g := tts.NewGateway(edge)
		if tencent != nil {
			g.Register(tencent)
			g.SetFallback(tencent)
		}
		return g, nil
	}
}

// printSummary 向标准输出打印批次结果摘要。
func printSummary(r *job.Report) {
	fmt.Printf("批次 %s 完成: 成功 %d, 失败 %d, 总时长 %.2f 秒\n",
		r.BatchID, r.SuccessCount, r.FailureCount, r.TotalDuration)
	for _, a := range r.Artifacts {
		fmt.Printf("  %s (%.2fs, %d 字节)\n", a.Path, a.Duration, a.Size)
	}
	for msg, ids := range r.Errors {
		fmt.Printf("  失败 %d 个任务: %s\n", len(ids), msg)
	}
}
