package job

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/iabetor/narrator/internal/cache"
	"github.com/iabetor/narrator/internal/config"
	"github.com/iabetor/narrator/internal/logger"
	"github.com/iabetor/narrator/internal/tts"
)

// BatchRequest 一次批量提交请求。
type BatchRequest struct {
	Texts      []string
	Provider   string // 为空时使用配置中的默认引擎
	Voice      string
	Language   string
	Owner      string
	WebhookURL string
	Metadata   map[string]string

	// OnComplete 批次完成时的回调，在完成路径上同步调用。
	OnComplete func(*Report)
}

// Service 批量合成编排器。
// 维护批次/任务记录和一个固定大小的 worker 池；worker 数量
// 同时就是外部合成调用的并发上限。生命周期由持有方通过
// NewService/Shutdown 显式管理。
type Service struct {
	cfg     *config.Config
	gateway *tts.Gateway
	cache   *cache.Cache
	store   *Store
	webhook *WebhookClient

	mu      sync.Mutex
	batches map[string]*Batch
	tasks   map[string]*Task

	queue     chan string // 任务 ID 队列
	done      chan struct{}
	wg        sync.WaitGroup
	webhookWg sync.WaitGroup
	closeOnce sync.Once
}

// NewService 创建并启动批量合成服务。
func NewService(cfg *config.Config, gateway *tts.Gateway, c *cache.Cache) (*Service, error) {
	if err := os.MkdirAll(cfg.Jobs.OutputRoot, 0755); err != nil {
		return nil, fmt.Errorf("创建输出目录失败: %w", err)
	}

	store, err := NewStore(cfg.Jobs.StateDir)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:     cfg,
		gateway: gateway,
		cache:   c,
		store:   store,
		webhook: NewWebhookClient(time.Duration(cfg.Webhook.TimeoutSecs) * time.Second),
		batches: make(map[string]*Batch),
		tasks:   make(map[string]*Task),
		queue:   make(chan string, cfg.Jobs.QueueSize),
		done:    make(chan struct{}),
	}

	// 历史快照只用于重启后的状态查询，不恢复执行
	if snaps, err := store.LoadAll(); err == nil && len(snaps) > 0 {
		logger.Infof("[job] 发现 %d 个历史批次快照", len(snaps))
	}

	for i := 0; i < cfg.Jobs.Workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}

	logger.Infof("[job] 批量处理服务已启动 (workers=%d, queue=%d, max_retries=%d)",
		cfg.Jobs.Workers, cfg.Jobs.QueueSize, cfg.Jobs.MaxRetries)
	return s, nil
}

// CreateBatch 校验并过滤空文本，为每条文本创建任务并持久化批次。
// 只建档不合成，立刻返回批次 ID。
func (s *Service) CreateBatch(req BatchRequest) (string, error) {
	var texts []string
	for _, t := range req.Texts {
		if strings.TrimSpace(t) != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return "", ErrNoTexts
	}

	provider := req.Provider
	if provider == "" {
		provider = s.cfg.TTS.Engine
	}
	voice := req.Voice
	if voice == "" {
		voice = s.cfg.TTS.Voice
	}
	language := req.Language
	if language == "" {
		language = s.cfg.TTS.Language
	}

	batchID := uuid.NewString()
	outputDir := filepath.Join(s.cfg.Jobs.OutputRoot, batchID)
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("创建批次输出目录失败: %w", err)
	}

	now := time.Now()
	batch := &Batch{
		ID:         batchID,
		Owner:      req.Owner,
		Status:     BatchPending,
		CreatedAt:  now,
		OutputDir:  outputDir,
		Metadata:   req.Metadata,
		WebhookURL: req.WebhookURL,
		onComplete: req.OnComplete,
	}

	s.mu.Lock()
	for i, text := range texts {
		task := &Task{
			ID:      uuid.NewString(),
			BatchID: batchID,
			Text:    text,
			// 输出文件名由批次 ID 和序号决定
			OutputPath: filepath.Join(outputDir, fmt.Sprintf("task_%s_%03d.mp3", batchID[:8], i+1)),
			Provider:   provider,
			Voice:      voice,
			Language:   language,
			Status:     TaskWaiting,
			CreatedAt:  now,
			MaxRetries: s.cfg.Jobs.MaxRetries,
		}
		s.tasks[task.ID] = task
		batch.TaskIDs = append(batch.TaskIDs, task.ID)
	}
	s.batches[batchID] = batch
	snap := s.snapshotLocked(batch)
	s.mu.Unlock()

	if err := s.store.Save(snap); err != nil {
		return "", err
	}

	logger.Infof("[job] 批次 %s 已创建: %d 个任务 (owner=%s, engine=%s)",
		batchID, len(texts), req.Owner, provider)
	return batchID, nil
}

// StartBatch 将 pending 批次转入 processing 并把全部任务入队。
// 入队在后台进行，不阻塞调用方。
func (s *Service) StartBatch(batchID string) error {
	s.mu.Lock()
	batch, ok := s.batches[batchID]
	if !ok {
		s.mu.Unlock()
		return ErrBatchNotFound
	}
	if batch.Status != BatchPending {
		s.mu.Unlock()
		return ErrBatchNotPending
	}
	batch.Status = BatchProcessing
	now := time.Now()
	batch.StartedAt = &now
	ids := append([]string(nil), batch.TaskIDs...)
	snap := s.snapshotLocked(batch)
	s.mu.Unlock()

	s.saveSnap(snap)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for _, id := range ids {
			select {
			case s.queue <- id:
			case <-s.done:
				return
			}
		}
	}()

	logger.Infof("[job] 批次 %s 开始处理", batchID)
	return nil
}

// CancelBatch 取消批次：拒绝已终态的批次，等待中的任务标记为
// skipped，处理中的任务自然结束。尽力而为，不抢占已分派的合成调用。
func (s *Service) CancelBatch(batchID string) error {
	s.mu.Lock()
	batch, ok := s.batches[batchID]
	if !ok {
		s.mu.Unlock()
		return ErrBatchNotFound
	}
	if batch.Status.Terminal() {
		s.mu.Unlock()
		return ErrBatchTerminal
	}

	batch.Status = BatchCancelled
	now := time.Now()
	batch.CompletedAt = &now

	skipped := 0
	for _, tid := range batch.TaskIDs {
		task := s.tasks[tid]
		if task != nil && task.Status == TaskWaiting {
			transitionTask(task, TaskSkipped)
			task.CompletedAt = &now
			skipped++
		}
	}
	s.updateProgressLocked(batch)
	snap := s.snapshotLocked(batch)
	s.mu.Unlock()

	s.saveSnap(snap)
	logger.Infof("[job] 批次 %s 已取消，跳过 %d 个等待任务", batchID, skipped)
	return nil
}

// GetBatchStatus 返回批次状态快照。
// 内存中没有的批次从磁盘快照恢复，进程重启后依然可查。
func (s *Service) GetBatchStatus(batchID string) (*BatchSnapshot, error) {
	s.mu.Lock()
	if batch, ok := s.batches[batchID]; ok {
		snap := s.snapshotLocked(batch)
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()

	return s.store.Load(batchID)
}

// Shutdown 停止 worker 池并把所有批次状态落盘。
// 正在进行的合成任务会被等待至结束。
func (s *Service) Shutdown() {
	s.closeOnce.Do(func() { close(s.done) })
	s.wg.Wait()
	s.webhookWg.Wait()

	s.mu.Lock()
	snaps := make([]*BatchSnapshot, 0, len(s.batches))
	for _, batch := range s.batches {
		snaps = append(snaps, s.snapshotLocked(batch))
	}
	s.mu.Unlock()
	for _, snap := range snaps {
		s.saveSnap(snap)
	}

	logger.Info("[job] 批量处理服务已停止")
}

// worker 循环：等待任务或停止信号。
func (s *Service) worker(n int) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case taskID := <-s.queue:
			s.process(taskID)
		}
	}
}

// process 处理单个任务：查缓存，未命中时调用合成网关，
// 失败则有界重试。同一指纹的处理在指纹锁内串行，
// 避免相同内容并发合成时重复写入。
func (s *Service) process(taskID string) {
	s.mu.Lock()
	task := s.tasks[taskID]
	if task == nil {
		s.mu.Unlock()
		return
	}
	batch := s.batches[task.BatchID]
	if batch == nil || task.Status != TaskWaiting {
		// 任务已被取消跳过
		s.mu.Unlock()
		return
	}
	transitionTask(task, TaskProcessing)
	now := time.Now()
	task.StartedAt = &now
	snap := s.snapshotLocked(batch)
	s.mu.Unlock()
	s.saveSnap(snap)

	key := cache.Fingerprint(task.Text, task.Provider, task.Voice, task.Language)
	unlock := s.cache.LockKey(key)

	if entry, ok := s.cache.Lookup(task.Text, task.Provider, task.Voice, task.Language); ok {
		err := copyFile(entry.AudioPath, task.OutputPath)
		unlock()
		if err != nil {
			s.retryOrFail(task, fmt.Errorf("复制缓存音频失败: %w", err))
			return
		}
		logger.Infof("[job] 任务 %s 缓存命中 (%s)", task.ID, key)
		s.complete(task, &TaskResult{
			AudioPath: task.OutputPath,
			Duration:  entry.Duration,
			FileSize:  entry.Size,
			Provider:  entry.Provider,
			FromCache: true,
		})
		return
	}

	res, err := s.gateway.Synthesize(context.Background(), task.Provider, tts.Request{
		Text:       task.Text,
		Voice:      task.Voice,
		Language:   task.Language,
		OutputPath: task.OutputPath,
	})
	if err != nil {
		unlock()
		s.retryOrFail(task, err)
		return
	}

	if _, err := s.cache.Store(task.Text, task.Provider, task.Voice, task.Language,
		res.AudioPath, res.Duration, map[string]string{"batch_id": task.BatchID}); err != nil {
		// 缓存写入失败不影响任务结果
		logger.Warnf("[job] 任务 %s 写入缓存失败: %v", task.ID, err)
	}
	unlock()

	s.complete(task, &TaskResult{
		AudioPath: res.AudioPath,
		Duration:  res.Duration,
		FileSize:  res.FileSize,
		Provider:  res.Provider,
	})
}

// complete 标记任务成功并更新批次进度。
func (s *Service) complete(task *Task, result *TaskResult) {
	s.mu.Lock()
	transitionTask(task, TaskCompleted)
	now := time.Now()
	task.CompletedAt = &now
	task.Result = result
	task.Error = ""

	batch := s.batches[task.BatchID]
	batch.SuccessCount++
	batch.TotalDuration += result.Duration
	s.updateProgressLocked(batch)
	finalize := batch.Status == BatchProcessing && s.allTerminalLocked(batch)
	snap := s.snapshotLocked(batch)
	s.mu.Unlock()

	s.saveSnap(snap)
	if finalize {
		s.finalize(batch)
	}
}

// retryOrFail 记录失败：重试次数未耗尽时重新入队，否则永久失败。
// 批次已取消时不再发起重试。
func (s *Service) retryOrFail(task *Task, cause error) {
	s.mu.Lock()
	batch := s.batches[task.BatchID]
	task.Error = cause.Error()

	if batch.Status != BatchCancelled && task.RetryCount < task.MaxRetries {
		task.RetryCount++
		transitionTask(task, TaskWaiting)
		snap := s.snapshotLocked(batch)
		retry := task.RetryCount
		s.mu.Unlock()

		s.saveSnap(snap)
		logger.Warnf("[job] 任务 %s 合成失败，重试 %d/%d: %v",
			task.ID, retry, task.MaxRetries, cause)
		// 队列打满时阻塞发送会卡住 worker 本身，重新入队必须在
		// 独立 goroutine 中进行，和 StartBatch 的入队方式一致
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			select {
			case s.queue <- task.ID:
			case <-s.done:
			}
		}()
		return
	}

	transitionTask(task, TaskFailed)
	now := time.Now()
	task.CompletedAt = &now
	batch.FailureCount++
	s.updateProgressLocked(batch)
	finalize := batch.Status == BatchProcessing && s.allTerminalLocked(batch)
	snap := s.snapshotLocked(batch)
	s.mu.Unlock()

	s.saveSnap(snap)
	logger.Errorf("[job] 任务 %s 重试耗尽，永久失败: %v", task.ID, cause)
	if finalize {
		s.finalize(batch)
	}
}

// finalize 批次收尾：标记完成、写报告、触发回调和 webhook。
// webhook 在独立 goroutine 中投递，不占用 worker。
func (s *Service) finalize(batch *Batch) {
	s.mu.Lock()
	if batch.Status != BatchProcessing || !s.allTerminalLocked(batch) {
		s.mu.Unlock()
		return
	}
	batch.Status = BatchCompleted
	now := time.Now()
	batch.CompletedAt = &now

	tasks := make([]*Task, 0, len(batch.TaskIDs))
	for _, tid := range batch.TaskIDs {
		if task := s.tasks[tid]; task != nil {
			tasks = append(tasks, task)
		}
	}
	report := buildReport(batch, tasks)
	callback := batch.onComplete
	payload := WebhookPayload{
		BatchID:       batch.ID,
		Status:        batch.Status,
		SuccessCount:  batch.SuccessCount,
		FailureCount:  batch.FailureCount,
		TotalDuration: batch.TotalDuration,
		Progress:      batch.Progress,
		Report:        report,
	}
	webhookURL := batch.WebhookURL
	outputDir := batch.OutputDir
	snap := s.snapshotLocked(batch)
	s.mu.Unlock()

	s.saveSnap(snap)
	if err := report.Write(outputDir); err != nil {
		logger.Warnf("[job] 批次 %s 写入报告失败: %v", batch.ID, err)
	}

	logger.Infof("[job] 批次 %s 完成: 成功 %d, 失败 %d, 总时长 %.2f 秒",
		batch.ID, batch.SuccessCount, batch.FailureCount, batch.TotalDuration)

	if callback != nil {
		callback(report)
	}

	if webhookURL != "" {
		s.webhookWg.Add(1)
		go func() {
			defer s.webhookWg.Done()
			if err := s.webhook.Deliver(webhookURL, payload); err != nil {
				// 投递失败只记日志，不影响批次状态
				logger.Warnf("[job] 批次 %s webhook 投递失败: %v", batch.ID, err)
			}
		}()
	}
}

// updateProgressLocked 按终态任务数重算进度，只增不减（调用方需持有锁）。
func (s *Service) updateProgressLocked(batch *Batch) {
	if len(batch.TaskIDs) == 0 {
		return
	}
	terminal := 0
	for _, tid := range batch.TaskIDs {
		if task := s.tasks[tid]; task != nil && task.Status.Terminal() {
			terminal++
		}
	}
	progress := float64(terminal) / float64(len(batch.TaskIDs)) * 100
	if progress > batch.Progress {
		batch.Progress = progress
	}
}

// allTerminalLocked 返回批次下所有任务是否均已终态（调用方需持有锁）。
func (s *Service) allTerminalLocked(batch *Batch) bool {
	for _, tid := range batch.TaskIDs {
		if task := s.tasks[tid]; task != nil && !task.Status.Terminal() {
			return false
		}
	}
	return true
}

// snapshotLocked 构建批次快照（调用方需持有锁）。
func (s *Service) snapshotLocked(batch *Batch) *BatchSnapshot {
	snap := &BatchSnapshot{
		ID:            batch.ID,
		Owner:         batch.Owner,
		Status:        batch.Status,
		CreatedAt:     batch.CreatedAt,
		StartedAt:     batch.StartedAt,
		CompletedAt:   batch.CompletedAt,
		OutputDir:     batch.OutputDir,
		Progress:      batch.Progress,
		SuccessCount:  batch.SuccessCount,
		FailureCount:  batch.FailureCount,
		TotalTasks:    len(batch.TaskIDs),
		TotalDuration: batch.TotalDuration,
		WebhookURL:    batch.WebhookURL,
		Metadata:      batch.Metadata,
	}
	for _, tid := range batch.TaskIDs {
		task := s.tasks[tid]
		if task == nil {
			continue
		}
		ts := TaskSnapshot{
			ID:         task.ID,
			Text:       snapshotText(task.Text),
			Status:     task.Status,
			Error:      task.Error,
			OutputPath: task.OutputPath,
			RetryCount: task.RetryCount,
		}
		if task.Result != nil {
			ts.Duration = task.Result.Duration
			ts.Provider = task.Result.Provider
		}
		snap.Tasks = append(snap.Tasks, ts)
	}
	return snap
}

// saveSnap 持久化快照，失败只记日志。
func (s *Service) saveSnap(snap *BatchSnapshot) {
	if err := s.store.Save(snap); err != nil {
		logger.Warnf("[job] 持久化批次 %s 失败: %v", snap.ID, err)
	}
}

// copyFile 将 src 复制到 dst，先写 .tmp 再重命名。
func copyFile(src, dst string) error {
	if src == dst {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmpPath := dst + ".tmp"
	out, err := os.Create(tmpPath)
	if err != nil {
		return err
	}
	_, err = io.Copy(out, in)
	closeErr := out.Close()
	if err != nil {
		os.Remove(tmpPath)
		return err
	}
	if closeErr != nil {
		os.Remove(tmpPath)
		return closeErr
	}
	return os.Rename(tmpPath, dst)
}
