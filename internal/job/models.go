package job

import (
	"errors"
	"time"

	"github.com/iabetor/narrator/internal/logger"
)

var (
	// ErrBatchNotFound 批次不存在。
	ErrBatchNotFound = errors.New("批次不存在")
	// ErrBatchNotPending 批次不在 pending 状态，无法启动。
	ErrBatchNotPending = errors.New("批次不在 pending 状态")
	// ErrBatchTerminal 批次已进入终态，无法取消。
	ErrBatchTerminal = errors.New("批次已进入终态")
	// ErrNoTexts 没有可处理的文本。
	ErrNoTexts = errors.New("没有可处理的文本")
)

// TaskStatus 任务状态。
type TaskStatus string

const (
	TaskWaiting    TaskStatus = "waiting"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskSkipped    TaskStatus = "skipped"
)

// Terminal 返回该状态是否为终态（不再自动转换）。
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskSkipped
}

// BatchStatus 批次状态。
type BatchStatus string

const (
	BatchPending    BatchStatus = "pending"
	BatchProcessing BatchStatus = "processing"
	BatchCompleted  BatchStatus = "completed"
	BatchFailed     BatchStatus = "failed"
	BatchCancelled  BatchStatus = "cancelled"
)

// Terminal 返回该状态是否为终态。
func (s BatchStatus) Terminal() bool {
	return s == BatchCompleted || s == BatchFailed || s == BatchCancelled
}

// TaskResult 任务的合成结果。
type TaskResult struct {
	AudioPath string  `json:"audio_path"`
	Duration  float64 `json:"duration"`
	FileSize  int64   `json:"file_size"`
	Provider  string  `json:"provider"` // 实际使用的引擎
	FromCache bool    `json:"from_cache"`
}

// Task 单条文本的合成任务。
// 创建后只由取到它的 worker 修改（在 Service 锁内）。
type Task struct {
	ID          string
	BatchID     string
	Text        string
	OutputPath  string
	Provider    string
	Voice       string
	Language    string
	Status      TaskStatus
	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	Error       string
	Result      *TaskResult
	RetryCount  int
	MaxRetries  int
}

// Batch 一次批量提交。独占其下的所有任务。
type Batch struct {
	ID            string
	Owner         string
	TaskIDs       []string // 按提交顺序
	Status        BatchStatus
	CreatedAt     time.Time
	StartedAt     *time.Time
	CompletedAt   *time.Time
	OutputDir     string
	Progress      float64 // 终态任务占比 × 100，单调不减
	SuccessCount  int
	FailureCount  int
	TotalDuration float64 // 成功任务的音频总时长（秒）
	Metadata      map[string]string
	WebhookURL    string

	// onComplete 批次完成时的回调，不参与持久化。
	onComplete func(*Report)
}

// validTaskTransition 检查任务状态转换是否合法：
//
//	waiting    → processing （worker 取到任务）
//	waiting    → skipped    （批次被取消）
//	processing → completed  （合成成功）
//	processing → failed     （重试耗尽）
//	processing → waiting    （失败后重新入队）
func validTaskTransition(from, to TaskStatus) bool {
	switch from {
	case TaskWaiting:
		return to == TaskProcessing || to == TaskSkipped
	case TaskProcessing:
		return to == TaskCompleted || to == TaskFailed || to == TaskWaiting
	}
	return false
}

// transitionTask 执行一次任务状态转换，非法转换只记日志不生效。
func transitionTask(task *Task, to TaskStatus) bool {
	if !validTaskTransition(task.Status, to) {
		logger.Warnf("[job] 任务 %s 非法状态转换 %s → %s", task.ID, task.Status, to)
		return false
	}
	task.Status = to
	return true
}
