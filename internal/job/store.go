package job

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// snapshotTextLimit 快照中保存的任务文本最大 rune 数。
const snapshotTextLimit = 100

// TaskSnapshot 快照中的任务摘要。
type TaskSnapshot struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"` // 截断保存
	Status     TaskStatus `json:"status"`
	Error      string     `json:"error,omitempty"`
	Duration   float64    `json:"duration,omitempty"`
	Provider   string     `json:"provider,omitempty"`
	OutputPath string     `json:"output_path"`
	RetryCount int        `json:"retry_count"`
}

// BatchSnapshot 批次的持久化快照，也是状态查询的返回结构。
// 每次状态变更后整体落盘，进程重启后据此恢复查询。
type BatchSnapshot struct {
	ID            string            `json:"id"`
	Owner         string            `json:"owner"`
	Status        BatchStatus       `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
	StartedAt     *time.Time        `json:"started_at,omitempty"`
	CompletedAt   *time.Time        `json:"completed_at,omitempty"`
	OutputDir     string            `json:"output_dir"`
	Progress      float64           `json:"progress"`
	SuccessCount  int               `json:"success_count"`
	FailureCount  int               `json:"failure_count"`
	TotalTasks    int               `json:"total_tasks"`
	TotalDuration float64           `json:"total_duration"`
	WebhookURL    string            `json:"webhook_url,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	Tasks         []TaskSnapshot    `json:"tasks"`
}

// Store 批次快照的磁盘存储，每个批次一个 JSON 文件。
type Store struct {
	mu  sync.Mutex
	dir string
}

// NewStore 创建快照存储，确保目录存在。
func NewStore(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("创建状态目录失败: %w", err)
	}
	return &Store{dir: dir}, nil
}

// Save 原子写入批次快照：先写临时文件再重命名，
// 避免进程在写入中途崩溃留下损坏的状态文件。
func (st *Store) Save(snap *BatchSnapshot) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化批次快照失败: %w", err)
	}

	path := st.path(snap.ID)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("写入快照临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("重命名快照文件失败: %w", err)
	}
	return nil
}

// Load 读取指定批次的快照。
func (st *Store) Load(batchID string) (*BatchSnapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	data, err := os.ReadFile(st.path(batchID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBatchNotFound
		}
		return nil, fmt.Errorf("读取批次快照失败: %w", err)
	}

	snap := &BatchSnapshot{}
	if err := json.Unmarshal(data, snap); err != nil {
		return nil, fmt.Errorf("解析批次快照失败: %w", err)
	}
	return snap, nil
}

// LoadAll 读取目录下的全部批次快照。
func (st *Store) LoadAll() ([]*BatchSnapshot, error) {
	st.mu.Lock()
	defer st.mu.Unlock()

	entries, err := os.ReadDir(st.dir)
	if err != nil {
		return nil, fmt.Errorf("读取状态目录失败: %w", err)
	}

	var snaps []*BatchSnapshot
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		data, err := os.ReadFile(filepath.Join(st.dir, name))
		if err != nil {
			continue
		}
		snap := &BatchSnapshot{}
		if err := json.Unmarshal(data, snap); err != nil {
			// 损坏的快照跳过，不影响其它批次
			continue
		}
		snaps = append(snaps, snap)
	}
	return snaps, nil
}

// Delete 删除批次快照（批次清理时调用）。
func (st *Store) Delete(batchID string) error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if err := os.Remove(st.path(batchID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("删除批次快照失败: %w", err)
	}
	return nil
}

func (st *Store) path(batchID string) string {
	return filepath.Join(st.dir, batchID+".json")
}

// snapshotText 截断任务文本用于快照保存。
func snapshotText(text string) string {
	runes := []rune(text)
	if len(runes) <= snapshotTextLimit {
		return text
	}
	return string(runes[:snapshotTextLimit])
}
