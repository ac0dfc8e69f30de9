package job

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// reportFileName 批次完成后写入输出目录的报告文件名。
const reportFileName = "report.json"

// Artifact 报告中的一条产物记录。
type Artifact struct {
	TaskID   string  `json:"task_id"`
	Path     string  `json:"path"`
	Size     int64   `json:"size"`
	Duration float64 `json:"duration"`
}

// Report 批次完成报告。
type Report struct {
	BatchID           string             `json:"batch_id"`
	Owner             string             `json:"owner"`
	Status            BatchStatus        `json:"status"`
	TotalTasks        int                `json:"total_tasks"`
	SuccessCount      int                `json:"success_count"`
	FailureCount      int                `json:"failure_count"`
	TotalDuration     float64            `json:"total_duration"`
	StatusCounts      map[string]int     `json:"status_counts"`
	ProviderDurations map[string]float64 `json:"provider_durations"`
	Artifacts         []Artifact         `json:"artifacts"`
	Errors            map[string][]string `json:"errors,omitempty"` // 错误信息 → 任务 ID 列表
	GeneratedAt       time.Time          `json:"generated_at"`
}

// buildReport 根据批次和任务状态生成完成报告。
// tasks 按提交顺序排列。
func buildReport(batch *Batch, tasks []*Task) *Report {
	r := &Report{
		BatchID:           batch.ID,
		Owner:             batch.Owner,
		Status:            batch.Status,
		TotalTasks:        len(tasks),
		SuccessCount:      batch.SuccessCount,
		FailureCount:      batch.FailureCount,
		TotalDuration:     batch.TotalDuration,
		StatusCounts:      make(map[string]int),
		ProviderDurations: make(map[string]float64),
		GeneratedAt:       time.Now(),
	}

	for _, task := range tasks {
		r.StatusCounts[string(task.Status)]++

		if task.Result != nil {
			r.ProviderDurations[task.Result.Provider] += task.Result.Duration
			r.Artifacts = append(r.Artifacts, Artifact{
				TaskID:   task.ID,
				Path:     task.Result.AudioPath,
				Size:     task.Result.FileSize,
				Duration: task.Result.Duration,
			})
		}

		// 相同错误信息归并到一起
		if task.Error != "" {
			if r.Errors == nil {
				r.Errors = make(map[string][]string)
			}
			r.Errors[task.Error] = append(r.Errors[task.Error], task.ID)
		}
	}
	return r
}

// Write 将报告以 JSON 原子写入批次输出目录。
func (r *Report) Write(outputDir string) error {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化报告失败: %w", err)
	}

	path := filepath.Join(outputDir, reportFileName)
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		return fmt.Errorf("写入报告临时文件失败: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("重命名报告文件失败: %w", err)
	}
	return nil
}
