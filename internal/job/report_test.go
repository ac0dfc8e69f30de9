package job

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestBuildReport_CountsAndGrouping(t *testing.T) {
	now := time.Now()
	batch := &Batch{
		ID:            "batch-1",
		Owner:         "tester",
		Status:        BatchCompleted,
		SuccessCount:  2,
		FailureCount:  2,
		TotalDuration: 4.5,
		CompletedAt:   &now,
	}
	tasks := []*Task{
		{ID: "t1", Status: TaskCompleted, Result: &TaskResult{AudioPath: "/out/t1.mp3", FileSize: 100, Duration: 1.5, Provider: "edge"}},
		{ID: "t2", Status: TaskCompleted, Result: &TaskResult{AudioPath: "/out/t2.mp3", FileSize: 200, Duration: 3.0, Provider: "tencent"}},
		{ID: "t3", Status: TaskFailed, Error: "合成超时"},
		{ID: "t4", Status: TaskFailed, Error: "合成超时"},
		{ID: "t5", Status: TaskSkipped},
	}

	r := buildReport(batch, tasks)

	if r.TotalTasks != 5 || r.SuccessCount != 2 || r.FailureCount != 2 {
		t.Errorf("counts: total=%d success=%d failure=%d", r.TotalTasks, r.SuccessCount, r.FailureCount)
	}
	if r.StatusCounts[string(TaskCompleted)] != 2 ||
		r.StatusCounts[string(TaskFailed)] != 2 ||
		r.StatusCounts[string(TaskSkipped)] != 1 {
		t.Errorf("status counts: %v", r.StatusCounts)
	}
	if r.ProviderDurations["edge"] != 1.5 || r.ProviderDurations["tencent"] != 3.0 {
		t.Errorf("provider durations: %v", r.ProviderDurations)
	}
	if len(r.Artifacts) != 2 {
		t.Errorf("artifacts: got %d, want 2", len(r.Artifacts))
	}
	// 相同错误信息归并为一条，关联两个任务
	ids, ok := r.Errors["合成超时"]
	if !ok || len(ids) != 2 {
		t.Errorf("error grouping: %v", r.Errors)
	}
}

func TestBuildReport_NoErrorsOmitsMap(t *testing.T) {
	batch := &Batch{ID: "batch-1", Status: BatchCompleted, SuccessCount: 1}
	tasks := []*Task{
		{ID: "t1", Status: TaskCompleted, Result: &TaskResult{Duration: 1.0, Provider: "mock"}},
	}
	r := buildReport(batch, tasks)
	if r.Errors != nil {
		t.Errorf("errors should be nil for clean batch: %v", r.Errors)
	}
}

func TestReport_WriteAtomic(t *testing.T) {
	dir := t.TempDir()
	r := buildReport(&Batch{ID: "batch-1", Status: BatchCompleted}, nil)

	if err := r.Write(dir); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, reportFileName))
	if err != nil {
		t.Fatalf("report file missing: %v", err)
	}
	var got Report
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatalf("report is not valid JSON: %v", err)
	}
	if got.BatchID != "batch-1" {
		t.Errorf("batch id: got %s", got.BatchID)
	}

	// 不留临时文件
	if _, err := os.Stat(filepath.Join(dir, reportFileName+".tmp")); !os.IsNotExist(err) {
		t.Errorf("temp file left behind")
	}
}

func TestValidTaskTransition(t *testing.T) {
	cases := []struct {
		from, to TaskStatus
		want     bool
	}{
		{TaskWaiting, TaskProcessing, true},
		{TaskWaiting, TaskSkipped, true},
		{TaskWaiting, TaskCompleted, false},
		{TaskProcessing, TaskCompleted, true},
		{TaskProcessing, TaskFailed, true},
		{TaskProcessing, TaskWaiting, true},
		{TaskCompleted, TaskProcessing, false},
		{TaskFailed, TaskWaiting, false},
		{TaskSkipped, TaskProcessing, false},
	}
	for _, c := range cases {
		if got := validTaskTransition(c.from, c.to); got != c.want {
			t.Errorf("%s → %s: got %v, want %v", c.from, c.to, got, c.want)
		}
	}
}
