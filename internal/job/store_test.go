package job

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestStore_SaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	now := time.Now().Truncate(time.Second)
	snap := &BatchSnapshot{
		ID:           "batch-1",
		Owner:        "tester",
		Status:       BatchProcessing,
		CreatedAt:    now,
		StartedAt:    &now,
		Progress:     50,
		SuccessCount: 1,
		TotalTasks:   2,
		Metadata:     map[string]string{"source": "unit-test"},
		Tasks: []TaskSnapshot{
			{ID: "t1", Text: "文本一", Status: TaskCompleted, Duration: 1.5, Provider: "mock", RetryCount: 1},
			{ID: "t2", Text: "文本二", Status: TaskWaiting},
		},
	}
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	got, err := store.Load("batch-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Owner != "tester" || got.Status != BatchProcessing || got.Progress != 50 {
		t.Errorf("loaded snapshot mismatch: %+v", got)
	}
	if len(got.Tasks) != 2 || got.Tasks[0].RetryCount != 1 || got.Tasks[1].Status != TaskWaiting {
		t.Errorf("loaded tasks mismatch: %+v", got.Tasks)
	}
	if got.Metadata["source"] != "unit-test" {
		t.Errorf("metadata lost: %v", got.Metadata)
	}
}

func TestStore_SaveOverwrites(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	snap := &BatchSnapshot{ID: "batch-1", Status: BatchPending}
	if err := store.Save(snap); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	snap.Status = BatchCompleted
	snap.Progress = 100
	if err := store.Save(snap); err != nil {
		t.Fatalf("second Save failed: %v", err)
	}

	got, err := store.Load("batch-1")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if got.Status != BatchCompleted || got.Progress != 100 {
		t.Errorf("overwrite not visible: %+v", got)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store, _ := NewStore(t.TempDir())
	if _, err := store.Load("no-such-batch"); err != ErrBatchNotFound {
		t.Errorf("got %v, want ErrBatchNotFound", err)
	}
}

func TestStore_LoadAllSkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	store, _ := NewStore(dir)

	if err := store.Save(&BatchSnapshot{ID: "good-1", Status: BatchCompleted}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Save(&BatchSnapshot{ID: "good-2", Status: BatchPending}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	// 手工制造一个损坏的快照文件
	if err := os.WriteFile(filepath.Join(dir, "corrupt.json"), []byte("{不是 JSON"), 0644); err != nil {
		t.Fatalf("write corrupt file: %v", err)
	}

	snaps, err := store.LoadAll()
	if err != nil {
		t.Fatalf("LoadAll failed: %v", err)
	}
	if len(snaps) != 2 {
		t.Errorf("got %d snapshots, want 2 (corrupt skipped)", len(snaps))
	}
}

func TestStore_Delete(t *testing.T) {
	store, _ := NewStore(t.TempDir())

	if err := store.Save(&BatchSnapshot{ID: "batch-1"}); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if err := store.Delete("batch-1"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Load("batch-1"); err != ErrBatchNotFound {
		t.Errorf("after delete: got %v, want ErrBatchNotFound", err)
	}
	// 删除不存在的批次不报错
	if err := store.Delete("batch-1"); err != nil {
		t.Errorf("second delete: %v", err)
	}
}

func TestSnapshotText_Truncates(t *testing.T) {
	long := strings.Repeat("很", snapshotTextLimit+20)
	got := snapshotText(long)
	if len([]rune(got)) != snapshotTextLimit {
		t.Errorf("truncated length: got %d runes, want %d", len([]rune(got)), snapshotTextLimit)
	}

	short := "短文本"
	if snapshotText(short) != short {
		t.Errorf("short text should be unchanged")
	}
}
