package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	logx "inkframe/pkg/logx"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	st, err := Open(Config{Driver: "file", Path: filepath.Join(t.TempDir(), "history.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })
	return st
}

func entry(i int) RefreshEntry {
	return RefreshEntry{
		At:          time.Date(2025, 6, 1, 0, 0, i, 0, time.UTC),
		RefreshType: "Playlist",
		PluginID:    fmt.Sprintf("plugin-%d", i),
		Playlist:    "Default",
		ImageHash:   fmt.Sprintf("hash-%d", i),
		TookMS:      int64(i),
	}
}

func TestOpenDisabled(t *testing.T) {
	t.Parallel()

	st, err := Open(Config{}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(disabled) = %v, %v; want nil, nil", st, err)
	}
	st, err = Open(Config{Driver: "none"}, logx.Nop())
	if err != nil || st != nil {
		t.Fatalf("Open(none) = %v, %v; want nil, nil", st, err)
	}
}

func TestOpenUnknownDriver(t *testing.T) {
	t.Parallel()
	if _, err := Open(Config{Driver: "postgres"}, logx.Nop()); err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestFileAppendAndRecent(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if err := st.AppendRefresh(ctx, entry(i)); err != nil {
			t.Fatalf("AppendRefresh %d error: %v", i, err)
		}
	}

	rows, err := st.RecentRefreshes(ctx, 3)
	if err != nil {
		t.Fatalf("RecentRefreshes error: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("rows = %d, want 3", len(rows))
	}
	// Newest first.
	if rows[0].PluginID != "plugin-4" || rows[2].PluginID != "plugin-2" {
		t.Fatalf("unexpected order: %q .. %q", rows[0].PluginID, rows[2].PluginID)
	}
}

func TestFileRecentEmpty(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	rows, err := st.RecentRefreshes(context.Background(), 10)
	if err != nil {
		t.Fatalf("RecentRefreshes error: %v", err)
	}
	if len(rows) != 0 {
		t.Fatalf("rows = %d, want 0", len(rows))
	}
}

func TestFileToleratesTornLine(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "history.db")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open error: %v", err)
	}
	ctx := context.Background()
	if err := st.AppendRefresh(ctx, entry(1)); err != nil {
		t.Fatalf("AppendRefresh error: %v", err)
	}
	_ = st.Close()

	// Simulate a crash mid-append.
	historyPath := filepath.Join(filepath.Dir(path), "history.history.jsonl")
	f, err := os.OpenFile(historyPath, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	if _, err := f.WriteString(`{"at":"2025-06-01T00:`); err != nil {
		t.Fatalf("write torn line: %v", err)
	}
	_ = f.Close()

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	t.Cleanup(func() { _ = st2.Close() })

	rows, err := st2.RecentRefreshes(ctx, 10)
	if err != nil {
		t.Fatalf("RecentRefreshes error: %v", err)
	}
	if len(rows) != 1 || rows[0].PluginID != "plugin-1" {
		t.Fatalf("rows = %+v, want the one intact entry", rows)
	}
}

func TestFileAppendAfterClose(t *testing.T) {
	t.Parallel()

	st := openTestStore(t)
	_ = st.Close()
	if err := st.AppendRefresh(context.Background(), entry(0)); err == nil {
		t.Fatal("expected error appending to closed store")
	}
}
