package db

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLockWorkspaceIsExclusive(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()
	first, err := LockWorkspace(ctx, dir, time.Second)
	if err != nil {
		t.Fatalf("first lock: %v", err)
	}
	if _, err := LockWorkspace(ctx, dir, 150*time.Millisecond); !errors.Is(err, ErrWorkspaceBusy) {
		t.Fatalf("expected busy workspace, got %v", err)
	}
	if err := first.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	second, err := LockWorkspace(ctx, dir, time.Second)
	if err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	_ = second.Unlock()
}

func TestOpenCreatesWorkspace(t *testing.T) {
	dir := t.TempDir()
	conn, err := Open(Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer conn.Close()
	var fk int
	if err := conn.QueryRow(`PRAGMA foreign_keys`).Scan(&fk); err != nil {
		t.Fatalf("pragma: %v", err)
	}
	if fk != 1 {
		t.Fatalf("foreign keys off")
	}
}
