package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	_ "modernc.org/sqlite"
)

const (
	workspaceDir  = ".opsdesk"
	defaultDBName = "opsdesk.db"
	lockName      = "opsdesk.lock"
)

// ErrWorkspaceBusy is returned when another process holds the workspace lock.
var ErrWorkspaceBusy = errors.New("workspace is locked by another process")

type Config struct {
	Workspace string
}

func dbPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir, defaultDBName)
}

// EnsureWorkspace creates workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	if workspace == "" {
		workspace = "."
	}
	path := filepath.Join(workspace, workspaceDir)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// Open opens the SQLite database with foreign keys on. Transactions start
// immediate and wait on busy_timeout for other writers.
func Open(cfg Config) (*sql.DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate", dbPath(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Path returns the db path for the workspace.
func Path(workspace string) string {
	return dbPath(workspace)
}

// WorkspaceLock is an exclusive, cross-process lock on a workspace.
type WorkspaceLock struct {
	fl *flock.Flock
}

// LockWorkspace blocks until the workspace lock is acquired or ctx/timeout expires.
func LockWorkspace(ctx context.Context, workspace string, timeout time.Duration) (*WorkspaceLock, error) {
	dir, err := EnsureWorkspace(workspace)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	fl := flock.New(filepath.Join(dir, lockName))
	ok, err := fl.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ErrWorkspaceBusy
		}
		return nil, fmt.Errorf("lock workspace: %w", err)
	}
	if !ok {
		return nil, ErrWorkspaceBusy
	}
	return &WorkspaceLock{fl: fl}, nil
}

// Unlock releases the workspace lock.
func (l *WorkspaceLock) Unlock() error {
	if l == nil || l.fl == nil {
		return nil
	}
	return l.fl.Unlock()
}
