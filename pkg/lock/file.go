package lock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"
	"golang.org/x/sys/unix"
)

const defaultPollInterval = 200 * time.Millisecond

// FileLocker takes flock(2) locks on files named after the key inside Dir.
// Locks are released by the kernel if the process dies.
type FileLocker struct {
	Dir          string
	PollInterval time.Duration
	logger       *slog.Logger
}

func NewFileLocker(dir string) *FileLocker {
	return &FileLocker{
		Dir:          dir,
		PollInterval: defaultPollInterval,
		logger:       slog.Default(),
	}
}

func (l *FileLocker) AcquireLock(ctx context.Context, key digest.Digest) (Lock, error) {
	if err := key.Validate(); err != nil {
		return nil, fmt.Errorf("invalid lock key: %w", err)
	}
	if err := os.MkdirAll(l.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create lock dir: %w", err)
	}

	path := filepath.Join(l.Dir, key.Encoded()+".lock")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}

	interval := l.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	waiting := false
	for {
		err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
		if err == nil {
			break
		}
		if !errors.Is(err, unix.EWOULDBLOCK) {
			_ = f.Close()
			return nil, fmt.Errorf("flock %s: %w", path, err)
		}

		if !waiting {
			l.logger.InfoContext(ctx, "waiting for lock held by another run", "lock", path)
			waiting = true
		}

		select {
		case <-ctx.Done():
			_ = f.Close()
			return nil, fmt.Errorf("waiting for lock %s: %w", path, ctx.Err())
		case <-ticker.C:
		}
	}

	return &fileLock{file: f}, nil
}

type fileLock struct {
	file *os.File
}

func (l *fileLock) Release() error {
	if l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	err = errors.Join(err, l.file.Close())
	l.file = nil
	return err
}
