package lockfile

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"modbot/internal/apperr"

	"github.com/cenkalti/backoff/v4"
	"github.com/gofrs/flock"
	"golang.org/x/sync/semaphore"
)

const Suffix = ".lock"

var (
	ErrTimeout = errors.New("lock retries exhausted")
	errBusy    = errors.New("lock held elsewhere")
)

type Options struct {
	Retries    int
	MinTimeout time.Duration
	MaxTimeout time.Duration
}

func DefaultOptions() Options {
	return Options{Retries: 5, MinTimeout: 100 * time.Millisecond, MaxTimeout: time.Second}
}

// Locker hands out exclusive locks on files. Callers in the same process
// queue on a per-path semaphore, other processes are kept out by an
// advisory lock on a sidecar file next to the target.
type Locker struct {
	opts Options
	mu   sync.Mutex
	sems map[string]*semaphore.Weighted
}

func New(opts Options) *Locker {
	defaults := DefaultOptions()
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.MinTimeout <= 0 {
		opts.MinTimeout = defaults.MinTimeout
	}
	if opts.MaxTimeout < opts.MinTimeout {
		opts.MaxTimeout = opts.MinTimeout
	}
	return &Locker{opts: opts, sems: make(map[string]*semaphore.Weighted)}
}

// Acquire blocks until path is locked. The returned release func must be
// called on every exit path; calling it more than once is a no-op.
func (l *Locker) Acquire(ctx context.Context, path string) (func() error, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.Internal, apperr.InvalidValue, "resolve lock path")
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return nil, apperr.Wrap(err, apperr.External, apperr.Other, "create lock directory")
	}

	sem := l.semaphore(abs)
	if err := l.wait(ctx, sem); err != nil {
		if ctx.Err() == nil {
			return nil, apperr.Wrap(ErrTimeout, apperr.Internal, apperr.TimeOut, fmt.Sprintf("could not lock %s", filepath.Base(path)))
		}
		return nil, apperr.Wrap(err, apperr.Internal, apperr.TimeOut, fmt.Sprintf("waiting for %s", filepath.Base(path)))
	}

	fileLock := flock.New(abs + Suffix)
	attempt := func() error {
		ok, err := fileLock.TryLock()
		if err != nil {
			return backoff.Permanent(err)
		}
		if !ok {
			return errBusy
		}
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(l.backoff(), uint64(l.opts.Retries)), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		sem.Release(1)
		if errors.Is(err, errBusy) {
			return nil, apperr.Wrap(ErrTimeout, apperr.Internal, apperr.TimeOut, fmt.Sprintf("could not lock %s", filepath.Base(path)))
		}
		return nil, apperr.Wrap(err, apperr.Internal, apperr.TimeOut, fmt.Sprintf("lock %s", filepath.Base(path)))
	}

	var once sync.Once
	var releaseErr error
	release := func() error {
		once.Do(func() {
			releaseErr = fileLock.Unlock()
			sem.Release(1)
		})
		return releaseErr
	}
	return release, nil
}

// wait queues on the in-process semaphore for at most the time the retry
// policy would spend between attempts.
func (l *Locker) wait(ctx context.Context, sem *semaphore.Weighted) error {
	budget := l.opts.Budget()
	if budget <= 0 {
		if sem.TryAcquire(1) {
			return nil
		}
		return errBusy
	}
	waitCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	return sem.Acquire(waitCtx, 1)
}

// Budget is the sum of the backoff intervals of every retry.
func (o Options) Budget() time.Duration {
	var total time.Duration
	interval := o.MinTimeout
	for i := 0; i < o.Retries; i++ {
		total += interval
		interval *= 2
		if interval > o.MaxTimeout {
			interval = o.MaxTimeout
		}
	}
	return total
}

func (l *Locker) backoff() backoff.BackOff {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = l.opts.MinTimeout
	policy.MaxInterval = l.opts.MaxTimeout
	policy.Multiplier = 2
	policy.RandomizationFactor = 0
	policy.MaxElapsedTime = 0
	policy.Reset()
	return policy
}

func (l *Locker) semaphore(path string) *semaphore.Weighted {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.sems[path]
	if !ok {
		sem = semaphore.NewWeighted(1)
		l.sems[path] = sem
	}
	return sem
}

// Clean removes sidecar lock files under dir that nobody holds. It returns
// the removed paths.
//
// Only run it while no process uses dir: a process that opened a sidecar
// before it was unlinked locks the orphaned inode while the next one creates
// a fresh file, and both then believe they hold the lock.
func Clean(dir string) ([]string, error) {
	var removed []string
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if entry.IsDir() || !strings.HasSuffix(path, Suffix) {
			return nil
		}
		fileLock := flock.New(path)
		ok, err := fileLock.TryLock()
		if err != nil || !ok {
			return nil
		}
		defer func() {
			_ = fileLock.Unlock()
		}()
		if err := os.Remove(path); err != nil {
			return err
		}
		removed = append(removed, path)
		return nil
	})
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	return removed, err
}
