package lockfile

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"modbot/internal/apperr"
)

func fastOptions() Options {
	return Options{Retries: 2, MinTimeout: 5 * time.Millisecond, MaxTimeout: 10 * time.Millisecond}
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autoreport.json")
	locker := New(fastOptions())

	release, err := locker.Acquire(context.Background(), path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	if _, err := os.Stat(path + Suffix); err != nil {
		t.Fatalf("expected sidecar lock file: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := release(); err != nil {
		t.Fatalf("second release should be a no-op: %v", err)
	}

	release, err = locker.Acquire(context.Background(), path)
	if err != nil {
		t.Fatalf("reacquire: %v", err)
	}
	_ = release()
}

func TestAcquireTimesOutAgainstOtherHolder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "autoreport.json")
	holder := New(fastOptions())
	other := New(fastOptions())

	release, err := holder.Acquire(context.Background(), path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	_, err = other.Acquire(context.Background(), path)
	if err == nil {
		t.Fatalf("expected timeout")
	}
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected ErrTimeout, got %v", err)
	}
	if !apperr.IsKind(err, apperr.TimeOut) {
		t.Fatalf("expected TimeOut kind, got %s", apperr.KindOf(err))
	}
}

func TestSeparatePathsDoNotContend(t *testing.T) {
	dir := t.TempDir()
	locker := New(fastOptions())

	first, err := locker.Acquire(context.Background(), filepath.Join(dir, "a.json"))
	if err != nil {
		t.Fatalf("acquire a: %v", err)
	}
	defer first()
	second, err := locker.Acquire(context.Background(), filepath.Join(dir, "b.json"))
	if err != nil {
		t.Fatalf("acquire b: %v", err)
	}
	_ = second()
}

func TestInProcessCallersQueue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "queue.json")
	locker := New(Options{Retries: 5, MinTimeout: 50 * time.Millisecond, MaxTimeout: time.Second})

	var mu sync.Mutex
	inside := 0
	maxInside := 0
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, err := locker.Acquire(context.Background(), path)
			if err != nil {
				t.Errorf("acquire: %v", err)
				return
			}
			mu.Lock()
			inside++
			if inside > maxInside {
				maxInside = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			_ = release()
		}()
	}
	wg.Wait()
	if maxInside != 1 {
		t.Fatalf("expected exclusive access, saw %d holders", maxInside)
	}
}

func TestSameLockerWaiterTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.json")
	locker := New(fastOptions())
	release, err := locker.Acquire(context.Background(), path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	done := make(chan error, 1)
	go func() {
		_, err := locker.Acquire(context.Background(), path)
		done <- err
	}()
	select {
	case err := <-done:
		if !errors.Is(err, ErrTimeout) || !apperr.IsKind(err, apperr.TimeOut) {
			t.Fatalf("expected ErrTimeout, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("waiter in the same process should give up after the retry budget")
	}
}

func TestBudget(t *testing.T) {
	if got := DefaultOptions().Budget(); got != 2500*time.Millisecond {
		t.Fatalf("unexpected default budget %v", got)
	}
	if got := (Options{Retries: 0, MinTimeout: time.Second, MaxTimeout: time.Second}).Budget(); got != 0 {
		t.Fatalf("no retries means no waiting, got %v", got)
	}
}

func TestAcquireHonorsContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctx.json")
	locker := New(fastOptions())
	release, err := locker.Acquire(context.Background(), path)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := locker.Acquire(ctx, path); !apperr.IsKind(err, apperr.TimeOut) {
		t.Fatalf("expected TimeOut, got %v", err)
	}
}

func TestCleanRemovesFreeLocks(t *testing.T) {
	dir := t.TempDir()
	locker := New(fastOptions())
	held := filepath.Join(dir, "held.json")
	free := filepath.Join(dir, "free.json")

	release, err := locker.Acquire(context.Background(), free)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	_ = release()
	holdRelease, err := locker.Acquire(context.Background(), held)
	if err != nil {
		t.Fatalf("acquire: %v", err)
	}
	defer holdRelease()

	removed, err := Clean(dir)
	if err != nil {
		t.Fatalf("clean: %v", err)
	}
	if len(removed) != 1 || filepath.Base(removed[0]) != "free.json"+Suffix {
		t.Fatalf("unexpected removed set %v", removed)
	}
	if _, err := os.Stat(held + Suffix); err != nil {
		t.Fatalf("held lock should survive: %v", err)
	}
}
