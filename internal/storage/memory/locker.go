package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"pos_sales/internal/sales"
)

// ErrLockTimeout is returned when a key stays locked longer than the wait limit.
var ErrLockTimeout = errors.New("lock wait timeout")

// locker hands out one exclusive weighted semaphore per key. Entries are
// reference counted by holders and waiters and dropped when the last one leaves.
type locker struct {
	mu    sync.Mutex
	slots map[string]*slot
	wait  time.Duration
}

type slot struct {
	sem  *semaphore.Weighted
	refs int
}

func newLocker(wait time.Duration) *locker {
	return &locker{
		slots: make(map[string]*slot),
		wait:  wait,
	}
}

func (l *locker) ref(key string) *slot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s, ok := l.slots[key]
	if !ok {
		s = &slot{sem: semaphore.NewWeighted(1)}
		l.slots[key] = s
	}
	s.refs++
	return s
}

func (l *locker) unref(key string, s *slot) {
	l.mu.Lock()
	defer l.mu.Unlock()

	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
}

// acquire blocks until key is free, ctx ends or the wait limit passes.
func (l *locker) acquire(ctx context.Context, key string) error {
	s := l.ref(key)

	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()

	if err := s.sem.Acquire(waitCtx, 1); err != nil {
		l.unref(key, s)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %w on %s", sales.ErrTransient, ErrLockTimeout, key)
	}
	return nil
}

func (l *locker) release(key string) {
	l.mu.Lock()
	s := l.slots[key]
	l.mu.Unlock()

	s.sem.Release(1)
	l.unref(key, s)
}

// size reports how many keys are held or waited on.
func (l *locker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.slots)
}

// held tracks the keys one scope owns so they are taken once and released together.
type held struct {
	l    *locker
	keys []string
	set  map[string]struct{}
}

func (h *held) lock(ctx context.Context, key string) error {
	if _, ok := h.set[key]; ok {
		return nil
	}
	if err := h.l.acquire(ctx, key); err != nil {
		return err
	}
	h.set[key] = struct{}{}
	h.keys = append(h.keys, key)
	return nil
}

func (h *held) releaseAll() {
	for i := len(h.keys) - 1; i >= 0; i-- {
		h.l.release(h.keys[i])
	}
	h.keys = nil
	h.set = map[string]struct{}{}
}
