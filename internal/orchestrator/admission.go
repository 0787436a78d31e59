package orchestrator

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// admission bounds the number of concurrently running descriptors. Waiters
// are admitted in the order they called acquire.
type admission struct {
	logger *zap.Logger
	sem    *semaphore.Weighted
	limit  int

	active atomic.Int64
	peak   atomic.Int64

	mu      sync.Mutex
	running map[string]int
}

func newAdmission(limit int, logger *zap.Logger) *admission {
	return &admission{
		logger:  logger.Named("admission"),
		sem:     semaphore.NewWeighted(int64(limit)),
		limit:   limit,
		running: make(map[string]int),
	}
}

// acquire blocks until a slot is free or ctx is done
func (a *admission) acquire(ctx context.Context, label string) error {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return err
	}

	n := a.active.Add(1)
	for {
		p := a.peak.Load()
		if n <= p || a.peak.CompareAndSwap(p, n) {
			break
		}
	}

	a.mu.Lock()
	a.running[label]++
	a.mu.Unlock()

	a.logger.Debug("Run admitted",
		zap.String("run", label),
		zap.Int64("active", n),
		zap.Int("limit", a.limit))
	return nil
}

func (a *admission) release(label string) {
	a.mu.Lock()
	if a.running[label] <= 1 {
		delete(a.running, label)
	} else {
		a.running[label]--
	}
	a.mu.Unlock()

	a.active.Add(-1)
	a.sem.Release(1)
}

func (a *admission) labels() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	out := make([]string, 0, len(a.running))
	for l := range a.running {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}
