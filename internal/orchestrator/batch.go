package orchestrator

import (
	"context"
	"iter"
	"sync"
	"sync/atomic"

	"github.com/t77yq/multisim/internal/model"
)

// Batch tracks the runs of one Submit call
type Batch struct {
	ID    string
	total int

	remaining atomic.Int64

	mu        sync.Mutex
	completed []*model.RunRecord
	bySubmit  []*model.RunRecord
	changed   chan struct{}
	done      chan struct{}
}

func newBatch(id string, total int) *Batch {
	b := &Batch{
		ID:       id,
		total:    total,
		bySubmit: make([]*model.RunRecord, total),
		changed:  make(chan struct{}),
		done:     make(chan struct{}),
	}
	b.remaining.Store(int64(total))
	if total == 0 {
		close(b.done)
	}
	return b
}

// Len returns the number of submitted jobs
func (b *Batch) Len() int {
	return b.total
}

func (b *Batch) add(rec *model.RunRecord) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.completed = append(b.completed, rec)
	b.bySubmit[rec.Index] = rec
	close(b.changed)
	b.changed = make(chan struct{})
	if len(b.completed) == b.total {
		close(b.done)
	}
}

// at blocks until the i-th completed record exists or the batch is over
func (b *Batch) at(i int) (*model.RunRecord, bool) {
	for {
		b.mu.Lock()
		if i < len(b.completed) {
			rec := b.completed[i]
			b.mu.Unlock()
			return rec, true
		}
		if len(b.completed) == b.total {
			b.mu.Unlock()
			return nil, false
		}
		ch := b.changed
		b.mu.Unlock()
		<-ch
	}
}

// Completed yields run records in completion order, blocking for runs still
// in flight. Every call starts again from the first completed record.
func (b *Batch) Completed() iter.Seq[*model.RunRecord] {
	return func(yield func(*model.RunRecord) bool) {
		for i := 0; ; i++ {
			rec, ok := b.at(i)
			if !ok || !yield(rec) {
				return
			}
		}
	}
}

// Done is closed once every run has a record
func (b *Batch) Done() <-chan struct{} {
	return b.done
}

// Wait blocks until every run has finished and returns the records in
// submission order
func (b *Batch) Wait() []*model.RunRecord {
	<-b.done
	return b.Records()
}

// WaitContext is Wait bounded by ctx
func (b *Batch) WaitContext(ctx context.Context) ([]*model.RunRecord, error) {
	select {
	case <-b.done:
		return b.Records(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Records returns the records finished so far in submission order. Entries
// of unfinished runs are nil.
func (b *Batch) Records() []*model.RunRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]*model.RunRecord(nil), b.bySubmit...)
}

// Failed returns the failed records finished so far in submission order
func (b *Batch) Failed() []*model.RunRecord {
	var out []*model.RunRecord
	for _, rec := range b.Records() {
		if rec != nil && rec.Failed() {
			out = append(out, rec)
		}
	}
	return out
}

// Err returns ErrBatchFailed if any finished run failed. Timed out runs do
// not fail the batch.
func (b *Batch) Err() error {
	if len(b.Failed()) > 0 {
		return ErrBatchFailed
	}
	return nil
}
