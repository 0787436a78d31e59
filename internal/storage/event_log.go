package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/dispatch"
	"github.com/t77yq/multisim/internal/model"
)

// EventEntry is one line of a run's event log
type EventEntry struct {
	Timestamp time.Time       `json:"timestamp"`
	Run       string          `json:"run"`
	Seq       uint64          `json:"seq"`
	Kind      model.EventKind `json:"kind"`
	Code      int             `json:"code,omitempty"`
	Message   string          `json:"message,omitempty"`
	SimTime   float64         `json:"sim_time"`
	Directive string          `json:"directive"`
}

// EventLog appends handled exit events to <dir>/<label>.jsonl. It
// implements dispatch.Observer and is safe for concurrent runs. As a record
// sink it closes a run's file once the run's record is stored.
type EventLog struct {
	logger        *zap.Logger
	dir           string
	flushInterval time.Duration

	mu      sync.Mutex
	files   map[string]*os.File
	buffers map[string][]EventEntry
	closed  bool
}

var _ dispatch.Observer = (*EventLog)(nil)

// NewEventLog creates the log directory if needed
func NewEventLog(logger *zap.Logger, dir string, flushInterval time.Duration) (*EventLog, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create event log directory: %w", err)
	}
	if flushInterval <= 0 {
		flushInterval = time.Second
	}
	return &EventLog{
		logger:        logger.Named("event-log"),
		dir:           dir,
		flushInterval: flushInterval,
		files:         make(map[string]*os.File),
		buffers:       make(map[string][]EventEntry),
	}, nil
}

// Start flushes buffered entries periodically until ctx is done
func (l *EventLog) Start(ctx context.Context) {
	go l.flushLoop(ctx)
}

// OnEvent implements dispatch.Observer
func (l *EventLog) OnEvent(label string, ev model.ExitEvent, d dispatch.Directive) {
	entry := EventEntry{
		Timestamp: time.Now(),
		Run:       label,
		Seq:       ev.Seq,
		Kind:      ev.Kind,
		Code:      ev.Code,
		Message:   ev.Message,
		SimTime:   ev.SimTime,
		Directive: d.String(),
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		l.logger.Warn("Event after close dropped", zap.String("run", label), zap.Uint64("seq", ev.Seq))
		return
	}
	l.buffers[label] = append(l.buffers[label], entry)
}

// Flush writes all buffered entries. It is a no-op after Close.
func (l *EventLog) Flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	l.flushLocked()
}

// Store writes the remaining entries of rec's run and closes its file
func (l *EventLog) Store(_ context.Context, _ string, rec *model.RunRecord) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}

	l.flushLabelLocked(rec.Label)
	delete(l.buffers, rec.Label)
	if f, ok := l.files[rec.Label]; ok {
		delete(l.files, rec.Label)
		if err := f.Close(); err != nil {
			return fmt.Errorf("failed to close event log %s: %w", rec.Label, err)
		}
	}
	return nil
}

// OpenFiles returns the number of event log files currently open
func (l *EventLog) OpenFiles() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.files)
}

// Close flushes and closes all open files. Later events and flushes are
// ignored.
func (l *EventLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true

	l.flushLocked()
	var firstErr error
	for label, f := range l.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close event log %s: %w", label, err)
		}
		delete(l.files, label)
	}
	return firstErr
}

// Read returns the entries logged for label between start and end inclusive
func (l *EventLog) Read(label string, start, end time.Time) ([]EventEntry, error) {
	path, err := l.path(label)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open event log: %w", err)
	}
	defer file.Close()

	var entries []EventEntry
	decoder := json.NewDecoder(file)
	for decoder.More() {
		var entry EventEntry
		if err := decoder.Decode(&entry); err != nil {
			return nil, fmt.Errorf("failed to decode event entry: %w", err)
		}
		if !entry.Timestamp.Before(start) && !entry.Timestamp.After(end) {
			entries = append(entries, entry)
		}
	}
	return entries, nil
}

// Prune removes log files not modified within maxAge
func (l *EventLog) Prune(maxAge time.Duration) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	removed := 0
	err := filepath.Walk(l.dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || filepath.Ext(path) != ".jsonl" {
			return nil
		}
		if now.Sub(info.ModTime()) <= maxAge {
			return nil
		}

		label := filepath.Base(path[:len(path)-len(".jsonl")])
		if f, ok := l.files[label]; ok {
			f.Close()
			delete(l.files, label)
		}
		if err := os.Remove(path); err != nil {
			l.logger.Error("Failed to remove old event log",
				zap.String("path", path),
				zap.Error(err))
			return nil
		}
		removed++
		return nil
	})
	if err != nil {
		return removed, fmt.Errorf("failed to prune event logs: %w", err)
	}
	return removed, nil
}

func (l *EventLog) path(label string) (string, error) {
	if label == "" || filepath.Base(label) != label || label == "." || label == ".." {
		return "", fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	return filepath.Join(l.dir, label+".jsonl"), nil
}

func (l *EventLog) flushLoop(ctx context.Context) {
	ticker := time.NewTicker(l.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.Flush()
			return
		case <-ticker.C:
			l.Flush()
		}
	}
}

func (l *EventLog) flushLocked() {
	for label := range l.buffers {
		l.flushLabelLocked(label)
	}
}

func (l *EventLog) flushLabelLocked(label string) {
	entries := l.buffers[label]
	if len(entries) == 0 {
		return
	}

	file, ok := l.files[label]
	if !ok {
		path, err := l.path(label)
		if err == nil {
			file, err = os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		}
		if err != nil {
			l.logger.Error("Failed to open event log",
				zap.String("run", label),
				zap.Error(err))
			return
		}
		l.files[label] = file
	}

	encoder := json.NewEncoder(file)
	for _, entry := range entries {
		if err := encoder.Encode(entry); err != nil {
			l.logger.Error("Failed to write event entry",
				zap.String("run", label),
				zap.Error(err))
		}
	}

	l.buffers[label] = entries[:0]
}
