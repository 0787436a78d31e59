// Package schedule re-runs experiment batches on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/model"
)

// Runner executes the batch of one schedule and reports its outcome
type Runner func(ctx context.Context, s model.SweepSchedule) (model.RunStatus, error)

var parser = cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}

// SweepScheduler runs sweeps on cron expressions. A sweep still running when
// its next activation comes up is skipped.
type SweepScheduler struct {
	logger *zap.Logger
	cron   *cron.Cron
	runner Runner

	mu        sync.RWMutex
	schedules map[string]*model.SweepSchedule
	entryIDs  map[string]cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// NewSweepScheduler creates a new scheduler
func NewSweepScheduler(runner Runner, logger *zap.Logger) *SweepScheduler {
	cl := &cronLogger{logger: logger.Named("cron")}
	ctx, cancel := context.WithCancel(context.Background())

	return &SweepScheduler{
		logger: logger.Named("sweep-scheduler"),
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
			cron.WithLogger(cl),
		),
		runner:    runner,
		schedules: make(map[string]*model.SweepSchedule),
		entryIDs:  make(map[string]cron.EntryID),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start starts the scheduler. Runs in flight are canceled when ctx is done.
func (s *SweepScheduler) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			s.cancel()
		case <-s.ctx.Done():
		}
	}()
	s.cron.Start()
	s.logger.Info("Sweep scheduler started")
}

// Stop stops scheduling, cancels running sweeps and waits for them
func (s *SweepScheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.logger.Info("Sweep scheduler stopped")
}

// AddSchedule validates and registers a schedule
func (s *SweepScheduler) AddSchedule(schedule *model.SweepSchedule) error {
	spec, err := parser.Parse(schedule.Expression)
	if err != nil {
		return fmt.Errorf("%w %q: %v", ErrInvalidExpression, schedule.Expression, err)
	}

	if schedule.ID == "" {
		schedule.ID = uuid.New().String()
	}
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = time.Now()
	}
	schedule.UpdatedAt = time.Now()
	next := spec.Next(time.Now())
	schedule.NextRunTime = &next

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.entryIDs[schedule.ID]; ok {
		s.cron.Remove(old)
	}
	stored := *schedule
	s.schedules[schedule.ID] = &stored
	s.entryIDs[schedule.ID] = s.cron.Schedule(spec, &sweepJob{scheduler: s, id: schedule.ID, spec: spec})

	s.logger.Info("Added schedule",
		zap.String("id", schedule.ID),
		zap.String("name", schedule.Name),
		zap.String("expression", schedule.Expression),
		zap.Time("next_run", next))
	return nil
}

// RemoveSchedule removes a schedule
func (s *SweepScheduler) RemoveSchedule(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entryIDs[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	s.cron.Remove(entryID)
	delete(s.entryIDs, id)
	delete(s.schedules, id)

	s.logger.Info("Removed schedule", zap.String("id", id))
	return nil
}

// GetSchedule returns a copy of a schedule
func (s *SweepScheduler) GetSchedule(id string) (model.SweepSchedule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	schedule, ok := s.schedules[id]
	if !ok {
		return model.SweepSchedule{}, fmt.Errorf("%w: %s", ErrScheduleNotFound, id)
	}
	return *schedule, nil
}

// ListSchedules returns copies of all schedules sorted by name
func (s *SweepScheduler) ListSchedules() []model.SweepSchedule {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]model.SweepSchedule, 0, len(s.schedules))
	for _, schedule := range s.schedules {
		out = append(out, *schedule)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// sweepJob implements cron.Job
type sweepJob struct {
	scheduler *SweepScheduler
	id        string
	spec      cron.Schedule
}

// Run implements cron.Job
func (j *sweepJob) Run() {
	s := j.scheduler
	now := time.Now()

	s.mu.Lock()
	schedule, ok := s.schedules[j.id]
	if !ok {
		s.mu.Unlock()
		return
	}
	schedule.LastRunTime = &now
	schedule.LastStatus = model.RunStatusRunning
	snapshot := *schedule
	s.mu.Unlock()

	s.logger.Info("Running schedule",
		zap.String("id", snapshot.ID),
		zap.String("name", snapshot.Name))

	status, err := s.runner(s.ctx, snapshot)
	if err != nil {
		s.logger.Error("Scheduled sweep failed",
			zap.String("id", snapshot.ID),
			zap.Error(err))
		if !status.Terminal() {
			status = model.RunStatusFailed
		}
	}

	next := j.spec.Next(time.Now())
	s.mu.Lock()
	if schedule, ok := s.schedules[j.id]; ok {
		schedule.LastStatus = status
		schedule.NextRunTime = &next
		schedule.UpdatedAt = time.Now()
	}
	s.mu.Unlock()

	s.logger.Info("Executed schedule",
		zap.String("id", snapshot.ID),
		zap.String("status", string(status)),
		zap.Duration("took", time.Since(now)),
		zap.Time("next_run", next))
}
