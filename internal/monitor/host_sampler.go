package monitor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/model"
)

// HostPublisher delivers host samples
type HostPublisher interface {
	PublishHostStats(ctx context.Context, stats model.HostStats) error
}

// HostSampler periodically samples CPU and memory usage of the host running
// a batch together with the number of active runs
type HostSampler struct {
	logger    *zap.Logger
	interval  time.Duration
	active    func() int
	publisher HostPublisher
	alerts    *AlertManager

	mu      sync.RWMutex
	latest  model.HostStats
	peak    model.HostStats
	samples int

	started atomic.Bool
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

// SamplerOption configures a HostSampler
type SamplerOption func(*HostSampler)

// WithHostPublisher publishes every sample
func WithHostPublisher(p HostPublisher) SamplerOption {
	return func(s *HostSampler) { s.publisher = p }
}

// WithAlertManager evaluates host usage rules on every sample
func WithAlertManager(m *AlertManager) SamplerOption {
	return func(s *HostSampler) { s.alerts = m }
}

// NewHostSampler creates a new sampler. active reports the number of runs in
// flight and may be nil.
func NewHostSampler(interval time.Duration, active func() int, logger *zap.Logger, opts ...SamplerOption) *HostSampler {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	if active == nil {
		active = func() int { return 0 }
	}
	s := &HostSampler{
		logger:   logger.Named("host-sampler"),
		interval: interval,
		active:   active,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start samples until ctx is done or Stop is called
func (s *HostSampler) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	s.logger.Info("Starting host sampler", zap.Duration("interval", s.interval))
	go s.loop(ctx)
}

// Stop stops sampling and waits for the loop to exit
func (s *HostSampler) Stop() {
	s.once.Do(func() { close(s.stop) })
	if s.started.Load() {
		<-s.done
	}
}

func (s *HostSampler) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			if _, err := s.Sample(ctx); err != nil {
				s.logger.Error("Failed to sample host", zap.Error(err))
			}
		}
	}
}

// Sample takes one sample and forwards it
func (s *HostSampler) Sample(ctx context.Context) (model.HostStats, error) {
	cpuPercent, err := cpu.PercentWithContext(ctx, 0, false)
	if err != nil {
		return model.HostStats{}, err
	}
	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return model.HostStats{}, err
	}

	stats := model.HostStats{
		ActiveRuns:  s.active(),
		MemoryUsage: memInfo.UsedPercent,
		CollectedAt: time.Now(),
	}
	if len(cpuPercent) > 0 {
		stats.CPUUsage = cpuPercent[0]
	}

	s.mu.Lock()
	s.latest = stats
	s.samples++
	s.peak.ActiveRuns = max(s.peak.ActiveRuns, stats.ActiveRuns)
	s.peak.CPUUsage = max(s.peak.CPUUsage, stats.CPUUsage)
	s.peak.MemoryUsage = max(s.peak.MemoryUsage, stats.MemoryUsage)
	s.peak.CollectedAt = stats.CollectedAt
	s.mu.Unlock()

	if s.publisher != nil {
		if err := s.publisher.PublishHostStats(ctx, stats); err != nil {
			s.logger.Error("Failed to publish host stats", zap.Error(err))
		}
	}
	if s.alerts != nil {
		if err := s.alerts.ObserveHost(ctx, stats); err != nil {
			s.logger.Error("Failed to raise host alert", zap.Error(err))
		}
	}

	s.logger.Debug("Host sampled",
		zap.Float64("cpu_usage", stats.CPUUsage),
		zap.Float64("memory_usage", stats.MemoryUsage),
		zap.Int("active_runs", stats.ActiveRuns))
	return stats, nil
}

// Latest returns the most recent sample
func (s *HostSampler) Latest() model.HostStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Peak returns the per-field maximum over all samples and the sample count
func (s *HostSampler) Peak() (model.HostStats, int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.peak, s.samples
}
