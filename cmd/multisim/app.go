package main

import (
	"context"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/broker"
	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/config"
	"github.com/t77yq/multisim/internal/engine"
	"github.com/t77yq/multisim/internal/handler"
	"github.com/t77yq/multisim/internal/model"
	"github.com/t77yq/multisim/internal/monitor"
	"github.com/t77yq/multisim/internal/orchestrator"
	"github.com/t77yq/multisim/internal/resource"
	"github.com/t77yq/multisim/internal/storage"
)

// app holds everything one batch needs, wired from the configuration
type app struct {
	logger *zap.Logger
	cfg    *config.Config

	multisim  *orchestrator.MultiSim
	jobs      *config.JobBuilder
	history   *storage.SQLiteRunHistory
	stats     *storage.StatsWriter
	events    *storage.EventLog
	alerts    *monitor.AlertManager
	publisher *broker.Publisher
	sampler   *monitor.HostSampler
	nc        *nats.Conn

	cancel context.CancelFunc
}

func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *app, err error) {
	ctx, cancel := context.WithCancel(ctx)
	a := &app{logger: logger, cfg: cfg, cancel: cancel}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var opts []orchestrator.Option

	if cfg.Storage.StatsDir != "" {
		if a.stats, err = storage.NewStatsWriter(logger, cfg.Storage.StatsDir); err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithSink(a.stats))
	}

	if cfg.Storage.HistoryDB != "" {
		if a.history, err = storage.NewSQLiteRunHistory(logger, cfg.Storage.HistoryDB); err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithSink(a.history))
	}

	var notifiers []monitor.Notifier
	if cfg.NATS.URL != "" {
		var js nats.JetStreamContext
		a.nc, js, err = broker.Connect(broker.ConnectOptions{
			URL:         cfg.NATS.URL,
			Name:        cfg.NATS.Name,
			MaxAttempts: cfg.NATS.MaxAttempts,
		}, logger)
		if err != nil {
			return nil, err
		}
		if a.publisher, err = broker.NewPublisher(js, cfg.NATS.SubjectPrefix, logger); err != nil {
			return nil, err
		}
		opts = append(opts, orchestrator.WithSink(a.publisher))
		notifiers = append(notifiers, a.publisher)
	}

	a.alerts = monitor.NewAlertManager(logger, notifiers...)
	for i := range cfg.Alerts {
		rule := cfg.Alerts[i]
		if err = a.alerts.AddRule(&rule); err != nil {
			return nil, &exitError{code: exitValidation, err: fmt.Errorf("alert %q: %w", rule.Name, err)}
		}
	}
	if len(cfg.Alerts) > 0 {
		opts = append(opts, orchestrator.WithSink(a.alerts))
	}

	if cfg.Storage.EventLogDir != "" {
		if a.events, err = storage.NewEventLog(logger, cfg.Storage.EventLogDir, cfg.Storage.EventFlushInterval); err != nil {
			return nil, err
		}
		a.events.Start(ctx)
		opts = append(opts, orchestrator.WithObserver(a.events), orchestrator.WithSink(a.events))
	}

	var builderOpts []handler.Option
	if a.stats != nil {
		builderOpts = append(builderOpts, handler.WithStatsWriter(a.stats))
	}
	a.jobs = config.NewJobBuilder(
		components.NewRegistry(),
		resource.NewCatalog(),
		handler.NewBuilder(logger, builderOpts...),
	)

	engineOpts := []engine.Option{engine.WithSeed(cfg.MultiSim.Seed)}
	if cfg.MultiSim.MaxSimTime > 0 {
		engineOpts = append(engineOpts, engine.WithMaxSimTime(cfg.MultiSim.MaxSimTime))
	}
	eng := engine.NewAkitaEngine(logger, engineOpts...)

	a.multisim, err = orchestrator.NewMultiSim(eng, orchestrator.Config{
		MaxParallel: cfg.MultiSim.MaxParallel,
		RunTimeout:  cfg.MultiSim.RunTimeout,
	}, logger, opts...)
	if err != nil {
		return nil, &exitError{code: exitValidation, err: err}
	}

	if cfg.Monitor.SampleInterval > 0 {
		samplerOpts := []monitor.SamplerOption{monitor.WithAlertManager(a.alerts)}
		if a.publisher != nil {
			samplerOpts = append(samplerOpts, monitor.WithHostPublisher(a.publisher))
		}
		a.sampler = monitor.NewHostSampler(cfg.Monitor.SampleInterval, a.multisim.Active, logger, samplerOpts...)
	}

	return a, nil
}

// runBatch runs jobs, printing each record as it completes, and returns the
// records in submission order
func (a *app) runBatch(ctx context.Context, jobs []orchestrator.Job, out io.Writer) []*model.RunRecord {
	if a.sampler != nil {
		a.sampler.Start(ctx)
	}

	b := a.multisim.Submit(ctx, jobs)
	for rec := range b.Completed() {
		printRecord(out, rec)
	}

	if a.sampler != nil {
		a.sampler.Stop()
		if peak, samples := a.sampler.Peak(); samples > 0 {
			a.logger.Info("Host usage during batch",
				zap.String("batch", b.ID),
				zap.Float64("peak_cpu", peak.CPUUsage),
				zap.Float64("peak_memory", peak.MemoryUsage),
				zap.Int("samples", samples))
		}
	}
	if a.events != nil {
		a.events.Flush()
	}

	return b.Records()
}

func (a *app) close() {
	a.cancel()
	if a.events != nil {
		if err := a.events.Close(); err != nil {
			a.logger.Warn("Failed to close event log", zap.Error(err))
		}
	}
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			a.logger.Warn("Failed to close run history", zap.Error(err))
		}
	}
	if a.nc != nil {
		a.nc.Close()
	}
}
