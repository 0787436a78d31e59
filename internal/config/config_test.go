package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/handler"
	"github.com/t77yq/multisim/internal/resource"
	"github.com/t77yq/multisim/internal/system"
)

const experiment = `
logging:
  level: debug
multisim:
  max_parallel: 2
  run_timeout: 30s
  seed: 7
storage:
  history_db: history.db
  stats_dir: out
nats:
  url: nats://127.0.0.1:4222
monitor:
  sample_interval: 500ms
alerts:
  - name: failures
    type: run_failure
    severity: error
  - name: slow
    type: slow_run
    duration: 1m
    severity: warning
systems:
  - label: mm
    clock: 3GHz
    processor:
      type: simple
      cpu_type: timing
      isa: riscv
      cores: 1
    memory:
      type: ddr4_2400
      size: 1GiB
    cache:
      type: private_l1
    workload:
      resource: riscv-matrix-multiply-run
    handlers: roi_stats
  - label: traffic
    clock: 1GHz
    processor:
      type: linear_generator
      rate: 8GiB/s
      duration: 1ms
    memory:
      type: simple
    cache:
      type: no_cache
    handlers:
      kinds:
        exit:
          mode: single_shot
          steps:
            - actions: [dump_stats, {type: log, message: done}]
              directive: terminate
sweeps:
  - name: npb
    processors:
      - type: simple
        cpu_type: timing
        isa: riscv
      - type: simple
        cpu_type: o3
        isa: riscv
    memories:
      - type: ddr4_2400
    cache:
      type: private_l1
    workloads:
      - suite: riscv-getting-started-benchmark-suite
        input_group: npb
schedules:
  - name: nightly
    expression: "0 0 2 * * *"
    config: nightly.yaml
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "experiment.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func newJobBuilder(t *testing.T) *JobBuilder {
	return NewJobBuilder(components.NewRegistry(), resource.NewCatalog(), handler.NewBuilder(zaptest.NewLogger(t)))
}

func TestLoad(t *testing.T) {
	cfg, err := Load(writeConfig(t, experiment))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, 2, cfg.MultiSim.MaxParallel)
	assert.Equal(t, 30*time.Second, cfg.MultiSim.RunTimeout)
	assert.Equal(t, uint64(7), cfg.MultiSim.Seed)
	assert.Equal(t, "history.db", cfg.Storage.HistoryDB)
	assert.Equal(t, 5*time.Second, cfg.Storage.EventFlushInterval)
	assert.Equal(t, "multisim", cfg.NATS.SubjectPrefix)
	assert.Equal(t, 500*time.Millisecond, cfg.Monitor.SampleInterval)

	require.Len(t, cfg.Alerts, 2)
	assert.Equal(t, "1m", cfg.Alerts[1].Duration)

	require.Len(t, cfg.Systems, 2)
	mm := cfg.Systems[0]
	assert.Equal(t, 3*sim.GHz, mm.Clock)
	assert.Equal(t, "simple", mm.Processor.Type)
	assert.Equal(t, "timing", mm.Processor.Args["cpu_type"])
	assert.Equal(t, []string{"roi_stats"}, mm.Handlers.Presets)

	exit := cfg.Systems[1].Handlers.Kinds["exit"]
	require.Len(t, exit.Steps, 1)
	assert.Equal(t, []handler.ActionSpec{
		{Type: handler.ActionDumpStats},
		{Type: handler.ActionLog, Message: "done"},
	}, exit.Steps[0].Actions)

	require.Len(t, cfg.Schedules, 1)
	sc := cfg.Schedules[0].Schedule()
	assert.Equal(t, "nightly.yaml", sc.ConfigPath)
}

func TestLoad_EnvAndOverrides(t *testing.T) {
	t.Setenv("MULTISIM_MULTISIM_MAX_PARALLEL", "6")
	t.Setenv("MULTISIM_LOGGING_LEVEL", "warn")

	cfg, err := Load(writeConfig(t, experiment))
	require.NoError(t, err)
	assert.Equal(t, 6, cfg.MultiSim.MaxParallel)
	assert.Equal(t, "warn", cfg.Logging.Level)

	cfg, err = Load(writeConfig(t, experiment), func(v *viper.Viper) error {
		v.Set("multisim.run_timeout", "2m")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2*time.Minute, cfg.MultiSim.RunTimeout)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"parallelism", "multisim:\n  max_parallel: 0\n"},
		{"log level", "logging:\n  level: loud\n"},
		{"sweep without memories", "sweeps:\n  - name: x\n    processors:\n      - type: big\n"},
		{"schedule without config", "schedules:\n  - name: x\n    expression: '@daily'\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestJobs(t *testing.T) {
	cfg, err := Load(writeConfig(t, experiment))
	require.NoError(t, err)

	jobs, err := newJobBuilder(t).Jobs(cfg)
	require.NoError(t, err)

	// 2 systems, 2 processors x 3 npb workloads x 1 memory
	require.Len(t, jobs, 8)

	assert.Equal(t, "mm", jobs[0].Descriptor.Label())
	assert.Equal(t, system.BoardSimple, jobs[0].Descriptor.Board())
	assert.NotNil(t, jobs[0].Handlers)

	assert.Equal(t, "traffic", jobs[1].Descriptor.Label())
	assert.Equal(t, system.BoardTest, jobs[1].Descriptor.Board())
	assert.Equal(t, 1*sim.GHz, jobs[1].Descriptor.Clock())

	assert.Equal(t, "SimpleProcessor(timing)-riscv-npb-is-size-s-run", jobs[2].Descriptor.Label())
	assert.Equal(t, "SimpleProcessor(o3)-riscv-npb-is-size-s-run", jobs[5].Descriptor.Label())
	assert.Equal(t, DefaultClock, jobs[2].Descriptor.Clock())
	assert.Nil(t, jobs[2].Handlers)

	// every factory call yields a fresh table
	table := jobs[0].Handlers()
	assert.Len(t, table, 2)
}

func TestJobs_ValidationErrors(t *testing.T) {
	body := `
systems:
  - label: wrong-isa
    processor: {type: simple, cpu_type: timing, isa: riscv}
    memory: {type: ddr4_2400}
    cache: {type: private_l1}
    workload: {resource: x86-matrix-multiply-roi}
  - label: unknown-memory
    processor: {type: big}
    memory: {type: sram}
    cache: {type: private_l1}
    workload: {resource: riscv-matrix-multiply-run}
  - label: dup
    processor: {type: simple, cpu_type: timing, isa: x86}
    memory: {type: ddr4_2400}
    cache: {type: private_l1}
    workload: {resource: x86-hello64-static}
  - label: dup
    processor: {type: simple, cpu_type: atomic, isa: x86}
    memory: {type: ddr4_2400}
    cache: {type: private_l1}
    workload: {resource: x86-hello64-static}
  - label: bad-preset
    processor: {type: simple, cpu_type: timing, isa: x86}
    memory: {type: ddr4_2400}
    cache: {type: private_l1}
    workload: {resource: x86-hello64-static}
    handlers: no_such_preset
`
	cfg, err := Load(writeConfig(t, body))
	require.NoError(t, err)

	jobs, err := newJobBuilder(t).Jobs(cfg)
	require.Error(t, err)
	assert.Nil(t, jobs)

	var verr *system.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Contains(t, verr.Reason, "requires ISA x86")

	assert.ErrorIs(t, err, ErrDuplicateLabel)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), `unknown memory type "sram"`)
}

func TestLoggerLevels(t *testing.T) {
	logger, err := LoggingConfig{Level: "error"}.Logger()
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(-1))

	logger, err = LoggingConfig{Level: "debug", Development: true}.Logger()
	require.NoError(t, err)
	assert.True(t, logger.Core().Enabled(-1))
}
