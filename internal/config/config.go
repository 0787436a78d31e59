// Package config loads experiment files and turns them into orchestrator
// jobs.
package config

import (
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/sarchlab/akita/v4/sim"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/handler"
	"github.com/t77yq/multisim/internal/model"
)

// EnvPrefix prefixes environment overrides, e.g. MULTISIM_MULTISIM_MAX_PARALLEL
const EnvPrefix = "MULTISIM"

// Config is the whole experiment file
type Config struct {
	Logging   LoggingConfig     `mapstructure:"logging"`
	MultiSim  MultiSimConfig    `mapstructure:"multisim"`
	Storage   StorageConfig     `mapstructure:"storage"`
	NATS      NATSConfig        `mapstructure:"nats"`
	Monitor   MonitorConfig     `mapstructure:"monitor"`
	Alerts    []model.AlertRule `mapstructure:"alerts"`
	Systems   []SystemConfig    `mapstructure:"systems"`
	Sweeps    []SweepConfig     `mapstructure:"sweeps"`
	Schedules []ScheduleConfig  `mapstructure:"schedules"`
}

// LoggingConfig configures the zap logger
type LoggingConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// MultiSimConfig configures the orchestrator and the engine
type MultiSimConfig struct {
	MaxParallel int           `mapstructure:"max_parallel"`
	RunTimeout  time.Duration `mapstructure:"run_timeout"`
	Seed        uint64        `mapstructure:"seed"`
	// MaxSimTime bounds simulated seconds per run, 0 for unbounded
	MaxSimTime float64 `mapstructure:"max_sim_time"`
}

// StorageConfig locates the persisted outputs. Empty paths disable the
// corresponding store.
type StorageConfig struct {
	HistoryDB          string        `mapstructure:"history_db"`
	HistoryRetention   time.Duration `mapstructure:"history_retention"`
	StatsDir           string        `mapstructure:"stats_dir"`
	EventLogDir        string        `mapstructure:"event_log_dir"`
	EventFlushInterval time.Duration `mapstructure:"event_flush_interval"`
}

// NATSConfig configures record streaming. An empty URL disables it.
type NATSConfig struct {
	URL           string `mapstructure:"url"`
	Name          string `mapstructure:"name"`
	SubjectPrefix string `mapstructure:"subject_prefix"`
	MaxAttempts   int    `mapstructure:"max_attempts"`
}

// MonitorConfig configures host sampling
type MonitorConfig struct {
	SampleInterval time.Duration `mapstructure:"sample_interval"`
}

// ComponentConfig names a registered component factory and its arguments
type ComponentConfig struct {
	Type string          `mapstructure:"type"`
	Args components.Args `mapstructure:",remain"`
}

// WorkloadConfig selects what a board runs. Exactly one of Resource,
// Suite, LocalPath or Kernel is set.
type WorkloadConfig struct {
	Resource   string `mapstructure:"resource"`
	Suite      string `mapstructure:"suite"`
	InputGroup string `mapstructure:"input_group"`
	LocalPath  string `mapstructure:"local_path"`
	ISA        string `mapstructure:"isa"`
	Kernel     string `mapstructure:"kernel"`
	Disk       string `mapstructure:"disk"`
	Readfile   string `mapstructure:"readfile"`
}

// HandlersConfig selects exit event handlers: presets first, then
// per-kind entries overriding them
type HandlersConfig struct {
	Presets []string     `mapstructure:"presets"`
	Kinds   handler.Spec `mapstructure:"kinds"`
}

// Empty reports whether no handler is configured
func (h HandlersConfig) Empty() bool {
	return len(h.Presets) == 0 && len(h.Kinds) == 0
}

// Spec merges presets and per-kind entries
func (h HandlersConfig) Spec() (handler.Spec, error) {
	spec := handler.Spec{}
	for _, name := range h.Presets {
		preset, ok := handler.Presets[name]
		if !ok {
			return nil, fmt.Errorf("%w: unknown handler preset %q", ErrInvalidConfig, name)
		}
		for kind, hs := range preset {
			spec[kind] = hs
		}
	}
	for kind, hs := range h.Kinds {
		spec[kind] = hs
	}
	return spec, nil
}

// SystemConfig is one explicitly described run
type SystemConfig struct {
	Label     string          `mapstructure:"label"`
	Board     string          `mapstructure:"board"`
	Clock     sim.Freq        `mapstructure:"clock"`
	Processor ComponentConfig `mapstructure:"processor"`
	Memory    ComponentConfig `mapstructure:"memory"`
	Cache     ComponentConfig `mapstructure:"cache"`
	Workload  *WorkloadConfig `mapstructure:"workload"`
	Handlers  HandlersConfig  `mapstructure:"handlers"`
	Timeout   time.Duration   `mapstructure:"timeout"`
}

// SweepConfig expands into processors × workloads × memories runs sharing
// one cache hierarchy and clock
type SweepConfig struct {
	Name       string            `mapstructure:"name"`
	Board      string            `mapstructure:"board"`
	Clock      sim.Freq          `mapstructure:"clock"`
	Processors []ComponentConfig `mapstructure:"processors"`
	Memories   []ComponentConfig `mapstructure:"memories"`
	Cache      ComponentConfig   `mapstructure:"cache"`
	Workloads  []WorkloadConfig  `mapstructure:"workloads"`
	Handlers   HandlersConfig    `mapstructure:"handlers"`
	Timeout    time.Duration     `mapstructure:"timeout"`
}

// ScheduleConfig re-runs another experiment file on a cron expression
type ScheduleConfig struct {
	Name       string `mapstructure:"name"`
	Expression string `mapstructure:"expression"`
	Config     string `mapstructure:"config"`
}

// Schedule converts the entry to a sweep schedule
func (s ScheduleConfig) Schedule() *model.SweepSchedule {
	return &model.SweepSchedule{
		Name:       s.Name,
		Expression: s.Expression,
		ConfigPath: s.Config,
	}
}

// Option adjusts the viper instance before the file is decoded, e.g. to
// bind command line flags
type Option func(v *viper.Viper) error

func setDefaults(v *viper.Viper) {
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.development", false)

	v.SetDefault("multisim.max_parallel", 1)
	v.SetDefault("multisim.run_timeout", time.Duration(0))
	v.SetDefault("multisim.seed", 0)
	v.SetDefault("multisim.max_sim_time", 0.0)

	v.SetDefault("storage.history_db", "")
	v.SetDefault("storage.history_retention", 30*24*time.Hour)
	v.SetDefault("storage.stats_dir", "m5out")
	v.SetDefault("storage.event_log_dir", "")
	v.SetDefault("storage.event_flush_interval", 5*time.Second)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.name", "multisim")
	v.SetDefault("nats.subject_prefix", "multisim")
	v.SetDefault("nats.max_attempts", 5)

	v.SetDefault("monitor.sample_interval", time.Duration(0))
}

// Load reads the experiment file at path. Environment variables prefixed
// with MULTISIM_ override file values.
func Load(path string, opts ...Option) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("multisim")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok || path != "" {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	for _, opt := range opts {
		if err := opt(v); err != nil {
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(decodeHook())); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func decodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		stringToFreqHook,
		stringToActionHook,
		stringToHandlersHook,
	)
}

var (
	freqType     = reflect.TypeOf(sim.Freq(0))
	actionType   = reflect.TypeOf(handler.ActionSpec{})
	handlersType = reflect.TypeOf(HandlersConfig{})
)

// "3GHz"
func stringToFreqHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != freqType {
		return data, nil
	}
	s := data.(string)
	if s == "" {
		return sim.Freq(0), nil
	}
	return components.ParseFreq(s)
}

// "dump_stats" as shorthand for {type: dump_stats}
func stringToActionHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != actionType {
		return data, nil
	}
	return handler.ActionSpec{Type: handler.ActionType(data.(string))}, nil
}

// "roi_stats" or "roi_stats,checkpoint" as shorthand for presets
func stringToHandlersHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != handlersType {
		return data, nil
	}
	var h HandlersConfig
	for _, name := range strings.Split(data.(string), ",") {
		if name = strings.TrimSpace(name); name != "" {
			h.Presets = append(h.Presets, name)
		}
	}
	return h, nil
}

// Validate checks the settings that do not need the component registry
func (c *Config) Validate() error {
	if c.MultiSim.MaxParallel < 1 {
		return fmt.Errorf("%w: multisim.max_parallel must be >= 1, got %d", ErrInvalidConfig, c.MultiSim.MaxParallel)
	}
	if c.MultiSim.RunTimeout < 0 {
		return fmt.Errorf("%w: multisim.run_timeout must be >= 0", ErrInvalidConfig)
	}
	if c.MultiSim.MaxSimTime < 0 {
		return fmt.Errorf("%w: multisim.max_sim_time must be >= 0", ErrInvalidConfig)
	}
	if _, err := zap.ParseAtomicLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("%w: logging.level: %v", ErrInvalidConfig, err)
	}
	for i, s := range c.Sweeps {
		if len(s.Processors) == 0 {
			return fmt.Errorf("%w: sweep %d (%s) has no processors", ErrInvalidConfig, i, s.Name)
		}
		if len(s.Memories) == 0 {
			return fmt.Errorf("%w: sweep %d (%s) has no memories", ErrInvalidConfig, i, s.Name)
		}
	}
	for i, s := range c.Schedules {
		if s.Expression == "" || s.Config == "" {
			return fmt.Errorf("%w: schedule %d (%s) needs an expression and a config", ErrInvalidConfig, i, s.Name)
		}
	}
	return nil
}

// Logger builds the zap logger described by the logging section
func (l LoggingConfig) Logger() (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(l.Level)
	if err != nil {
		return nil, err
	}

	zc := zap.NewProductionConfig()
	if l.Development {
		zc = zap.NewDevelopmentConfig()
	}
	zc.Level = level
	return zc.Build()
}
