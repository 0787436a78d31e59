package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/t77yq/multisim/internal/model"
)

const (
	statsFileName = "stats.yaml"
	recordFile    = "run.yaml"
)

// runSummary is the non-stat part of a run record as written next to the stats
type runSummary struct {
	ID         string    `yaml:"id"`
	Label      string    `yaml:"label"`
	Status     string    `yaml:"status"`
	ErrorClass string    `yaml:"error_class,omitempty"`
	Reason     string    `yaml:"reason,omitempty"`
	ExitCode   int       `yaml:"exit_code"`
	Events     int       `yaml:"events"`
	Dumps      int       `yaml:"dumps"`
	StartedAt  time.Time `yaml:"started_at"`
	WallTime   float64   `yaml:"wall_seconds"`
}

// StatsWriter writes per-run statistics under one output directory, one
// sub-directory per run label
type StatsWriter struct {
	logger *zap.Logger
	dir    string
}

// NewStatsWriter creates the output directory if needed
func NewStatsWriter(logger *zap.Logger, dir string) (*StatsWriter, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create stats directory: %w", err)
	}
	return &StatsWriter{
		logger: logger.Named("stats-writer"),
		dir:    dir,
	}, nil
}

// Dir returns the output directory
func (w *StatsWriter) Dir() string {
	return w.dir
}

// runDir validates label and returns its directory
func (w *StatsWriter) runDir(label string) (string, error) {
	if label == "" || label == "." || label == ".." ||
		strings.ContainsAny(label, `/\`) || filepath.Base(label) != label {
		return "", fmt.Errorf("%w: %q", ErrInvalidLabel, label)
	}
	dir := filepath.Join(w.dir, label)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create run directory: %w", err)
	}
	return dir, nil
}

// WriteRun writes the final stats of rec as a flat mapping to
// <dir>/<label>/stats.yaml, each dump to stats.<n>.yaml and a summary to
// run.yaml. It returns the path of stats.yaml.
func (w *StatsWriter) WriteRun(rec *model.RunRecord) (string, error) {
	dir, err := w.runDir(rec.Label)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, statsFileName)
	if err := writeYAML(path, statsOrEmpty(rec.Stats)); err != nil {
		return "", err
	}
	for i, dump := range rec.Dumps {
		if err := writeYAML(filepath.Join(dir, fmt.Sprintf("stats.%d.yaml", i)), statsOrEmpty(dump)); err != nil {
			return "", err
		}
	}

	summary := runSummary{
		ID:         rec.ID,
		Label:      rec.Label,
		Status:     string(rec.Status),
		ErrorClass: string(rec.ErrorClass),
		Reason:     rec.Reason,
		ExitCode:   rec.ExitCode,
		Events:     rec.Events,
		Dumps:      len(rec.Dumps),
		StartedAt:  rec.StartedAt.UTC(),
		WallTime:   rec.WallTime.Seconds(),
	}
	if err := writeYAML(filepath.Join(dir, recordFile), summary); err != nil {
		return "", err
	}

	w.logger.Debug("Wrote run stats",
		zap.String("run", rec.Label),
		zap.String("path", path),
		zap.Int("stats", len(rec.Stats)))
	return path, nil
}

// Store writes rec so the writer can act as an orchestrator sink
func (w *StatsWriter) Store(_ context.Context, _ string, rec *model.RunRecord) error {
	_, err := w.WriteRun(rec)
	return err
}

// WriteCheckpoint writes the stats snapshot taken at ev to
// <dir>/<label>/cpt.<seq>.yaml
func (w *StatsWriter) WriteCheckpoint(label string, ev model.ExitEvent, stats model.Stats) (string, error) {
	dir, err := w.runDir(label)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, fmt.Sprintf("cpt.%d.yaml", ev.Seq))
	doc := struct {
		Seq     uint64      `yaml:"seq"`
		Kind    string      `yaml:"kind"`
		SimTime float64     `yaml:"sim_time"`
		Stats   model.Stats `yaml:"stats"`
	}{ev.Seq, string(ev.Kind), ev.SimTime, statsOrEmpty(stats)}
	if err := writeYAML(path, doc); err != nil {
		return "", err
	}

	w.logger.Info("Wrote checkpoint",
		zap.String("run", label),
		zap.Uint64("seq", ev.Seq),
		zap.String("path", path))
	return path, nil
}

// ReadStats reads a flat stats mapping written by WriteRun
func ReadStats(path string) (model.Stats, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stats file: %w", err)
	}
	var stats model.Stats
	if err := yaml.Unmarshal(data, &stats); err != nil {
		return nil, fmt.Errorf("failed to decode stats file: %w", err)
	}
	return stats, nil
}

func statsOrEmpty(s model.Stats) model.Stats {
	if s == nil {
		return model.Stats{}
	}
	return s
}

func writeYAML(path string, v any) error {
	data, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}
