package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/dispatch"
	"github.com/t77yq/multisim/internal/engine"
	"github.com/t77yq/multisim/internal/model"
	"github.com/t77yq/multisim/internal/resource"
	"github.com/t77yq/multisim/internal/storage"
	"github.com/t77yq/multisim/internal/system"
)

func buildSystem(t *testing.T, p *components.Component, w *resource.Workload) *system.Descriptor {
	t.Helper()
	mem, err := components.SingleChannelDDR4_2400("2GiB")
	require.NoError(t, err)
	cache, err := components.PrivateL1PrivateL2("32KiB", "32KiB", "256KiB", p.Cores())
	require.NoError(t, err)
	d, err := system.Build(p, mem, cache, 3*sim.GHz, w)
	require.NoError(t, err)
	return d
}

func kernelSystem(t *testing.T, command string) *system.Descriptor {
	t.Helper()
	p, err := components.SimpleProcessor(components.CPUTypeTiming, components.ISAX86, 1)
	require.NoError(t, err)
	w, err := resource.NewCatalog().KernelDisk("x86-linux-kernel-5.4.0-105-generic", "x86-ubuntu-22.04-img", command)
	require.NoError(t, err)
	return buildSystem(t, p, w)
}

func run(t *testing.T, d *system.Descriptor, factory dispatch.Factory) (*model.RunRecord, error) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	eng := engine.NewAkitaEngine(logger)
	return dispatch.NewDispatcher(eng, logger).Run(context.Background(), d, factory())
}

func TestFactoryValidation(t *testing.T) {
	resume := []StepSpec{{}}
	tests := []struct {
		name string
		spec Spec
	}{
		{"unknown kind", Spec{"boot": {Steps: resume}}},
		{"no steps", Spec{"exit": {}}},
		{"unknown mode", Spec{"exit": {Mode: "twice", Steps: resume}}},
		{"unknown exhaustion", Spec{"exit": {Exhausted: "ignore", Steps: resume}}},
		{"unknown directive", Spec{"exit": {Steps: []StepSpec{{Directive: "pause"}}}}},
		{"unknown action", Spec{"exit": {Steps: []StepSpec{{Actions: []ActionSpec{{Type: "reboot"}}}}}}},
		{"log without message", Spec{"exit": {Steps: []StepSpec{{Actions: []ActionSpec{{Type: ActionLog}}}}}}},
		{"exec without command", Spec{"exit": {Steps: []StepSpec{{Actions: []ActionSpec{{Type: ActionExec}}}}}}},
		{"webhook without url", Spec{"exit": {Steps: []StepSpec{{Actions: []ActionSpec{{Type: ActionWebhook}}}}}}},
		{"checkpoint without writer", Presets["checkpoint"]},
	}

	b := NewBuilder(zaptest.NewLogger(t))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Factory(tt.spec)
			assert.ErrorIs(t, err, ErrInvalidSpec)
		})
	}
}

func TestFactoryBuildsFreshTables(t *testing.T) {
	f, err := NewBuilder(zaptest.NewLogger(t)).Factory(Presets["roi_stats"])
	require.NoError(t, err)

	a, b := f(), f()
	require.Len(t, a, 2)
	assert.NotSame(t, a[model.EventWorkBegin], b[model.EventWorkBegin])
	assert.NotSame(t, a[model.EventWorkEnd], b[model.EventWorkEnd])
}

func TestROIStatsPreset(t *testing.T) {
	f, err := NewBuilder(zaptest.NewLogger(t)).Factory(Presets["roi_stats"])
	require.NoError(t, err)

	p, err := components.SimpleProcessor(components.CPUTypeTiming, components.ISARISCV, 1)
	require.NoError(t, err)
	w, err := resource.NewCatalog().Resolve("riscv-matrix-multiply-run")
	require.NoError(t, err)

	rec, err := run(t, buildSystem(t, p, w), f)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, rec.Status)
	assert.Equal(t, 3, rec.Events)
	require.Len(t, rec.Dumps, 1)
	assert.Equal(t, float64(20_000_000), rec.Dumps[0]["simInsts"])
}

func TestSwitchOnExitPreset(t *testing.T) {
	f, err := NewBuilder(zaptest.NewLogger(t)).Factory(Presets["switch_on_exit"])
	require.NoError(t, err)

	p, err := components.SwitchableProcessor(components.CPUTypeTiming, components.CPUTypeO3, components.ISAX86, 2)
	require.NoError(t, err)
	w, err := resource.NewCatalog().KernelDisk("x86-linux-kernel-5.4.0-105-generic", "x86-ubuntu-22.04-img",
		"m5 exit; echo 'This is running on O3 CPU cores.'; sleep 1; m5 exit;")
	require.NoError(t, err)

	rec, err := run(t, buildSystem(t, p, w), f)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, rec.Status)
	assert.Equal(t, 2, rec.Events)
	assert.Equal(t, float64(1), rec.Stats["switches"])
}

func TestCheckpointAction(t *testing.T) {
	logger := zaptest.NewLogger(t)
	dir := t.TempDir()
	w, err := storage.NewStatsWriter(logger, dir)
	require.NoError(t, err)

	f, err := NewBuilder(logger, WithStatsWriter(w)).Factory(Presets["checkpoint"])
	require.NoError(t, err)

	d := kernelSystem(t, "m5 checkpoint; m5 exit")
	rec, err := run(t, d, f)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, rec.Status)

	data, err := os.ReadFile(filepath.Join(dir, d.Label(), "cpt.1.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "kind: checkpoint")
}

func TestExecAction(t *testing.T) {
	out := filepath.Join(t.TempDir(), "seen")
	spec := Spec{
		"exit": {Steps: []StepSpec{{
			Actions: []ActionSpec{
				{Type: ActionLog, Message: "Guest requested exit"},
				{Type: ActionExec, Command: "sh", Args: []string{"-c", `echo "$MULTISIM_EVENT $MULTISIM_SEQ $EXTRA" > "$OUT"`},
					Env: map[string]string{"OUT": out, "EXTRA": "ok"}},
			},
			Directive: "terminate",
			Code:      3,
		}}},
	}
	f, err := NewBuilder(zaptest.NewLogger(t)).Factory(spec)
	require.NoError(t, err)

	rec, err := run(t, kernelSystem(t, "m5 exit"), f)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, rec.Status)
	assert.Equal(t, 3, rec.ExitCode)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "exit 1 ok", strings.TrimSpace(string(data)))

	t.Run("failing command keeps the directive", func(t *testing.T) {
		spec := Spec{"exit": {Steps: []StepSpec{{
			Actions:   []ActionSpec{{Type: ActionExec, Command: "false"}},
			Directive: "terminate",
			Code:      5,
		}}}}
		f, err := NewBuilder(zaptest.NewLogger(t)).Factory(spec)
		require.NoError(t, err)

		rec, err := run(t, kernelSystem(t, "m5 exit"), f)
		require.NoError(t, err)
		assert.Equal(t, model.RunStatusCompleted, rec.Status)
		assert.Equal(t, 5, rec.ExitCode)
	})

	t.Run("failing required command fails the run", func(t *testing.T) {
		spec := Spec{"exit": {Steps: []StepSpec{{Actions: []ActionSpec{{Type: ActionExec, Command: "false", Required: true}}}}}}
		f, err := NewBuilder(zaptest.NewLogger(t)).Factory(spec)
		require.NoError(t, err)

		rec, err := run(t, kernelSystem(t, "m5 exit"), f)
		var herr *dispatch.HandlerError
		require.ErrorAs(t, err, &herr)
		assert.Equal(t, model.RunStatusFailed, rec.Status)
		assert.Equal(t, model.ErrorClassHandler, rec.ErrorClass)
	})
}

func TestWebhookAction(t *testing.T) {
	var got []webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		var p webhookPayload
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&p)) {
			got = append(got, p)
		}
		if p.Event.Kind == model.EventWorkEnd {
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	d := kernelSystem(t, "m5 workbegin; ls; m5 workend; m5 exit")
	factory := func(required bool) dispatch.Factory {
		hook := ActionSpec{Type: ActionWebhook, URL: srv.URL, Headers: map[string]string{"X-Token": "secret"}, Required: required}
		spec := Spec{
			"workbegin": {Mode: ModeRepeat, Steps: []StepSpec{{Actions: []ActionSpec{hook}}}},
			"workend":   {Mode: ModeRepeat, Steps: []StepSpec{{Actions: []ActionSpec{hook}}}},
		}
		f, err := NewBuilder(zaptest.NewLogger(t), WithHTTPClient(srv.Client())).Factory(spec)
		require.NoError(t, err)
		return f
	}

	rec, err := run(t, d, factory(false))
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, rec.Status)

	require.Len(t, got, 2)
	assert.Equal(t, d.Label(), got[0].Run)
	assert.Equal(t, model.EventWorkBegin, got[0].Event.Kind)
	assert.Equal(t, model.EventWorkEnd, got[1].Event.Kind)

	rec, err = run(t, d, factory(true))
	require.Error(t, err)
	assert.Equal(t, model.RunStatusFailed, rec.Status)
	assert.Contains(t, rec.Reason, "status 500")
	assert.Len(t, got, 4)
}

func TestSequenceExhaustionFromSpec(t *testing.T) {
	spec := Spec{"exit": {Steps: []StepSpec{{Actions: []ActionSpec{{Type: ActionDumpStats}}}}}}
	f, err := NewBuilder(zaptest.NewLogger(t)).Factory(spec)
	require.NoError(t, err)

	rec, err := run(t, kernelSystem(t, "m5 exit; m5 exit"), f)
	assert.ErrorIs(t, err, dispatch.ErrSequenceExhausted)
	assert.Equal(t, model.RunStatusFailed, rec.Status)
	assert.Len(t, rec.Dumps, 1)

	spec["exit"] = HandlerSpec{Exhausted: "default", Steps: spec["exit"].Steps}
	f, err = NewBuilder(zaptest.NewLogger(t)).Factory(spec)
	require.NoError(t, err)

	rec, err = run(t, kernelSystem(t, "m5 exit; m5 exit"), f)
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusCompleted, rec.Status)
	assert.Equal(t, 2, rec.Events)
}
