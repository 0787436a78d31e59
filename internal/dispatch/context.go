package dispatch

import (
	"context"

	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/engine"
	"github.com/t77yq/multisim/internal/model"
	"github.com/t77yq/multisim/internal/system"
)

// Context is what a handler sees of the suspended run it is handling
type Context struct {
	Engine     engine.Engine
	Handle     engine.RunHandle
	Descriptor *system.Descriptor
	Logger     *zap.Logger

	ctx   context.Context
	dumps []model.Stats
}

// Ctx returns the context of the run. Handlers doing I/O should honour it.
func (hc *Context) Ctx() context.Context {
	if hc.ctx == nil {
		return context.Background()
	}
	return hc.ctx
}

// Label returns the run's label
func (hc *Context) Label() string {
	return hc.Descriptor.Label()
}

// DumpStats snapshots the run's statistics and keeps the snapshot for the
// run record
func (hc *Context) DumpStats() (model.Stats, error) {
	stats, err := hc.Engine.DumpStats(hc.Handle)
	if err != nil {
		return nil, err
	}
	hc.dumps = append(hc.dumps, stats.Clone())
	return stats, nil
}

// ResetStats zeroes the run's statistics
func (hc *Context) ResetStats() error {
	return hc.Engine.ResetStats(hc.Handle)
}

// Dumps returns the snapshots taken so far
func (hc *Context) Dumps() []model.Stats {
	return append([]model.Stats(nil), hc.dumps...)
}
