// Package engine is the boundary to the stepping simulation engine. A run is
// started from a descriptor and then driven one exit event at a time.
package engine

//go:generate mockgen -destination enginemock/mock_engine.go -package enginemock github.com/t77yq/multisim/internal/engine Engine

import (
	"context"

	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/model"
	"github.com/t77yq/multisim/internal/system"
)

// RunHandle identifies one started run
type RunHandle string

// Capabilities advertises optional engine features
type Capabilities struct {
	// ProcessorSwitch is set when the engine can replace a processor's
	// implementation mid-run while keeping architectural state.
	ProcessorSwitch bool
}

// Engine steps simulations. Every run is independent: methods called with
// different handles may be used from different goroutines.
type Engine interface {
	// Start begins stepping the descriptor's system
	Start(ctx context.Context, d *system.Descriptor) (RunHandle, error)

	// NextEvent blocks until the run suspends on an exit event. It returns
	// ErrRunFinished once the run has nothing left to simulate.
	NextEvent(ctx context.Context, h RunHandle) (model.ExitEvent, error)

	// Resume continues a suspended run. It must be called exactly once per
	// delivered event the driver does not terminate on.
	Resume(h RunHandle) error

	// Stop ends the run and releases its engine resources. Idempotent.
	Stop(h RunHandle) error

	// Stats returns the final statistics once the run is over
	Stats(h RunHandle) (model.Stats, error)

	// DumpStats snapshots the statistics of a suspended run
	DumpStats(h RunHandle) (model.Stats, error)

	// ResetStats zeroes the statistics of a suspended run
	ResetStats(h RunHandle) error

	// SwitchProcessor swaps the active processor of a suspended run for to
	SwitchProcessor(h RunHandle, to *components.Component) error

	Capabilities() Capabilities
}
