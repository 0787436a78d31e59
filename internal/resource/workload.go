package resource

import (
	"fmt"
	"os"
	"time"

	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/model"
)

// Category classifies catalog entries
type Category string

const (
	CategoryWorkload  Category = "workload"
	CategoryBinary    Category = "binary"
	CategoryKernel    Category = "kernel"
	CategoryDiskImage Category = "disk_image"
	CategorySuite     Category = "suite"
)

// Resource is the catalog's description of a named artifact
type Resource struct {
	ID          string
	Version     string
	Category    Category
	ISA         components.ISA
	Description string
}

// Phase is one stretch of guest execution. When Exit is set the engine
// suspends with that event kind once the phase completes.
type Phase struct {
	Name         string
	Instructions uint64
	// MemRatio is the fraction of instructions that touch memory
	MemRatio   float64
	WorkingSet int64
	Idle       time.Duration
	Exit       model.EventKind
	Code       int
}

// Workload is what a board executes. Values handed out by a Resolver are
// shared between runs and must be treated as read-only.
type Workload struct {
	ID          string
	Version     string
	Category    Category
	RequiredISA components.ISA
	Groups      []string
	Phases      []Phase
	LocalPath   string
	Command     string
	// FullSystem workloads boot a kernel and need a full-system board
	FullSystem bool
}

// Ready reports whether the workload can be handed to an engine
func (w *Workload) Ready() error {
	if w == nil {
		return fmt.Errorf("%w: no workload", ErrNotReady)
	}
	if len(w.Phases) == 0 {
		return fmt.Errorf("%w: %s has no phases", ErrNotReady, w.ID)
	}
	if w.LocalPath != "" {
		info, err := os.Stat(w.LocalPath)
		if err != nil {
			return fmt.Errorf("%w: %s: %v", ErrNotReady, w.ID, err)
		}
		if info.IsDir() {
			return fmt.Errorf("%w: %s: %s is a directory", ErrNotReady, w.ID, w.LocalPath)
		}
	}
	return nil
}

// Instructions returns the total instruction count over all phases
func (w *Workload) Instructions() uint64 {
	var n uint64
	for _, p := range w.Phases {
		n += p.Instructions
	}
	return n
}

// InGroup reports whether the workload belongs to the input group
func (w *Workload) InGroup(group string) bool {
	for _, g := range w.Groups {
		if g == group {
			return true
		}
	}
	return false
}

// roiPhases is the shape of an annotated benchmark: setup, a region of
// interest bracketed by workbegin/workend, then teardown.
func roiPhases(setup, roi, teardown uint64, memRatio float64, workingSet int64) []Phase {
	return []Phase{
		{Name: "setup", Instructions: setup, MemRatio: memRatio / 2, WorkingSet: workingSet / 4, Exit: model.EventWorkBegin},
		{Name: "roi", Instructions: roi, MemRatio: memRatio, WorkingSet: workingSet, Exit: model.EventWorkEnd},
		{Name: "teardown", Instructions: teardown, MemRatio: memRatio / 2, WorkingSet: workingSet / 4},
	}
}

// LocalBinary wraps a binary on the local filesystem. Without phases the
// binary is modeled as an annotated matrix-multiply sized run.
func LocalBinary(path string, isa components.ISA, phases []Phase) *Workload {
	if len(phases) == 0 {
		phases = roiPhases(2_000_000, 20_000_000, 500_000, 0.35, 3<<20)
	}
	return &Workload{
		ID:          "local:" + path,
		Category:    CategoryBinary,
		RequiredISA: isa,
		Phases:      append([]Phase(nil), phases...),
		LocalPath:   path,
	}
}
