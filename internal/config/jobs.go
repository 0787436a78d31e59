package config

import (
	"errors"
	"fmt"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/dispatch"
	"github.com/t77yq/multisim/internal/handler"
	"github.com/t77yq/multisim/internal/orchestrator"
	"github.com/t77yq/multisim/internal/resource"
	"github.com/t77yq/multisim/internal/system"
)

// DefaultClock is used when a system or sweep names no clock
const DefaultClock = 3 * sim.GHz

// JobBuilder resolves components, workloads and handlers into jobs
type JobBuilder struct {
	registry *components.Registry
	catalog  *resource.Catalog
	handlers *handler.Builder
}

// NewJobBuilder creates a new job builder
func NewJobBuilder(registry *components.Registry, catalog *resource.Catalog, handlers *handler.Builder) *JobBuilder {
	return &JobBuilder{
		registry: registry,
		catalog:  catalog,
		handlers: handlers,
	}
}

// Jobs expands the systems and sweeps of cfg, in file order. All problems
// are reported together; a *system.ValidationError among them can be found
// with errors.As.
func (b *JobBuilder) Jobs(cfg *Config) ([]orchestrator.Job, error) {
	var (
		jobs []orchestrator.Job
		errs []error
	)

	for i, sc := range cfg.Systems {
		job, err := b.system(sc)
		if err != nil {
			errs = append(errs, fmt.Errorf("system %d (%s): %w", i, sc.Label, err))
			continue
		}
		jobs = append(jobs, job)
	}

	for i, sw := range cfg.Sweeps {
		expanded, err := b.sweep(sw)
		if err != nil {
			errs = append(errs, fmt.Errorf("sweep %d (%s): %w", i, sw.Name, err))
			continue
		}
		jobs = append(jobs, expanded...)
	}

	seen := make(map[string]bool, len(jobs))
	for _, job := range jobs {
		label := job.Descriptor.Label()
		if seen[label] {
			errs = append(errs, fmt.Errorf("%w: %s", ErrDuplicateLabel, label))
		}
		seen[label] = true
	}

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return jobs, nil
}

func (b *JobBuilder) system(sc SystemConfig) (orchestrator.Job, error) {
	processor, err := b.component(components.KindProcessor, sc.Processor)
	if err != nil {
		return orchestrator.Job{}, err
	}
	memory, err := b.component(components.KindMemory, sc.Memory)
	if err != nil {
		return orchestrator.Job{}, err
	}
	cache, err := b.component(components.KindCacheHierarchy, sc.Cache)
	if err != nil {
		return orchestrator.Job{}, err
	}

	var workload *resource.Workload
	if sc.Workload != nil {
		if sc.Workload.Suite != "" {
			return orchestrator.Job{}, fmt.Errorf("%w: suites are only allowed in sweeps", ErrInvalidConfig)
		}
		workloads, err := b.workloads(*sc.Workload)
		if err != nil {
			return orchestrator.Job{}, err
		}
		workload = workloads[0]
	}

	opts, err := systemOptions(sc.Board, sc.Label)
	if err != nil {
		return orchestrator.Job{}, err
	}
	desc, err := system.Build(processor, memory, cache, clockOrDefault(sc.Clock), workload, opts...)
	if err != nil {
		return orchestrator.Job{}, err
	}

	factory, err := b.factory(sc.Handlers)
	if err != nil {
		return orchestrator.Job{}, err
	}
	return orchestrator.Job{Descriptor: desc, Handlers: factory, Timeout: sc.Timeout}, nil
}

func (b *JobBuilder) sweep(sw SweepConfig) ([]orchestrator.Job, error) {
	factory, err := b.factory(sw.Handlers)
	if err != nil {
		return nil, err
	}

	var workloads []*resource.Workload
	for _, wc := range sw.Workloads {
		resolved, err := b.workloads(wc)
		if err != nil {
			return nil, err
		}
		workloads = append(workloads, resolved...)
	}
	if len(workloads) == 0 {
		// traffic generators run without a workload
		workloads = []*resource.Workload{nil}
	}

	processors, err := b.createAll(components.KindProcessor, sw.Processors)
	if err != nil {
		return nil, err
	}
	memories, err := b.createAll(components.KindMemory, sw.Memories)
	if err != nil {
		return nil, err
	}
	cache, err := b.component(components.KindCacheHierarchy, sw.Cache)
	if err != nil {
		return nil, err
	}

	var jobs []orchestrator.Job
	for _, processor := range processors {
		for _, w := range workloads {
			for _, memory := range memories {
				label := sweepLabel(processor, w, memory, len(memories) > 1)
				opts, err := systemOptions(sw.Board, label)
				if err != nil {
					return nil, err
				}
				desc, err := system.Build(processor, memory, cache, clockOrDefault(sw.Clock), w, opts...)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", label, err)
				}
				jobs = append(jobs, orchestrator.Job{Descriptor: desc, Handlers: factory, Timeout: sw.Timeout})
			}
		}
	}
	return jobs, nil
}

// sweepLabel is <processor>-<workload>, suffixed with the memory when a
// sweep varies memories
func sweepLabel(processor *components.Component, w *resource.Workload, memory *components.Component, withMemory bool) string {
	label := processor.Name()
	if w != nil {
		label += "-" + w.ID
	}
	if withMemory {
		label += "-" + memory.Name()
	}
	return label
}

func (b *JobBuilder) component(kind components.Kind, cc ComponentConfig) (*components.Component, error) {
	if cc.Type == "" {
		return nil, fmt.Errorf("%w: %s type is required", ErrInvalidConfig, kind)
	}
	return b.registry.Create(kind, cc.Type, cc.Args)
}

func (b *JobBuilder) createAll(kind components.Kind, ccs []ComponentConfig) ([]*components.Component, error) {
	out := make([]*components.Component, 0, len(ccs))
	for _, cc := range ccs {
		c, err := b.component(kind, cc)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func (b *JobBuilder) workloads(wc WorkloadConfig) ([]*resource.Workload, error) {
	switch {
	case wc.Resource != "":
		w, err := b.catalog.Resolve(wc.Resource)
		if err != nil {
			return nil, err
		}
		return []*resource.Workload{w}, nil

	case wc.Suite != "":
		suite, err := b.catalog.Suite(wc.Suite)
		if err != nil {
			return nil, err
		}
		if wc.InputGroup != "" {
			suite = suite.WithInputGroup(wc.InputGroup)
		}
		members := suite.Workloads()
		if len(members) == 0 {
			return nil, fmt.Errorf("%w: suite %s has no workloads in group %q", ErrInvalidConfig, wc.Suite, wc.InputGroup)
		}
		return members, nil

	case wc.LocalPath != "":
		isa, err := components.ParseISA(wc.ISA)
		if err != nil {
			return nil, err
		}
		// readiness is checked when the run starts
		return []*resource.Workload{resource.LocalBinary(wc.LocalPath, isa, nil)}, nil

	case wc.Kernel != "":
		w, err := b.catalog.KernelDisk(wc.Kernel, wc.Disk, wc.Readfile)
		if err != nil {
			return nil, err
		}
		return []*resource.Workload{w}, nil
	}
	return nil, fmt.Errorf("%w: workload needs one of resource, suite, local_path or kernel", ErrInvalidConfig)
}

func (b *JobBuilder) factory(hc HandlersConfig) (dispatch.Factory, error) {
	if hc.Empty() {
		return nil, nil
	}
	spec, err := hc.Spec()
	if err != nil {
		return nil, err
	}
	return b.handlers.Factory(spec)
}

func systemOptions(board, label string) ([]system.Option, error) {
	var opts []system.Option
	if board != "" {
		bd, err := system.ParseBoard(board)
		if err != nil {
			return nil, err
		}
		opts = append(opts, system.WithBoard(bd))
	}
	if label != "" {
		opts = append(opts, system.WithLabel(label))
	}
	return opts, nil
}

func clockOrDefault(f sim.Freq) sim.Freq {
	if f == 0 {
		return DefaultClock
	}
	return f
}
