package engine

import (
	"fmt"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/model"
	"github.com/t77yq/multisim/internal/resource"
	"github.com/t77yq/multisim/internal/system"
)

// chunkInstructions bounds the work simulated by one engine event
const chunkInstructions = 1_000_000

// coreModel executes a workload's phases on a processor. Time per chunk is
// instructions * CPI plus the exposed part of the memory stall.
type coreModel struct {
	r      *run
	clock  sim.Freq
	cpu    *components.Component
	cpi    float64
	stall  float64
	levels []cacheLevel
	mem    memoryTiming

	phases   []resource.Phase
	phase    int
	done     uint64
	idled    bool
	finished int

	insts        uint64
	cycles       float64
	memAccesses  float64
	dramAccesses float64
	resetAt      sim.VTimeInSec
	switches     int
}

func newCoreModel(r *run, d *system.Descriptor) (*coreModel, error) {
	cpu := d.Processor()
	if cpu.Switchable() {
		cpu = cpu.Variants()[0]
	}
	if cpu.Float("cpi", 0) <= 0 {
		return nil, fmt.Errorf("processor %s has no cpi", cpu.Name())
	}

	return &coreModel{
		r:        r,
		clock:    d.Clock(),
		cpu:      cpu,
		cpi:      cpu.Float("cpi", 1),
		stall:    cpu.Float("stall_factor", 1),
		levels:   levelsOf(d.Cache()),
		mem:      timingOf(d.Memory()),
		phases:   d.Workload().Phases,
		finished: -1,
	}, nil
}

// Handle advances the workload by one step. An event at time t means the
// work scheduled up to t is complete.
func (c *coreModel) Handle(e sim.Event) error {
	now := e.Time()

	if c.finished >= 0 {
		p := c.phases[c.finished]
		c.finished = -1
		if p.Exit != "" && !c.r.suspend(p.Exit, p.Code, p.Name, now) {
			return nil
		}
	}
	if !c.r.checkMaxTick(now) {
		return nil
	}

	for c.phase < len(c.phases) {
		p := c.phases[c.phase]

		if c.done < p.Instructions {
			n := min(uint64(chunkInstructions), p.Instructions-c.done)
			dt := c.execute(n, p)
			c.done += n
			if c.done == p.Instructions && p.Idle == 0 {
				c.finishPhase()
			}
			c.r.schedule(now+dt, c)
			return nil
		}

		if p.Idle > 0 && !c.idled {
			c.idled = true
			c.finishPhase()
			c.r.schedule(now+sim.VTimeInSec(p.Idle.Seconds()), c)
			return nil
		}

		c.finishPhase()
		c.r.schedule(now, c)
		return nil
	}

	c.r.suspend(model.EventExit, 0, "workload complete", now)
	return nil
}

func (c *coreModel) finishPhase() {
	c.finished = c.phase
	c.phase++
	c.done = 0
	c.idled = false
}

// execute accounts n instructions of phase p and returns the simulated time
// they take.
func (c *coreModel) execute(n uint64, p resource.Phase) sim.VTimeInSec {
	accesses := float64(n) * p.MemRatio
	cacheCycles, memShare := accessProfile(c.levels, p.WorkingSet)
	memCycles := float64(c.mem.latency+c.mem.rowMiss/2) * float64(c.clock)

	cycles := float64(n)*c.cpi + accesses*(cacheCycles+memShare*memCycles)*c.stall
	dt := sim.VTimeInSec(cycles) * c.clock.Period()

	dram := accesses * memShare
	if c.mem.bandwidth > 0 {
		if floor := sim.VTimeInSec(dram * 64 / c.mem.bandwidth); floor > dt {
			dt = floor
			cycles = float64(dt) * float64(c.clock)
		}
	}

	c.insts += n
	c.cycles += cycles
	c.memAccesses += accesses
	c.dramAccesses += dram
	return dt
}

func (c *coreModel) stats(now sim.VTimeInSec) model.Stats {
	secs := float64(now - c.resetAt)
	s := model.Stats{
		"simInsts":     float64(c.insts),
		"numCycles":    c.cycles,
		"simSeconds":   secs,
		"simTicks":     secs * tickFreq,
		"simFreq":      tickFreq,
		"memAccesses":  c.memAccesses,
		"dramAccesses": c.dramAccesses,
		"cores":        float64(c.cpu.Cores()),
		"switches":     float64(c.switches),
	}
	if c.insts > 0 {
		s["cpi"] = c.cycles / float64(c.insts)
	}
	return s
}

func (c *coreModel) reset(now sim.VTimeInSec) {
	c.insts = 0
	c.cycles = 0
	c.memAccesses = 0
	c.dramAccesses = 0
	c.resetAt = now
}

func (c *coreModel) switchCPU(to *components.Component) error {
	switch {
	case to == nil || to.Kind() != components.KindProcessor:
		return &SwitchError{Reason: "target is not a processor"}
	case components.IsGenerator(to):
		return &SwitchError{Reason: "cannot switch to a traffic generator"}
	case to.Switchable():
		return &SwitchError{Reason: "target must be a concrete processor"}
	case to.ISA() != c.cpu.ISA():
		return &SwitchError{Reason: fmt.Sprintf("ISA %s does not match running ISA %s", to.ISA(), c.cpu.ISA())}
	case to.Cores() != c.cpu.Cores():
		return &SwitchError{Reason: fmt.Sprintf("%d cores do not match running %d cores", to.Cores(), c.cpu.Cores())}
	case to.Float("cpi", 0) <= 0:
		return &SwitchError{Reason: fmt.Sprintf("processor %s has no cpi", to.Name())}
	}

	c.cpu = to
	c.cpi = to.Float("cpi", 1)
	c.stall = to.Float("stall_factor", 1)
	c.switches++
	return nil
}
