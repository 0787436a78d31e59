package engine

import (
	"fmt"
	"math/rand/v2"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/model"
	"github.com/t77yq/multisim/internal/system"
)

const (
	// requestsPerEvent bounds the requests issued by one engine event
	requestsPerEvent = 4096

	// rowBytes is the DRAM row size used to decide row buffer misses
	rowBytes = 2048

	// randomRowMissRate is the row miss probability of random traffic
	randomRowMissRate = 0.75
)

// generatorModel issues fixed-size requests at a constant rate against the
// memory system and records bandwidth and latency.
type generatorModel struct {
	r        *run
	random   bool
	interval sim.VTimeInSec
	total    uint64
	readFrac float64
	minAddr  int64
	span     int64
	block    int64
	period   sim.VTimeInSec
	level    *cacheLevel
	mem      memoryTiming
	rng      *rand.Rand

	issued    uint64
	busyUntil sim.VTimeInSec
	lastDone  sim.VTimeInSec

	bytesRead    float64
	bytesWritten float64
	reads        float64
	writes       float64
	readLatency  sim.VTimeInSec
	writeLatency sim.VTimeInSec
	resetAt      sim.VTimeInSec
}

func newGeneratorModel(r *run, d *system.Descriptor, seed uint64) (*generatorModel, error) {
	p := d.Processor()
	rate := p.Float("rate", 0)
	block := p.Int("block_size", 64)
	duration := p.Float("duration", 0)
	minAddr := p.Int("min_addr", 0)
	span := p.Int("max_addr", 0) - minAddr
	if rate <= 0 || block <= 0 || duration <= 0 || span < block {
		return nil, fmt.Errorf("generator %s is misconfigured", p.Name())
	}

	interval := sim.VTimeInSec(float64(block) / rate)
	return &generatorModel{
		r:        r,
		random:   p.String("generator", "") == "random",
		interval: interval,
		total:    uint64(duration / float64(interval)),
		readFrac: float64(p.Int("rd_perc", 100)) / 100,
		minAddr:  minAddr,
		span:     span,
		block:    block,
		period:   d.Clock().Period(),
		level:    servingLevel(levelsOf(d.Cache()), span),
		mem:      timingOf(d.Memory()),
		rng:      rand.New(rand.NewPCG(seed, seed>>1|1)),
	}, nil
}

func (g *generatorModel) Handle(e sim.Event) error {
	now := e.Time()
	if !g.r.checkMaxTick(now) {
		return nil
	}

	if g.issued >= g.total {
		if g.lastDone > now {
			g.r.schedule(g.lastDone, g)
			return nil
		}
		g.r.suspend(model.EventExit, 0, "traffic generator finished", now)
		return nil
	}

	n := min(uint64(requestsPerEvent), g.total-g.issued)
	for i := uint64(0); i < n; i++ {
		t := sim.VTimeInSec(g.issued) * g.interval
		g.request(t)
		g.issued++
	}
	g.r.schedule(max(now, sim.VTimeInSec(g.issued)*g.interval), g)
	return nil
}

func (g *generatorModel) request(t sim.VTimeInSec) {
	var addr int64
	if g.random {
		addr = g.minAddr + g.rng.Int64N(g.span/g.block)*g.block
	} else {
		addr = g.minAddr + (int64(g.issued)*g.block)%g.span
	}

	lat := g.access(t, addr)
	if done := t + lat; done > g.lastDone {
		g.lastDone = done
	}

	if g.rng.Float64() < g.readFrac {
		g.reads++
		g.bytesRead += float64(g.block)
		g.readLatency += lat
	} else {
		g.writes++
		g.bytesWritten += float64(g.block)
		g.writeLatency += lat
	}
}

// access returns the latency of one request issued at t
func (g *generatorModel) access(t sim.VTimeInSec, addr int64) sim.VTimeInSec {
	if g.level != nil {
		return sim.VTimeInSec(g.level.hitCycles) * g.period
	}

	var service sim.VTimeInSec
	if g.mem.bandwidth > 0 {
		service = sim.VTimeInSec(float64(g.block) / g.mem.bandwidth)
	}
	begin := max(t, g.busyUntil)
	g.busyUntil = begin + service

	lat := begin - t + service + g.mem.latency
	if g.random {
		if g.rng.Float64() < randomRowMissRate {
			lat += g.mem.rowMiss
		}
	} else if addr%rowBytes == 0 {
		lat += g.mem.rowMiss
	}
	if g.mem.latencyVar > 0 {
		lat += g.mem.latencyVar * sim.VTimeInSec(g.rng.Float64())
	}
	return lat
}

func (g *generatorModel) stats(now sim.VTimeInSec) model.Stats {
	secs := float64(now - g.resetAt)
	return model.Stats{
		"bytesRead":         g.bytesRead,
		"bytesWritten":      g.bytesWritten,
		"totalReads":        g.reads,
		"totalWrites":       g.writes,
		"totalReadLatency":  float64(g.readLatency) * tickFreq,
		"totalWriteLatency": float64(g.writeLatency) * tickFreq,
		"simSeconds":        secs,
		"simTicks":          secs * tickFreq,
		"simFreq":           tickFreq,
	}
}

func (g *generatorModel) reset(now sim.VTimeInSec) {
	g.bytesRead = 0
	g.bytesWritten = 0
	g.reads = 0
	g.writes = 0
	g.readLatency = 0
	g.writeLatency = 0
	g.resetAt = now
}

func (g *generatorModel) switchCPU(*components.Component) error {
	return &SwitchError{Reason: "traffic generators cannot be switched"}
}
