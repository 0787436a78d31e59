package engine

import (
	"github.com/sarchlab/akita/v4/sim"

	"github.com/t77yq/multisim/internal/components"
)

// dataLevels are the cache levels a data access walks through, nearest first
var dataLevels = []string{"l1d", "l2", "l3"}

// cacheLevel is the engine's view of one cache level
type cacheLevel struct {
	name      string
	size      int64
	hitCycles float64
}

// memoryTiming is the engine's view of the memory controller
type memoryTiming struct {
	latency    sim.VTimeInSec
	rowMiss    sim.VTimeInSec
	latencyVar sim.VTimeInSec
	bandwidth  float64
}

func levelsOf(cache *components.Component) []cacheLevel {
	var levels []cacheLevel
	for _, name := range dataLevels {
		size := cache.Int(name+"_size", 0)
		if size == 0 {
			continue
		}
		levels = append(levels, cacheLevel{
			name:      name,
			size:      size,
			hitCycles: float64(cache.Int(name+"_hit_cycles", 1)),
		})
	}
	return levels
}

func timingOf(mem *components.Component) memoryTiming {
	return memoryTiming{
		latency:    sim.VTimeInSec(mem.Float("latency_ns", 0) * 1e-9),
		rowMiss:    sim.VTimeInSec(mem.Float("row_miss_ns", 0) * 1e-9),
		latencyVar: sim.VTimeInSec(mem.Float("latency_var_ns", 0) * 1e-9),
		bandwidth:  mem.Float("bandwidth", 0),
	}
}

// hitFraction estimates the share of accesses a level of size bytes
// satisfies for a working set of ws bytes.
func hitFraction(size, ws int64) float64 {
	if ws <= 0 || size >= ws {
		return 1
	}
	return float64(size) / float64(ws)
}

// accessProfile walks the hierarchy for a working set and returns the mean
// number of cache cycles an access spends and the share that reaches memory.
func accessProfile(levels []cacheLevel, ws int64) (cycles, memShare float64) {
	reach := 1.0
	for _, l := range levels {
		cycles += reach * l.hitCycles
		reach *= 1 - hitFraction(l.size, ws)
	}
	return cycles, reach
}

// servingLevel returns the nearest level that holds the whole working set,
// or nil when accesses go to memory.
func servingLevel(levels []cacheLevel, ws int64) *cacheLevel {
	for i := range levels {
		if levels[i].size >= ws {
			return &levels[i]
		}
	}
	return nil
}
