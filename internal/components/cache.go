package components

import (
	"fmt"
)

// cacheLevel is one level of a hierarchy as seen by the latency model
type cacheLevel struct {
	prefix    string
	size      string
	assoc     int64
	hitCycles int64
}

func cacheHierarchy(name string, ports int, levels []cacheLevel, extra map[string]any) (*Component, error) {
	params := map[string]any{
		"levels": int64(len(levels)),
	}
	for _, l := range levels {
		bytes, err := ParseSize(l.size)
		if err != nil {
			return nil, fmt.Errorf("%s %s: %w", name, l.prefix, err)
		}
		params[l.prefix+"_size"] = bytes
		params[l.prefix+"_assoc"] = l.assoc
		params[l.prefix+"_hit_cycles"] = l.hitCycles
	}
	for k, v := range extra {
		params[k] = v
	}

	return New(Spec{
		Name:     name,
		Kind:     KindCacheHierarchy,
		ISAs:     AllISAs,
		Ports:    ports,
		BusWidth: 64,
		Params:   params,
	})
}

// NoCache connects the processor straight to memory
func NoCache(ports int) (*Component, error) {
	return cacheHierarchy("NoCache", ports, nil, nil)
}

// PrivateL1 gives each core private L1 instruction and data caches
func PrivateL1(l1dSize, l1iSize string, ports int) (*Component, error) {
	return cacheHierarchy("PrivateL1CacheHierarchy", ports, []cacheLevel{
		{prefix: "l1d", size: l1dSize, assoc: 8, hitCycles: 4},
		{prefix: "l1i", size: l1iSize, assoc: 8, hitCycles: 4},
	}, nil)
}

// PrivateL1PrivateL2 adds a private L2 per core
func PrivateL1PrivateL2(l1dSize, l1iSize, l2Size string, ports int) (*Component, error) {
	return cacheHierarchy("PrivateL1PrivateL2CacheHierarchy", ports, []cacheLevel{
		{prefix: "l1d", size: l1dSize, assoc: 8, hitCycles: 4},
		{prefix: "l1i", size: l1iSize, assoc: 8, hitCycles: 4},
		{prefix: "l2", size: l2Size, assoc: 16, hitCycles: 14},
	}, nil)
}

// PrivateL1SharedL2 shares one L2 among all cores
func PrivateL1SharedL2(l1dSize, l1iSize, l2Size string, ports int) (*Component, error) {
	return cacheHierarchy("PrivateL1SharedL2CacheHierarchy", ports, []cacheLevel{
		{prefix: "l1d", size: l1dSize, assoc: 8, hitCycles: 4},
		{prefix: "l1i", size: l1iSize, assoc: 8, hitCycles: 4},
		{prefix: "l2", size: l2Size, assoc: 16, hitCycles: 16},
	}, map[string]any{"l2_shared": true})
}

// PrivateL1PrivateL2SharedL3 is the three level hierarchy used to measure
// per-level bandwidth with a traffic generator.
func PrivateL1PrivateL2SharedL3(l1dSize, l1iSize, l2Size, l3Size string, ports int) (*Component, error) {
	return cacheHierarchy("PrivateL1PrivateL2SharedL3CacheHierarchy", ports, []cacheLevel{
		{prefix: "l1d", size: l1dSize, assoc: 8, hitCycles: 4},
		{prefix: "l1i", size: l1iSize, assoc: 8, hitCycles: 4},
		{prefix: "l2", size: l2Size, assoc: 16, hitCycles: 14},
		{prefix: "l3", size: l3Size, assoc: 32, hitCycles: 40},
	}, map[string]any{"l3_shared": true})
}

// MESIConfig configures a two level MESI hierarchy
type MESIConfig struct {
	L1DSize   string
	L1DAssoc  int64
	L1ISize   string
	L1IAssoc  int64
	L2Size    string
	L2Assoc   int64
	NumL2Bank int64
}

// MESITwoLevel is a coherent two level hierarchy with private L1s and a
// banked shared L2.
func MESITwoLevel(cfg MESIConfig, ports int) (*Component, error) {
	if cfg.NumL2Bank <= 0 {
		return nil, fmt.Errorf("MESITwoLevelCacheHierarchy: num_l2_banks must be > 0")
	}
	return cacheHierarchy("MESITwoLevelCacheHierarchy", ports, []cacheLevel{
		{prefix: "l1d", size: cfg.L1DSize, assoc: cfg.L1DAssoc, hitCycles: 3},
		{prefix: "l1i", size: cfg.L1ISize, assoc: cfg.L1IAssoc, hitCycles: 3},
		{prefix: "l2", size: cfg.L2Size, assoc: cfg.L2Assoc, hitCycles: 20},
	}, map[string]any{
		"protocol":     "MESI_Two_Level",
		"num_l2_banks": cfg.NumL2Bank,
		"l2_shared":    true,
	})
}
