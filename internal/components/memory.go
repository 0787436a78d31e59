package components

import (
	"fmt"
	"time"
)

// dramTiming describes one DRAM channel as the engine's latency model sees it
type dramTiming struct {
	name           string
	latency        time.Duration
	rowMissPenalty time.Duration
	bandwidth      float64
	defaultSize    string
}

var (
	ddr4_2400 = dramTiming{
		name:           "DDR4_2400_8x8",
		latency:        42 * time.Nanosecond,
		rowMissPenalty: 28 * time.Nanosecond,
		bandwidth:      19.2e9,
		defaultSize:    "2GiB",
	}
	ddr3_1600 = dramTiming{
		name:           "DDR3_1600_8x8",
		latency:        48 * time.Nanosecond,
		rowMissPenalty: 27 * time.Nanosecond,
		bandwidth:      12.8e9,
		defaultSize:    "2GiB",
	}
	lpddr5_6400 = dramTiming{
		name:           "LPDDR5_6400_1x16_BG_BL32",
		latency:        55 * time.Nanosecond,
		rowMissPenalty: 36 * time.Nanosecond,
		bandwidth:      12.8e9,
		defaultSize:    "1GiB",
	}
)

func dramMemory(name string, t dramTiming, channels int, size string, interleave int64) (*Component, error) {
	if size == "" {
		size = t.defaultSize
	}
	bytes, err := ParseSize(size)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("%s: channel count must be > 0", name)
	}

	return New(Spec{
		Name:     name,
		Kind:     KindMemory,
		ISAs:     AllISAs,
		BusWidth: 64,
		Params: map[string]any{
			"dram":              t.name,
			"size":              bytes,
			"channels":          int64(channels),
			"interleave":        interleave,
			"latency_ns":        float64(t.latency.Nanoseconds()),
			"row_miss_ns":       float64(t.rowMissPenalty.Nanoseconds()),
			"bandwidth":         t.bandwidth * float64(channels),
			"latency_var_ns":    0.0,
			"timing_model_name": "dram",
		},
	})
}

// SingleChannelDDR4_2400 is one channel of DDR4-2400. An empty size selects
// the interface default.
func SingleChannelDDR4_2400(size string) (*Component, error) {
	return dramMemory("SingleChannelDDR4_2400", ddr4_2400, 1, size, 64)
}

// DualChannelDDR4_2400 interleaves two DDR4-2400 channels
func DualChannelDDR4_2400(size string) (*Component, error) {
	return dramMemory("DualChannelDDR4_2400", ddr4_2400, 2, size, 64)
}

// SingleChannelDDR3_1600 is one channel of DDR3-1600
func SingleChannelDDR3_1600(size string) (*Component, error) {
	return dramMemory("SingleChannelDDR3_1600", ddr3_1600, 1, size, 64)
}

// ChanneledLPDDR5 interleaves channels of LPDDR5-6400 with the given
// interleaving granularity in bytes.
func ChanneledLPDDR5(channels int, interleave int64) (*Component, error) {
	name := "SingleChannelLPDDR5_6400"
	if channels > 1 {
		name = fmt.Sprintf("MultiChannelLPDDR5_6400x%d", channels)
	}
	return dramMemory(name, lpddr5_6400, channels, "", interleave)
}

// SingleChannelSimpleMemory is a fixed-latency, bandwidth-limited memory
// without DRAM row effects.
func SingleChannelSimpleMemory(latency, bandwidth, latencyVar, size string) (*Component, error) {
	lat, err := ParseLatency(latency)
	if err != nil {
		return nil, err
	}
	variance, err := ParseLatency(latencyVar)
	if err != nil {
		return nil, err
	}
	bw, err := ParseRate(bandwidth)
	if err != nil {
		return nil, err
	}
	bytes, err := ParseSize(size)
	if err != nil {
		return nil, err
	}

	return New(Spec{
		Name:     "SingleChannelSimpleMemory",
		Kind:     KindMemory,
		ISAs:     AllISAs,
		BusWidth: 64,
		Params: map[string]any{
			"size":              bytes,
			"channels":          int64(1),
			"latency_ns":        float64(lat.Nanoseconds()),
			"row_miss_ns":       0.0,
			"bandwidth":         bw,
			"latency_var_ns":    float64(variance.Nanoseconds()),
			"timing_model_name": "simple",
		},
	})
}
