package components

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/sarchlab/akita/v4/sim"
)

// ParseSize parses a binary size such as "32KiB" or "1GiB" into bytes
func ParseSize(s string) (int64, error) {
	n, err := units.RAMInBytes(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid size %q: %w", s, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid size %q: must be > 0", s)
	}
	return n, nil
}

// ParseRate parses a bandwidth such as "16GiB/s" into bytes per second
func ParseRate(s string) (float64, error) {
	trimmed := strings.TrimSpace(s)
	if !strings.HasSuffix(trimmed, "/s") {
		return 0, fmt.Errorf("invalid rate %q: missing /s suffix", s)
	}
	n, err := ParseSize(strings.TrimSuffix(trimmed, "/s"))
	if err != nil {
		return 0, fmt.Errorf("invalid rate %q: %w", s, err)
	}
	return float64(n), nil
}

var freqUnits = []struct {
	suffix string
	unit   sim.Freq
}{
	{"GHz", sim.GHz},
	{"MHz", sim.MHz},
	{"KHz", sim.KHz},
	{"kHz", sim.KHz},
	{"Hz", sim.Hz},
}

// ParseFreq parses a clock such as "3GHz"
func ParseFreq(s string) (sim.Freq, error) {
	trimmed := strings.TrimSpace(s)
	for _, u := range freqUnits {
		if !strings.HasSuffix(trimmed, u.suffix) {
			continue
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(trimmed, u.suffix)), 64)
		if err != nil {
			return 0, fmt.Errorf("invalid frequency %q: %w", s, err)
		}
		if v <= 0 {
			return 0, fmt.Errorf("invalid frequency %q: must be > 0", s)
		}
		return sim.Freq(v) * u.unit, nil
	}
	return 0, fmt.Errorf("invalid frequency %q: unknown unit", s)
}

// ParseLatency parses a duration such as "20ns"
func ParseLatency(s string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("invalid latency %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid latency %q: must be >= 0", s)
	}
	return d, nil
}
