package components

import (
	"fmt"
	"strings"
)

// CPUType selects the micro-architectural model of a simple processor
type CPUType string

const (
	CPUTypeAtomic CPUType = "atomic"
	CPUTypeTiming CPUType = "timing"
	CPUTypeMinor  CPUType = "minor"
	CPUTypeO3     CPUType = "o3"
	CPUTypeKVM    CPUType = "kvm"
)

// ParseCPUType converts a config string into a CPUType
func ParseCPUType(s string) (CPUType, error) {
	t := CPUType(strings.ToLower(s))
	if _, ok := cpuModels[t]; !ok {
		return "", fmt.Errorf("unknown cpu type %q", s)
	}
	return t, nil
}

// cpuModel holds the parameters the engine uses to turn instruction counts
// into cycles. stallFactor scales how much memory latency is exposed.
type cpuModel struct {
	cpi         float64
	stallFactor float64
	issueWidth  int64
	robEntries  int64
	isas        []ISA
}

var cpuModels = map[CPUType]cpuModel{
	CPUTypeAtomic: {cpi: 1.0, stallFactor: 0, issueWidth: 1, isas: AllISAs},
	CPUTypeTiming: {cpi: 1.0, stallFactor: 1.0, issueWidth: 1, isas: AllISAs},
	CPUTypeMinor:  {cpi: 0.9, stallFactor: 0.7, issueWidth: 2, isas: AllISAs},
	CPUTypeO3:     {cpi: 0.5, stallFactor: 0.35, issueWidth: 8, robEntries: 192, isas: AllISAs},
	CPUTypeKVM:    {cpi: 0.3, stallFactor: 0, issueWidth: 4, isas: []ISA{ISAX86, ISAARM}},
}

// SimpleProcessor returns a processor of num identical cores of the given
// model.
func SimpleProcessor(cpuType CPUType, isa ISA, cores int) (*Component, error) {
	m, ok := cpuModels[cpuType]
	if !ok {
		return nil, fmt.Errorf("unknown cpu type %q", cpuType)
	}
	if !containsISA(m.isas, isa) {
		return nil, fmt.Errorf("cpu type %s does not support ISA %s", cpuType, isa)
	}

	return New(Spec{
		Name:     fmt.Sprintf("SimpleProcessor(%s)", cpuType),
		Kind:     KindProcessor,
		ISAs:     []ISA{isa},
		Cores:    cores,
		BusWidth: 64,
		Params: map[string]any{
			"cpu_type":     string(cpuType),
			"cpi":          m.cpi,
			"stall_factor": m.stallFactor,
			"issue_width":  m.issueWidth,
			"rob_entries":  m.robEntries,
		},
	})
}

// o3Variant builds a single-core RISC-V out-of-order processor with a fixed
// pipeline width, like the big and little cores of a heterogeneous system.
func o3Variant(name string, width, rob int64, cpi, stall float64) *Component {
	c, err := New(Spec{
		Name:     name,
		Kind:     KindProcessor,
		ISAs:     []ISA{ISARISCV},
		Cores:    1,
		BusWidth: 64,
		Params: map[string]any{
			"cpu_type":     string(CPUTypeO3),
			"cpi":          cpi,
			"stall_factor": stall,
			"issue_width":  width,
			"rob_entries":  rob,
		},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// BigProcessor is an 8-wide out-of-order core with a 256 entry ROB
func BigProcessor() *Component {
	return o3Variant("BigProcessor", 8, 256, 0.4, 0.3)
}

// LittleProcessor is a 2-wide out-of-order core with a 30 entry ROB
func LittleProcessor() *Component {
	return o3Variant("LittleProcessor", 2, 30, 0.9, 0.8)
}

// SwitchableProcessor returns a processor that starts on startType cores and
// can be switched to switchType cores mid-run. Both variants share the core
// count and ISA.
func SwitchableProcessor(startType, switchType CPUType, isa ISA, cores int) (*Component, error) {
	if startType == switchType {
		return nil, fmt.Errorf("switchable processor needs two different cpu types, got %s twice", startType)
	}
	start, err := SimpleProcessor(startType, isa, cores)
	if err != nil {
		return nil, fmt.Errorf("starting cores: %w", err)
	}
	target, err := SimpleProcessor(switchType, isa, cores)
	if err != nil {
		return nil, fmt.Errorf("switch cores: %w", err)
	}

	return New(Spec{
		Name:     fmt.Sprintf("SimpleSwitchableProcessor(%s->%s)", startType, switchType),
		Kind:     KindProcessor,
		ISAs:     []ISA{isa},
		Cores:    cores,
		BusWidth: 64,
		Params: map[string]any{
			"starting_core_type": string(startType),
			"switch_core_type":   string(switchType),
		},
		Variants: []*Component{start, target},
	})
}

// GeneratorConfig configures a synthetic traffic generator
type GeneratorConfig struct {
	Cores       int
	Rate        string
	ReadPercent int
	Duration    string
	MinAddr     int64
	MaxAddr     int64
	BlockSize   int64
}

// DefaultGeneratorConfig returns the generator defaults
func DefaultGeneratorConfig() GeneratorConfig {
	return GeneratorConfig{
		Cores:       1,
		Rate:        "100GiB/s",
		ReadPercent: 100,
		Duration:    "1ms",
		MinAddr:     0,
		MaxAddr:     32768,
		BlockSize:   64,
	}
}

// LinearGenerator issues requests that walk the address range in order
func LinearGenerator(cfg GeneratorConfig) (*Component, error) {
	return generator("LinearGenerator", "linear", cfg)
}

// RandomGenerator issues requests to uniformly random blocks in the range
func RandomGenerator(cfg GeneratorConfig) (*Component, error) {
	return generator("RandomGenerator", "random", cfg)
}

func generator(name, pattern string, cfg GeneratorConfig) (*Component, error) {
	rate, err := ParseRate(cfg.Rate)
	if err != nil {
		return nil, err
	}
	duration, err := ParseLatency(cfg.Duration)
	if err != nil {
		return nil, err
	}
	if duration == 0 {
		return nil, fmt.Errorf("%s: duration must be > 0", name)
	}
	if cfg.ReadPercent < 0 || cfg.ReadPercent > 100 {
		return nil, fmt.Errorf("%s: rd_perc must be within [0, 100], got %d", name, cfg.ReadPercent)
	}
	if cfg.BlockSize <= 0 {
		return nil, fmt.Errorf("%s: block size must be > 0", name)
	}
	if cfg.MaxAddr <= cfg.MinAddr {
		return nil, fmt.Errorf("%s: max_addr must be greater than min_addr", name)
	}

	return New(Spec{
		Name:     name,
		Kind:     KindProcessor,
		Cores:    cfg.Cores,
		BusWidth: 64,
		Params: map[string]any{
			"generator":  pattern,
			"rate":       rate,
			"rd_perc":    int64(cfg.ReadPercent),
			"duration":   duration.Seconds(),
			"min_addr":   cfg.MinAddr,
			"max_addr":   cfg.MaxAddr,
			"block_size": cfg.BlockSize,
		},
	})
}

// IsGenerator reports whether c is a traffic generator
func IsGenerator(c *Component) bool {
	_, ok := c.Param("generator")
	return c.Kind() == KindProcessor && ok
}

func containsISA(set []ISA, isa ISA) bool {
	for _, s := range set {
		if s == isa {
			return true
		}
	}
	return false
}
