package components

import (
	"fmt"
	"sort"
	"sync"

	"github.com/spf13/cast"
)

// Args holds the loosely typed arguments of a factory, usually straight from
// an experiment file.
type Args map[string]any

// String returns a string argument or def when missing
func (a Args) String(key, def string) string {
	v, ok := a[key]
	if !ok || v == nil {
		return def
	}
	return cast.ToString(v)
}

// Int returns an integer argument or def when missing
func (a Args) Int(key string, def int64) (int64, error) {
	v, ok := a[key]
	if !ok || v == nil {
		return def, nil
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, fmt.Errorf("argument %s: %w", key, err)
	}
	return n, nil
}

// Factory builds a component from arguments
type Factory func(args Args) (*Component, error)

type registryKey struct {
	kind Kind
	name string
}

// Registry maps (kind, type name) pairs to factories. Registration happens
// before any run is built, lookups are safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	factories map[registryKey]Factory
}

// NewRegistry returns a registry holding the built-in parts
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[registryKey]Factory)}
	registerBuiltins(r)
	return r
}

// Register adds or replaces a factory
func (r *Registry) Register(kind Kind, name string, f Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[registryKey{kind: kind, name: name}] = f
}

// Create builds the named component
func (r *Registry) Create(kind Kind, name string, args Args) (*Component, error) {
	r.mu.RLock()
	f, ok := r.factories[registryKey{kind: kind, name: name}]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unknown %s type %q", kind, name)
	}

	c, err := f(args)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", kind, name, err)
	}
	return c, nil
}

// Names lists the registered type names of kind
func (r *Registry) Names(kind Kind) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var names []string
	for k := range r.factories {
		if k.kind == kind {
			names = append(names, k.name)
		}
	}
	sort.Strings(names)
	return names
}

func registerBuiltins(r *Registry) {
	// processors
	r.Register(KindProcessor, "simple", func(a Args) (*Component, error) {
		cpuType, err := ParseCPUType(a.String("cpu_type", string(CPUTypeTiming)))
		if err != nil {
			return nil, err
		}
		isa, err := ParseISA(a.String("isa", string(ISARISCV)))
		if err != nil {
			return nil, err
		}
		cores, err := a.Int("cores", 1)
		if err != nil {
			return nil, err
		}
		return SimpleProcessor(cpuType, isa, int(cores))
	})
	r.Register(KindProcessor, "switchable", func(a Args) (*Component, error) {
		start, err := ParseCPUType(a.String("starting_core_type", string(CPUTypeTiming)))
		if err != nil {
			return nil, err
		}
		target, err := ParseCPUType(a.String("switch_core_type", string(CPUTypeO3)))
		if err != nil {
			return nil, err
		}
		isa, err := ParseISA(a.String("isa", string(ISAX86)))
		if err != nil {
			return nil, err
		}
		cores, err := a.Int("cores", 1)
		if err != nil {
			return nil, err
		}
		return SwitchableProcessor(start, target, isa, int(cores))
	})
	r.Register(KindProcessor, "big", func(Args) (*Component, error) { return BigProcessor(), nil })
	r.Register(KindProcessor, "little", func(Args) (*Component, error) { return LittleProcessor(), nil })
	r.Register(KindProcessor, "linear_generator", func(a Args) (*Component, error) {
		cfg, err := generatorConfig(a)
		if err != nil {
			return nil, err
		}
		return LinearGenerator(cfg)
	})
	r.Register(KindProcessor, "random_generator", func(a Args) (*Component, error) {
		cfg, err := generatorConfig(a)
		if err != nil {
			return nil, err
		}
		return RandomGenerator(cfg)
	})

	// memories
	r.Register(KindMemory, "ddr4_2400", func(a Args) (*Component, error) {
		return SingleChannelDDR4_2400(a.String("size", ""))
	})
	r.Register(KindMemory, "dual_ddr4_2400", func(a Args) (*Component, error) {
		return DualChannelDDR4_2400(a.String("size", ""))
	})
	r.Register(KindMemory, "ddr3_1600", func(a Args) (*Component, error) {
		return SingleChannelDDR3_1600(a.String("size", ""))
	})
	r.Register(KindMemory, "lpddr5", func(a Args) (*Component, error) {
		channels, err := a.Int("channels", 1)
		if err != nil {
			return nil, err
		}
		interleave, err := a.Int("interleave", 64)
		if err != nil {
			return nil, err
		}
		return ChanneledLPDDR5(int(channels), interleave)
	})
	r.Register(KindMemory, "simple", func(a Args) (*Component, error) {
		return SingleChannelSimpleMemory(
			a.String("latency", "20ns"),
			a.String("bandwidth", "32GiB/s"),
			a.String("latency_var", "0s"),
			a.String("size", "1GiB"),
		)
	})

	// cache hierarchies
	r.Register(KindCacheHierarchy, "no_cache", func(a Args) (*Component, error) {
		ports, err := a.Int("ports", 1)
		if err != nil {
			return nil, err
		}
		return NoCache(int(ports))
	})
	r.Register(KindCacheHierarchy, "private_l1", func(a Args) (*Component, error) {
		ports, err := a.Int("ports", 1)
		if err != nil {
			return nil, err
		}
		return PrivateL1(a.String("l1d_size", "32KiB"), a.String("l1i_size", "32KiB"), int(ports))
	})
	r.Register(KindCacheHierarchy, "private_l1_private_l2", func(a Args) (*Component, error) {
		ports, err := a.Int("ports", 1)
		if err != nil {
			return nil, err
		}
		return PrivateL1PrivateL2(a.String("l1d_size", "32KiB"), a.String("l1i_size", "32KiB"),
			a.String("l2_size", "256KiB"), int(ports))
	})
	r.Register(KindCacheHierarchy, "private_l1_shared_l2", func(a Args) (*Component, error) {
		ports, err := a.Int("ports", 1)
		if err != nil {
			return nil, err
		}
		return PrivateL1SharedL2(a.String("l1d_size", "64KiB"), a.String("l1i_size", "64KiB"),
			a.String("l2_size", "1MiB"), int(ports))
	})
	r.Register(KindCacheHierarchy, "private_l1_private_l2_shared_l3", func(a Args) (*Component, error) {
		ports, err := a.Int("ports", 1)
		if err != nil {
			return nil, err
		}
		return PrivateL1PrivateL2SharedL3(a.String("l1d_size", "32KiB"), a.String("l1i_size", "32KiB"),
			a.String("l2_size", "256KiB"), a.String("l3_size", "2MiB"), int(ports))
	})
	r.Register(KindCacheHierarchy, "mesi_two_level", func(a Args) (*Component, error) {
		ports, err := a.Int("ports", 1)
		if err != nil {
			return nil, err
		}
		cfg := MESIConfig{
			L1DSize: a.String("l1d_size", "16KiB"),
			L1ISize: a.String("l1i_size", "16KiB"),
			L2Size:  a.String("l2_size", "256KiB"),
		}
		if cfg.L1DAssoc, err = a.Int("l1d_assoc", 8); err != nil {
			return nil, err
		}
		if cfg.L1IAssoc, err = a.Int("l1i_assoc", 8); err != nil {
			return nil, err
		}
		if cfg.L2Assoc, err = a.Int("l2_assoc", 16); err != nil {
			return nil, err
		}
		if cfg.NumL2Bank, err = a.Int("num_l2_banks", 1); err != nil {
			return nil, err
		}
		return MESITwoLevel(cfg, int(ports))
	})
}

func generatorConfig(a Args) (GeneratorConfig, error) {
	cfg := DefaultGeneratorConfig()
	cores, err := a.Int("cores", int64(cfg.Cores))
	if err != nil {
		return cfg, err
	}
	rdPerc, err := a.Int("rd_perc", int64(cfg.ReadPercent))
	if err != nil {
		return cfg, err
	}
	cfg.Cores = int(cores)
	cfg.ReadPercent = int(rdPerc)
	cfg.Rate = a.String("rate", cfg.Rate)
	cfg.Duration = a.String("duration", cfg.Duration)
	if cfg.MinAddr, err = a.Int("min_addr", cfg.MinAddr); err != nil {
		return cfg, err
	}
	if cfg.MaxAddr, err = a.Int("max_addr", cfg.MaxAddr); err != nil {
		return cfg, err
	}
	if cfg.BlockSize, err = a.Int("block_size", cfg.BlockSize); err != nil {
		return cfg, err
	}
	return cfg, nil
}
