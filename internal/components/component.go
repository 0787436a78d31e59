// Package components holds the catalog of interchangeable hardware parts a
// system is composed from, and the rules that decide which parts fit
// together.
package components

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the role a component plays on a board
type Kind string

const (
	KindProcessor      Kind = "processor"
	KindMemory         Kind = "memory"
	KindCacheHierarchy Kind = "cache_hierarchy"
)

// ISA is an instruction set architecture tag
type ISA string

const (
	ISAX86   ISA = "x86"
	ISAARM   ISA = "arm"
	ISARISCV ISA = "riscv"
)

// AllISAs is the support set of ISA-agnostic parts
var AllISAs = []ISA{ISAX86, ISAARM, ISARISCV}

// ParseISA converts a config string into an ISA
func ParseISA(s string) (ISA, error) {
	switch ISA(strings.ToLower(s)) {
	case ISAX86:
		return ISAX86, nil
	case ISAARM:
		return ISAARM, nil
	case ISARISCV:
		return ISARISCV, nil
	}
	return "", fmt.Errorf("unknown ISA %q", s)
}

// Component is a named, typed hardware part. It cannot be modified after
// construction, so a single value may be shared by descriptors that run
// concurrently.
type Component struct {
	name     string
	kind     Kind
	isas     []ISA
	cores    int
	ports    int
	busWidth int
	params   map[string]any
	variants []*Component
}

// Spec carries the constructor arguments of a Component
type Spec struct {
	Name     string
	Kind     Kind
	ISAs     []ISA
	Cores    int
	Ports    int
	BusWidth int
	Params   map[string]any
	Variants []*Component
}

// New builds a Component from spec. The spec's slices and map are copied.
func New(spec Spec) (*Component, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("component name is required")
	}
	switch spec.Kind {
	case KindProcessor:
		if spec.Cores <= 0 {
			return nil, fmt.Errorf("processor %s: core count must be > 0", spec.Name)
		}
		if len(spec.ISAs) > 1 {
			return nil, fmt.Errorf("processor %s: a processor implements at most one ISA", spec.Name)
		}
	case KindMemory:
	case KindCacheHierarchy:
		if spec.Ports <= 0 {
			return nil, fmt.Errorf("cache hierarchy %s: port count must be > 0", spec.Name)
		}
	default:
		return nil, fmt.Errorf("component %s: unknown kind %q", spec.Name, spec.Kind)
	}

	c := &Component{
		name:     spec.Name,
		kind:     spec.Kind,
		isas:     append([]ISA(nil), spec.ISAs...),
		cores:    spec.Cores,
		ports:    spec.Ports,
		busWidth: spec.BusWidth,
		params:   make(map[string]any, len(spec.Params)),
		variants: append([]*Component(nil), spec.Variants...),
	}
	for k, v := range spec.Params {
		c.params[k] = v
	}
	return c, nil
}

// Name returns the component's model name
func (c *Component) Name() string { return c.name }

// Kind returns the component's role
func (c *Component) Kind() Kind { return c.kind }

// Cores returns the processor core count, zero for other kinds
func (c *Component) Cores() int { return c.cores }

// Ports returns the number of core-side ports of a cache hierarchy
func (c *Component) Ports() int { return c.ports }

// BusWidth returns the data bus width in bits, zero when unconstrained
func (c *Component) BusWidth() int { return c.busWidth }

// ISAs returns a copy of the component's ISA tags. For a processor this is
// the implemented ISA (empty for ISA-agnostic traffic generators); for
// memories and cache hierarchies it is the set of supported ISAs.
func (c *Component) ISAs() []ISA {
	return append([]ISA(nil), c.isas...)
}

// ISA returns the implemented ISA of a processor, or "" if it has none
func (c *Component) ISA() ISA {
	if len(c.isas) == 0 {
		return ""
	}
	return c.isas[0]
}

// Supports reports whether isa is in the component's support set
func (c *Component) Supports(isa ISA) bool {
	for _, s := range c.isas {
		if s == isa {
			return true
		}
	}
	return false
}

// Variants returns the alternative implementations carried by a switchable
// processor, starting implementation first.
func (c *Component) Variants() []*Component {
	return append([]*Component(nil), c.variants...)
}

// Switchable reports whether the component carries a switch target
func (c *Component) Switchable() bool {
	return len(c.variants) == 2
}

// Param returns a raw parameter value
func (c *Component) Param(name string) (any, bool) {
	v, ok := c.params[name]
	return v, ok
}

// Int returns an integer parameter or def when missing
func (c *Component) Int(name string, def int64) int64 {
	switch v := c.params[name].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case uint64:
		return int64(v)
	case float64:
		return int64(v)
	}
	return def
}

// Float returns a floating point parameter or def when missing
func (c *Component) Float(name string, def float64) float64 {
	switch v := c.params[name].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case uint64:
		return float64(v)
	}
	return def
}

// String returns a string parameter or def when missing
func (c *Component) String(name string, def string) string {
	if v, ok := c.params[name].(string); ok {
		return v
	}
	return def
}

// ParamNames returns the parameter names in sorted order
func (c *Component) ParamNames() []string {
	names := make([]string, 0, len(c.params))
	for k := range c.params {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Describe renders the component for logs and the catalog command
func (c *Component) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s(%s", c.name, c.kind)
	switch c.kind {
	case KindProcessor:
		fmt.Fprintf(&b, ", isa=%s, cores=%d", orAny(c.ISA()), c.cores)
	case KindCacheHierarchy:
		fmt.Fprintf(&b, ", ports=%d", c.ports)
	}
	for _, n := range c.ParamNames() {
		fmt.Fprintf(&b, ", %s=%v", n, c.params[n])
	}
	b.WriteString(")")
	return b.String()
}

func orAny(isa ISA) string {
	if isa == "" {
		return "any"
	}
	return string(isa)
}
