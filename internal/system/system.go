// Package system composes validated hardware descriptors out of components
// and a workload.
package system

import (
	"fmt"
	"strings"

	"github.com/sarchlab/akita/v4/sim"

	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/resource"
)

// Board is the motherboard a descriptor is assembled on
type Board string

const (
	BoardSimple Board = "simple"
	BoardTest   Board = "test"
	BoardX86    Board = "x86"
	BoardARM    Board = "arm"
)

// ParseBoard converts a config string into a Board
func ParseBoard(s string) (Board, error) {
	switch b := Board(strings.ToLower(s)); b {
	case BoardSimple, BoardTest, BoardX86, BoardARM:
		return b, nil
	}
	return "", fmt.Errorf("unknown board %q", s)
}

// ValidationError is returned when parts cannot be combined
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid system: " + e.Reason
}

func invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

// Descriptor is a validated system ready to be handed to an engine. It is
// never modified after Build returns.
type Descriptor struct {
	label     string
	board     Board
	processor *components.Component
	memory    *components.Component
	cache     *components.Component
	clock     sim.Freq
	workload  *resource.Workload
}

func (d *Descriptor) Label() string                    { return d.label }
func (d *Descriptor) Board() Board                     { return d.board }
func (d *Descriptor) Processor() *components.Component { return d.processor }
func (d *Descriptor) Memory() *components.Component    { return d.memory }
func (d *Descriptor) Cache() *components.Component     { return d.cache }
func (d *Descriptor) Clock() sim.Freq                  { return d.clock }

// Workload returns nil for traffic generator systems
func (d *Descriptor) Workload() *resource.Workload { return d.workload }

func (d *Descriptor) String() string {
	w := "traffic"
	if d.workload != nil {
		w = d.workload.ID
	}
	return fmt.Sprintf("%s[%s board, %s, %s, %s, %s]",
		d.label, d.board, d.processor.Name(), d.cache.Name(), d.memory.Name(), w)
}

// Option customises Build
type Option func(*options)

type options struct {
	board Board
	label string
}

// WithBoard overrides the board picked from the processor and workload
func WithBoard(b Board) Option {
	return func(o *options) { o.board = b }
}

// WithLabel names the descriptor. The default is "<processor>-<workload>".
func WithLabel(label string) Option {
	return func(o *options) { o.label = label }
}

// Build validates the parts and assembles a Descriptor. Either a descriptor
// or a *ValidationError is returned, never both.
func Build(
	processor, memory, cache *components.Component,
	clock sim.Freq,
	workload *resource.Workload,
	opts ...Option,
) (*Descriptor, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	if err := checkKinds(processor, memory, cache); err != nil {
		return nil, err
	}
	if clock <= 0 {
		return nil, invalid("clock frequency must be > 0")
	}

	generator := components.IsGenerator(processor)
	isa := processor.ISA()
	if !generator && isa == "" {
		return nil, invalid("processor %s does not declare an ISA", processor.Name())
	}
	if isa != "" {
		if !memory.Supports(isa) {
			return nil, invalid("memory %s does not support ISA %s", memory.Name(), isa)
		}
		if !cache.Supports(isa) {
			return nil, invalid("cache hierarchy %s does not support ISA %s", cache.Name(), isa)
		}
	}
	if cache.Ports() != processor.Cores() {
		return nil, invalid("cache hierarchy %s has %d ports but processor %s has %d cores",
			cache.Name(), cache.Ports(), processor.Name(), processor.Cores())
	}
	if err := checkBusWidths(processor, memory, cache); err != nil {
		return nil, err
	}

	switch {
	case workload == nil && !generator:
		return nil, invalid("processor %s needs a workload", processor.Name())
	case workload != nil && generator:
		return nil, invalid("traffic generator %s cannot run workload %s", processor.Name(), workload.ID)
	case workload != nil && workload.RequiredISA != "" && workload.RequiredISA != isa:
		return nil, invalid("workload %s requires ISA %s but processor %s is %s",
			workload.ID, workload.RequiredISA, processor.Name(), isa)
	}

	board := o.board
	if board == "" {
		board = defaultBoard(isa, generator, workload)
	}
	if err := checkBoard(board, isa, generator, workload); err != nil {
		return nil, err
	}

	label := o.label
	if label == "" {
		label = defaultLabel(processor, workload)
	}

	return &Descriptor{
		label:     label,
		board:     board,
		processor: processor,
		memory:    memory,
		cache:     cache,
		clock:     clock,
		workload:  workload,
	}, nil
}

func checkKinds(processor, memory, cache *components.Component) error {
	parts := []struct {
		role string
		c    *components.Component
		kind components.Kind
	}{
		{"processor", processor, components.KindProcessor},
		{"memory", memory, components.KindMemory},
		{"cache hierarchy", cache, components.KindCacheHierarchy},
	}
	for _, p := range parts {
		if p.c == nil {
			return invalid("%s is required", p.role)
		}
		if p.c.Kind() != p.kind {
			return invalid("%s slot holds %s which is a %s", p.role, p.c.Name(), p.c.Kind())
		}
	}
	return nil
}

func checkBusWidths(parts ...*components.Component) error {
	width := 0
	for _, c := range parts {
		if c.BusWidth() == 0 {
			continue
		}
		if width == 0 {
			width = c.BusWidth()
			continue
		}
		if c.BusWidth() != width {
			return invalid("bus width of %s is %d bits, expected %d", c.Name(), c.BusWidth(), width)
		}
	}
	return nil
}

func defaultBoard(isa components.ISA, generator bool, w *resource.Workload) Board {
	switch {
	case generator:
		return BoardTest
	case w != nil && w.FullSystem && isa == components.ISAX86:
		return BoardX86
	case w != nil && w.FullSystem && isa == components.ISAARM:
		return BoardARM
	}
	return BoardSimple
}

func checkBoard(b Board, isa components.ISA, generator bool, w *resource.Workload) error {
	switch b {
	case BoardTest:
		if !generator {
			return invalid("test board needs a traffic generator")
		}
	case BoardSimple:
		if generator {
			return invalid("simple board cannot host a traffic generator")
		}
		if w.FullSystem {
			return invalid("simple board cannot boot full-system workload %s", w.ID)
		}
	case BoardX86:
		if isa != components.ISAX86 {
			return invalid("x86 board needs an x86 processor, got %s", orNone(isa))
		}
	case BoardARM:
		if isa != components.ISAARM {
			return invalid("arm board needs an arm processor, got %s", orNone(isa))
		}
	default:
		return invalid("unknown board %q", b)
	}
	return nil
}

func defaultLabel(processor *components.Component, w *resource.Workload) string {
	if w == nil {
		return processor.Name()
	}
	return processor.Name() + "-" + w.ID
}

func orNone(isa components.ISA) string {
	if isa == "" {
		return "none"
	}
	return string(isa)
}
