package resource

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/t77yq/multisim/internal/model"
)

const (
	bootInstructions    = 40_000_000
	commandInstructions = 1_500_000
)

var m5Ops = map[string]model.EventKind{
	"exit":       model.EventExit,
	"workbegin":  model.EventWorkBegin,
	"workend":    model.EventWorkEnd,
	"checkpoint": model.EventCheckpoint,
	"fail":       model.EventFail,
}

// ParseCommand turns a readfile script into phases. Commands are separated
// by ';'. Each "m5 <op>" becomes a zero-length phase that suspends with the
// matching exit event, "sleep <seconds>" idles, and anything else runs as a
// short compute phase.
func ParseCommand(command string) ([]Phase, error) {
	var phases []Phase
	for _, raw := range strings.Split(command, ";") {
		cmd := strings.TrimSpace(raw)
		if cmd == "" {
			continue
		}
		fields := strings.Fields(cmd)

		switch fields[0] {
		case "m5":
			p, err := parseM5(cmd, fields[1:])
			if err != nil {
				return nil, err
			}
			phases = append(phases, p)
		case "sleep":
			if len(fields) != 2 {
				return nil, fmt.Errorf("invalid command %q: sleep takes one argument", cmd)
			}
			secs, err := strconv.ParseFloat(fields[1], 64)
			if err != nil || secs < 0 {
				return nil, fmt.Errorf("invalid command %q: bad duration", cmd)
			}
			phases = append(phases, Phase{Name: cmd, Idle: time.Duration(secs * float64(time.Second))})
		default:
			phases = append(phases, Phase{
				Name:         cmd,
				Instructions: commandInstructions,
				MemRatio:     0.3,
				WorkingSet:   1 << 20,
			})
		}
	}
	return phases, nil
}

func parseM5(cmd string, args []string) (Phase, error) {
	if len(args) == 0 {
		return Phase{}, fmt.Errorf("invalid command %q: missing m5 operation", cmd)
	}
	kind, ok := m5Ops[args[0]]
	if !ok {
		return Phase{}, fmt.Errorf("invalid command %q: unknown m5 operation %q", cmd, args[0])
	}

	p := Phase{Name: cmd, Exit: kind}
	switch {
	case kind == model.EventFail:
		if len(args) != 2 {
			return Phase{}, fmt.Errorf("invalid command %q: m5 fail takes an exit code", cmd)
		}
		code, err := strconv.Atoi(args[1])
		if err != nil {
			return Phase{}, fmt.Errorf("invalid command %q: %w", cmd, err)
		}
		p.Code = code
	case len(args) > 1:
		return Phase{}, fmt.Errorf("invalid command %q: unexpected arguments", cmd)
	}
	return p, nil
}

// bootPhase is the kernel boot that precedes the readfile script
func bootPhase() Phase {
	return Phase{
		Name:         "boot",
		Instructions: bootInstructions,
		MemRatio:     0.25,
		WorkingSet:   64 << 20,
	}
}
