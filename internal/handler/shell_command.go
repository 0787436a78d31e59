package handler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/t77yq/multisim/internal/dispatch"
	"github.com/t77yq/multisim/internal/model"
)

// shellCommand runs an external command while the run is suspended, e.g. to
// snapshot host state or post-process a checkpoint
type shellCommand struct {
	spec ActionSpec
}

func (a *shellCommand) run(hc *dispatch.Context, ev model.ExitEvent) error {
	ctx := hc.Ctx()
	if a.spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, a.spec.Command, a.spec.Args...)
	if a.spec.Dir != "" {
		cmd.Dir = a.spec.Dir
	}

	cmd.Env = append(os.Environ(),
		"MULTISIM_RUN="+hc.Label(),
		"MULTISIM_EVENT="+string(ev.Kind),
		"MULTISIM_SEQ="+strconv.FormatUint(ev.Seq, 10),
	)
	for k, v := range a.spec.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}

	hc.Logger.Info("Executing shell command",
		zap.String("command", a.spec.Command),
		zap.Strings("args", a.spec.Args))

	output, err := cmd.CombinedOutput()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("command %s timed out after %s", a.spec.Command, a.spec.Timeout)
		}
		return fmt.Errorf("command %s failed: %w: %s", a.spec.Command, err, strings.TrimSpace(string(output)))
	}

	hc.Logger.Debug("Shell command finished",
		zap.String("command", a.spec.Command),
		zap.ByteString("output", output))
	return nil
}
