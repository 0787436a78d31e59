package resource

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/t77yq/multisim/internal/components"
	"github.com/t77yq/multisim/internal/model"
)

func TestParseCommand(t *testing.T) {
	phases, err := ParseCommand("m5 exit;echo 'This is running on O3 CPU cores.';sleep 1;m5 exit;")
	require.NoError(t, err)
	require.Len(t, phases, 4)

	assert.Equal(t, model.EventExit, phases[0].Exit)
	assert.Zero(t, phases[0].Instructions)
	assert.Equal(t, model.EventKind(""), phases[1].Exit)
	assert.NotZero(t, phases[1].Instructions)
	assert.Equal(t, time.Second, phases[2].Idle)
	assert.Equal(t, model.EventExit, phases[3].Exit)

	phases, err = ParseCommand("m5 workbegin; ./run; m5 workend; m5 fail 3")
	require.NoError(t, err)
	require.Len(t, phases, 4)
	assert.Equal(t, model.EventFail, phases[3].Exit)
	assert.Equal(t, 3, phases[3].Code)

	for _, bad := range []string{"m5", "m5 teleport", "m5 fail", "m5 fail x", "m5 exit now", "sleep", "sleep -1"} {
		_, err := ParseCommand(bad)
		assert.Error(t, err, bad)
	}
}

func TestCatalogResolve(t *testing.T) {
	c := NewCatalog()

	w, err := c.Resolve("riscv-matrix-multiply-run")
	require.NoError(t, err)
	assert.Equal(t, components.ISARISCV, w.RequiredISA)
	assert.NoError(t, w.Ready())
	assert.Equal(t, uint64(22_500_000), w.Instructions())

	_, err = c.Resolve("arm-gapbs-bfs-run")
	require.NoError(t, err)

	_, err = c.Resolve("sparc-doom")
	var nf *NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "sparc-doom", nf.ID)

	_, err = c.Resolve("x86-ubuntu-22.04-img")
	assert.True(t, errors.Is(err, ErrWrongCategory))
}

func TestSuiteInputGroups(t *testing.T) {
	c := NewCatalog()

	s, err := c.Suite("x86-getting-started-benchmark-suite")
	require.NoError(t, err)
	assert.Equal(t, []string{"gapbs", "matrix", "npb"}, s.InputGroups())

	var ids []string
	for w := range s.WithInputGroup("npb").All() {
		ids = append(ids, w.ID)
	}
	assert.Equal(t, []string{"x86-npb-is-size-s-run", "x86-npb-cg-size-s-run", "x86-npb-ep-size-s-run"}, ids)
	assert.Len(t, s.Workloads(), len(gettingStarted))

	_, err = c.Suite("arm-getting-started-benchmark-suite")
	var nf *NotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestKernelDisk(t *testing.T) {
	c := NewCatalog()

	w, err := c.KernelDisk("x86-linux-kernel-5.4.0-105-generic", "x86-ubuntu-22.04-img", "m5 exit; ls; m5 exit")
	require.NoError(t, err)
	assert.Equal(t, components.ISAX86, w.RequiredISA)
	require.Len(t, w.Phases, 4)
	assert.Equal(t, "boot", w.Phases[0].Name)
	assert.Equal(t, model.EventExit, w.Phases[1].Exit)

	_, err = c.KernelDisk("x86-ubuntu-22.04-img", "x86-ubuntu-22.04-img", "")
	assert.ErrorIs(t, err, ErrWrongCategory)

	_, err = c.KernelDisk("x86-linux-kernel-5.4.0-105-generic", "arm64-ubuntu-22.04-img", "")
	assert.Error(t, err)
}

func TestLocalBinaryReady(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "matrix-multiply")

	w := LocalBinary(path, components.ISAX86, nil)
	assert.ErrorIs(t, w.Ready(), ErrNotReady)

	require.NoError(t, os.WriteFile(path, []byte{0x7f, 'E', 'L', 'F'}, 0o755))
	assert.NoError(t, w.Ready())

	assert.ErrorIs(t, LocalBinary(dir, components.ISAX86, nil).Ready(), ErrNotReady)
}
