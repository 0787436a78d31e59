package components

import (
	"testing"

	"github.com/sarchlab/akita/v4/sim"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseUnits(t *testing.T) {
	size, err := ParseSize("32KiB")
	require.NoError(t, err)
	assert.Equal(t, int64(32*1024), size)

	size, err = ParseSize("1GiB")
	require.NoError(t, err)
	assert.Equal(t, int64(1<<30), size)

	rate, err := ParseRate("16GiB/s")
	require.NoError(t, err)
	assert.Equal(t, float64(16<<30), rate)

	_, err = ParseRate("16GiB")
	assert.Error(t, err)

	freq, err := ParseFreq("3GHz")
	require.NoError(t, err)
	assert.Equal(t, 3*sim.GHz, freq)

	_, err = ParseFreq("3 parsecs")
	assert.Error(t, err)
}

func TestSimpleProcessor(t *testing.T) {
	p, err := SimpleProcessor(CPUTypeTiming, ISARISCV, 2)
	require.NoError(t, err)
	assert.Equal(t, KindProcessor, p.Kind())
	assert.Equal(t, ISARISCV, p.ISA())
	assert.Equal(t, 2, p.Cores())
	assert.Equal(t, "timing", p.String("cpu_type", ""))
	assert.False(t, p.Switchable())

	_, err = SimpleProcessor(CPUTypeKVM, ISARISCV, 1)
	assert.Error(t, err, "kvm cannot run riscv")

	_, err = SimpleProcessor(CPUTypeO3, ISAX86, 0)
	assert.Error(t, err)
}

func TestSwitchableProcessor(t *testing.T) {
	p, err := SwitchableProcessor(CPUTypeTiming, CPUTypeO3, ISAX86, 2)
	require.NoError(t, err)
	require.True(t, p.Switchable())

	variants := p.Variants()
	assert.Equal(t, "timing", variants[0].String("cpu_type", ""))
	assert.Equal(t, "o3", variants[1].String("cpu_type", ""))
	for _, v := range variants {
		assert.Equal(t, p.Cores(), v.Cores())
		assert.Equal(t, p.ISA(), v.ISA())
	}

	_, err = SwitchableProcessor(CPUTypeO3, CPUTypeO3, ISAX86, 2)
	assert.Error(t, err)
}

func TestComponentIsImmutable(t *testing.T) {
	params := map[string]any{"size": int64(64)}
	isas := []ISA{ISAX86}
	c, err := New(Spec{Name: "custom", Kind: KindMemory, ISAs: isas, Params: params})
	require.NoError(t, err)

	params["size"] = int64(1)
	isas[0] = ISAARM
	got := c.ISAs()
	got[0] = ISARISCV

	assert.Equal(t, int64(64), c.Int("size", 0))
	assert.True(t, c.Supports(ISAX86))
	assert.False(t, c.Supports(ISAARM))
}

func TestGenerators(t *testing.T) {
	cfg := DefaultGeneratorConfig()
	cfg.Rate = "16GiB/s"
	cfg.ReadPercent = 50

	g, err := LinearGenerator(cfg)
	require.NoError(t, err)
	assert.True(t, IsGenerator(g))
	assert.Equal(t, ISA(""), g.ISA())
	assert.Equal(t, "linear", g.String("generator", ""))
	assert.Equal(t, int64(50), g.Int("rd_perc", 0))
	assert.InDelta(t, 1e-3, g.Float("duration", 0), 1e-12)

	cfg.ReadPercent = 101
	_, err = RandomGenerator(cfg)
	assert.Error(t, err)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()

	tests := []struct {
		kind    Kind
		name    string
		args    Args
		wantErr bool
	}{
		{KindProcessor, "simple", Args{"cpu_type": "o3", "isa": "x86", "cores": 4}, false},
		{KindProcessor, "switchable", Args{"starting_core_type": "timing", "switch_core_type": "o3"}, false},
		{KindProcessor, "linear_generator", Args{"rate": "16GiB/s", "rd_perc": "50"}, false},
		{KindProcessor, "simple", Args{"cpu_type": "warp-drive"}, true},
		{KindMemory, "ddr4_2400", Args{"size": "1GiB"}, false},
		{KindMemory, "simple", Args{"latency": "20ns", "bandwidth": "32GiB/s"}, false},
		{KindMemory, "lpddr5", Args{"channels": 4}, false},
		{KindCacheHierarchy, "private_l1", Args{"ports": 4}, false},
		{KindCacheHierarchy, "mesi_two_level", Args{"num_l2_banks": 0}, true},
		{KindCacheHierarchy, "victim_cache", nil, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+tt.name, func(t *testing.T) {
			c, err := r.Create(tt.kind, tt.name, tt.args)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.kind, c.Kind())
		})
	}

	assert.Contains(t, r.Names(KindMemory), "ddr4_2400")
}
