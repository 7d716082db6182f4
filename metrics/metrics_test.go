package metrics

import (
	"bytes"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenjiangwei/rsrcpool/rsrc"
	"github.com/shenjiangwei/rsrcpool/source"
)

func gather(t *testing.T, c prometheus.Collector) map[string]*dto.MetricFamily {
	t.Helper()
	reg := prometheus.NewPedanticRegistry()
	require.NoError(t, reg.Register(c))
	mfs, err := reg.Gather()
	require.NoError(t, err)
	out := make(map[string]*dto.MetricFamily, len(mfs))
	for _, mf := range mfs {
		out[mf.GetName()] = mf
	}
	return out
}

func valueFor(mf *dto.MetricFamily, label, value string) (float64, bool) {
	for _, m := range mf.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label && lp.GetValue() == value {
				if m.GetCounter() != nil {
					return m.GetCounter().GetValue(), true
				}
				return m.GetGauge().GetValue(), true
			}
		}
	}
	return 0, false
}

func TestPoolCollector(t *testing.T) {
	m := rsrc.New(rsrc.Config{
		Source:         source.NewHeap(1 << 20),
		RegistrySource: source.NewHeap(0),
		Output:         &bytes.Buffer{},
	})
	p, err := m.NewPool("frames", 32, 4, 4, 0, 0)
	require.NoError(t, err)
	for i := 0; i < 6; i++ {
		_, err := p.Alloc("frame")
		require.NoError(t, err)
	}

	c := NewPoolCollector("rsrcpool", func() Snapshot { return SnapshotOf(m) })
	mfs := gather(t, c)

	tests := []struct {
		metric string
		label  string
		value  string
		want   float64
	}{
		{"rsrcpool_pool_in_use", "pool", "frames", 6},
		{"rsrcpool_pool_free", "pool", "frames", 2},
		{"rsrcpool_pool_capacity", "pool", "frames", 8},
		{"rsrcpool_pool_hi_water", "pool", "frames", 6},
		{"rsrcpool_pool_allocations_total", "pool", "frames", 6},
		{"rsrcpool_pool_in_use", "pool", rsrc.RegistryName, 2},
		{"rsrcpool_source_used_bytes", "source", "heap", 8 * 32},
		{"rsrcpool_source_limit_bytes", "source", "heap", 1 << 20},
		{"rsrcpool_source_failures_total", "source", "heap", 0},
	}
	for _, tt := range tests {
		mf, ok := mfs[tt.metric]
		require.True(t, ok, "missing %s", tt.metric)
		got, ok := valueFor(mf, tt.label, tt.value)
		require.True(t, ok, "missing %s{%s=%q}", tt.metric, tt.label, tt.value)
		assert.Equal(t, tt.want, got, tt.metric)
	}
}

func TestPoolCollectorDuplicateNames(t *testing.T) {
	c := NewPoolCollector("x", func() Snapshot {
		return Snapshot{Pools: []rsrc.Stats{
			{Name: "same", Kind: "fixed", InUse: 1},
			{Name: "same", Kind: "fixed", InUse: 9},
		}}
	})
	mfs := gather(t, c)
	got, ok := valueFor(mfs["x_pool_in_use"], "pool", "same")
	require.True(t, ok)
	assert.Equal(t, 1.0, got)
	assert.Len(t, mfs["x_pool_in_use"].GetMetric(), 1)
}
