package rsrc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenjiangwei/rsrcpool/source"
)

func TestManagerConfig(t *testing.T) {
	t.Run("Defaults", func(t *testing.T) {
		m := New(Config{})
		assert.Equal(t, Clear, m.ClearPolicy())
		assert.Equal(t, ReportDoubleFree, m.DoubleFreePolicy())
		assert.NotNil(t, m.OOMHandler())
		assert.NotNil(t, m.Source())
		assert.NotNil(t, m.Output())
		assert.Equal(t, DefaultRegistryCapacity, m.regCap)
	})

	t.Run("Default manager is shared", func(t *testing.T) {
		assert.Same(t, Default(), Default())
	})

	t.Run("Scoped clear override", func(t *testing.T) {
		m, _, _ := newTestManager(t, nil)
		func() {
			defer m.OverrideClear(NoClear)()
			assert.Equal(t, NoClear, m.ClearPolicy())
		}()
		assert.Equal(t, Clear, m.ClearPolicy())

		old := m.SetClearPolicy(NoClear)
		assert.Equal(t, Clear, old)
		assert.Equal(t, "no-clear", m.ClearPolicy().String())
	})

	t.Run("Scoped OOM override", func(t *testing.T) {
		m, first, _ := newTestManager(t, nil)
		p, err := m.NewPool("oom", 8, 1, 0, 0, 0)
		require.NoError(t, err)
		_, err = p.Alloc("only")
		require.NoError(t, err)

		second := &oomRecorder{}
		restore := m.OverrideOOM(second.handle)
		_, err = p.Alloc("overflow")
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.Equal(t, 1, second.calls)
		assert.Zero(t, first.calls)

		restore()
		_, err = p.Alloc("overflow again")
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.Equal(t, 1, first.calls)
		assert.Equal(t, 1, second.calls)
	})

	t.Run("Nil OOM handler restores default", func(t *testing.T) {
		m, _, _ := newTestManager(t, nil)
		m.SetOOMHandler(nil)
		assert.NotNil(t, m.OOMHandler())
	})

	t.Run("Stats", func(t *testing.T) {
		m, _, _ := newTestManager(t, nil)
		p, err := m.NewPool("counted", 16, 4, 2, 8, 9)
		require.NoError(t, err)
		_, err = p.Alloc("x")
		require.NoError(t, err)

		stats := m.Stats()
		require.Len(t, stats, 2)
		assert.Equal(t, RegistryName, stats[0].Name)
		assert.Equal(t, Stats{
			Name:        "counted",
			Kind:        "fixed",
			ElementSize: 16,
			InUse:       1,
			Free:        3,
			Capacity:    4,
			TotalAllocs: 1,
			HiWater:     1,
			LoWater:     3,
			Initial:     4,
			Increment:   2,
			Max:         8,
			ClassID:     9,
		}, stats[1])
	})
}

func TestManagerClose(t *testing.T) {
	t.Run("Releases registry storage", func(t *testing.T) {
		regSrc := source.NewHeap(0)
		m := New(Config{OOM: (&oomRecorder{}).handle, RegistrySource: regSrc})
		p, err := m.NewPool("frames", 32, 4, 0, 0, 0)
		require.NoError(t, err)
		vp, err := m.NewVarPool("messages", 0)
		require.NoError(t, err)
		assert.Positive(t, regSrc.Stats().Used)

		h, err := p.Alloc("held")
		require.NoError(t, err)
		err = m.Close()
		assert.ErrorIs(t, err, ErrPoolInUse)
		assert.Contains(t, err.Error(), "frames")
		assert.False(t, p.Destroyed())
		assert.NotNil(t, m.Registry())

		require.NoError(t, p.Free(h))
		require.NoError(t, m.Close())
		assert.True(t, p.Destroyed())
		assert.True(t, vp.Destroyed())
		assert.Zero(t, regSrc.Stats().Used)
		assert.Zero(t, m.Source().Stats().Used)
		assert.Nil(t, m.Registry())
		assert.Empty(t, m.Stats())

		_, err = m.NewPool("late", 8, 0, 1, 0, 0)
		assert.ErrorIs(t, err, ErrManagerClosed)
		_, err = m.NewVarPool("late", 0)
		assert.ErrorIs(t, err, ErrManagerClosed)
		assert.NoError(t, m.Close())
	})

	t.Run("Never used", func(t *testing.T) {
		regSrc := source.NewHeap(0)
		m := New(Config{RegistrySource: regSrc})
		require.NoError(t, m.Close())
		assert.Zero(t, regSrc.Stats().Allocs)
		_, err := m.NewPool("late", 8, 0, 1, 0, 0)
		assert.ErrorIs(t, err, ErrManagerClosed)
	})
}

func TestHandle(t *testing.T) {
	h := makeHandle(7, 3, 1234)
	assert.Equal(t, uint16(7), h.PoolID())
	assert.Equal(t, uint16(3), h.Gen())
	assert.Equal(t, 1234, h.Index())
	assert.False(t, h.IsNil())
	assert.Equal(t, "7.1234#3", h.String())
	assert.Equal(t, "nil", Nil.String())
	assert.True(t, Nil.IsNil())

	assert.Equal(t, uint16(2), nextGen(1))
	assert.Equal(t, uint16(1), nextGen(0xffff))
}
