package rsrc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shenjiangwei/rsrcpool/source"
)

func poolNames(m *Manager) []string {
	var names []string
	m.ForEachPool(func(p *Pool) bool {
		names = append(names, p.Name())
		return true
	})
	return names
}

func TestRegistry(t *testing.T) {
	t.Run("Lazy bootstrap", func(t *testing.T) {
		m, _, _ := newTestManager(t, nil)
		assert.Nil(t, m.registry)

		reg := m.Registry()
		require.NotNil(t, reg)
		assert.Equal(t, RegistryName, reg.Name())
		assert.Equal(t, uint16(1), reg.ID())
		assert.Same(t, reg, m.Registry())
		assert.Equal(t, []string{RegistryName}, poolNames(m), "the registry describes itself")
	})

	t.Run("Registration order", func(t *testing.T) {
		m, _, _ := newTestManager(t, nil)
		a, err := m.NewPool("a", 8, 0, 1, 0, 0)
		require.NoError(t, err)
		b, err := m.NewVarPool("b", 3)
		require.NoError(t, err)
		_, err = m.NewPool("c", 8, 0, 1, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{RegistryName, "a", "b", "c"}, poolNames(m))
		assert.Equal(t, 4, m.Registry().NumInUse())

		require.NoError(t, b.Destroy())
		_, err = m.NewPool("d", 8, 0, 1, 0, 0)
		require.NoError(t, err)
		assert.Equal(t, []string{RegistryName, "a", "c", "d"}, poolNames(m))

		assert.Same(t, a, m.Lookup("a"))
		assert.Same(t, a, m.Pool(a.ID()))
		assert.Nil(t, m.Lookup("b"))
	})

	t.Run("Early stop", func(t *testing.T) {
		m, _, _ := newTestManager(t, nil)
		for _, name := range []string{"x", "y", "z"} {
			_, err := m.NewPool(name, 4, 0, 1, 0, 0)
			require.NoError(t, err)
		}
		visited := 0
		m.ForEachPool(func(p *Pool) bool {
			visited++
			return p.Name() != "x"
		})
		assert.Equal(t, 2, visited)
	})

	t.Run("Descriptors", func(t *testing.T) {
		m, _, _ := newTestManager(t, nil)
		p, err := m.NewPool("described", 8, 0, 1, 0, 42)
		require.NoError(t, err)
		reg := m.Registry()

		body, err := reg.Bytes(p.desc)
		require.NoError(t, err)
		d := decodeDescriptor(body)
		assert.Equal(t, p.ID(), d.id)
		assert.Equal(t, uint32(42), d.classID)
		assert.Equal(t, "described", d.name)

		tag, err := reg.Tag(p.desc)
		require.NoError(t, err)
		assert.Equal(t, "pool described", tag)

		r := reg.resource(p.desc.Index())
		assert.Same(t, p, r.Described())
	})

	t.Run("Registry full escalates", func(t *testing.T) {
		oom := &oomRecorder{}
		m := New(Config{OOM: oom.handle, RegistrySource: source.NewHeap(0), RegistryCapacity: 3})
		_, err := m.NewPool("one", 8, 1, 0, 0, 0)
		require.NoError(t, err)
		_, err = m.NewVarPool("two", 1)
		require.NoError(t, err)

		_, err = m.NewPool("three", 8, 1, 0, 0, 0)
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.Equal(t, 1, oom.calls)
		require.NotNil(t, oom.pool)
		assert.Equal(t, "three", oom.pool.Name(), "the pool being created is reported")
		assert.Equal(t, []int{descriptorSize}, oom.amounts)
		assert.Equal(t, []string{RegistryName, "one", "two"}, poolNames(m))
		assert.Equal(t, 8, m.Source().Stats().Used, "storage of the rejected pool was released")
	})

	t.Run("Registry source failure", func(t *testing.T) {
		oom := &oomRecorder{}
		m := New(Config{OOM: oom.handle, RegistrySource: source.NewHeap(10)})
		_, err := m.NewPool("never", 8, 1, 0, 0, 0)
		assert.ErrorIs(t, err, ErrOutOfMemory)
		assert.Equal(t, 1, oom.calls)
		assert.Nil(t, m.Registry())
		assert.Empty(t, poolNames(m))
	})
}

func TestDescriptorRoundTrip(t *testing.T) {
	body := make([]byte, descriptorSize)
	for i := range body {
		body[i] = 0xee
	}
	long := "a-pool-name-that-is-far-too-long-to-fit-inside-one-descriptor"
	encodeDescriptor(body, &Pool{id: 513, classID: 7, name: long})
	d := decodeDescriptor(body)
	assert.Equal(t, uint16(513), d.id)
	assert.Equal(t, uint32(7), d.classID)
	assert.Equal(t, long[:descriptorSize-descNameOffset], d.name)

	encodeDescriptor(body, &Pool{id: 2, name: "short"})
	assert.Equal(t, "short", decodeDescriptor(body).name)
	assert.Equal(t, descriptor{}, decodeDescriptor(body[:10]))
}
