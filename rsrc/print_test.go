package rsrc

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrintComposition(t *testing.T) {
	m, _, _ := newTestManager(t, nil)
	p5, err := m.NewPool("PrintTest", 32, 2, 0, 0, 0)
	require.NoError(t, err)
	r5, err := p5.Alloc("r5 in p5")
	require.NoError(t, err)

	prints := 0
	var seen []*Resource
	fake := PrintHelperFunc(func(w io.Writer, r *Resource) {
		prints++
		seen = append(seen, r)
	})

	reg := m.Registry()
	saved := reg.PrintHelper()
	p5.SetPrintHelper(fake)
	reg.SetPrintHelper(fake)

	m.PrintShort(p5)
	assert.Equal(t, 1, prints)
	m.PrintLong(p5)
	reg.SetPrintHelper(saved)
	assert.Equal(t, 3, prints)

	require.Len(t, seen, 3)
	assert.Same(t, reg, seen[0].Pool)
	assert.Same(t, p5, seen[0].Described())
	assert.Same(t, reg, seen[1].Pool)
	assert.Same(t, p5, seen[2].Pool)
	assert.Equal(t, r5, seen[2].Handle)
	assert.Equal(t, "r5 in p5", seen[2].Tag)
	assert.Equal(t, StateInUse, seen[2].State)

	require.NoError(t, p5.Free(r5))
}

func TestPrintOutput(t *testing.T) {
	m, _, out := newTestManager(t, nil)
	p, err := m.NewPool("render", 4, 2, 0, 0, 0)
	require.NoError(t, err)
	h, err := p.Alloc("shown")
	require.NoError(t, err)
	_, err = p.Alloc("also shown")
	require.NoError(t, err)
	v, err := m.NewVarPool("render var", 1)
	require.NoError(t, err)
	_, err = v.AllocVar("sized", 3)
	require.NoError(t, err)

	t.Run("Short", func(t *testing.T) {
		out.Reset()
		m.PrintShort(p)
		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 1)
		assert.Contains(t, lines[0], "render")
		assert.Contains(t, lines[0], "inuse=2")
	})

	t.Run("Long", func(t *testing.T) {
		out.Reset()
		m.PrintLong(p)
		s := out.String()
		assert.Contains(t, s, `"shown"`)
		assert.Contains(t, s, `"also shown"`)
		assert.Equal(t, 3, strings.Count(s, "\n"))
	})

	t.Run("All pools", func(t *testing.T) {
		out.Reset()
		m.PrintShort(nil)
		lines := strings.Split(strings.TrimSpace(out.String()), "\n")
		require.Len(t, lines, 3)
		assert.True(t, strings.HasPrefix(lines[0], RegistryName))
		assert.True(t, strings.HasPrefix(lines[1], "render "))
		assert.True(t, strings.HasPrefix(lines[2], "render var"))

		out.Reset()
		m.PrintLong(nil)
		assert.Contains(t, out.String(), `"sized"`)
	})

	t.Run("Single resource with hex dump", func(t *testing.T) {
		body, err := p.Bytes(h)
		require.NoError(t, err)
		copy(body, []byte{0xde, 0xad, 0xbe, 0xef})
		p.SetPrintHelper(HexDump)
		defer p.SetPrintHelper(nil)

		out.Reset()
		require.NoError(t, m.PrintResource("resource h", h))
		s := out.String()
		assert.True(t, strings.HasPrefix(s, "resource h:\n"))
		assert.Contains(t, s, "de ad be ef")
	})

	t.Run("Freed resource", func(t *testing.T) {
		q, err := m.NewPool("gone", 4, 1, 0, 0, 0)
		require.NoError(t, err)
		g, err := q.Alloc("g")
		require.NoError(t, err)
		require.NoError(t, q.Free(g))
		assert.ErrorIs(t, m.PrintResource("gone", g), ErrAlreadyFreed)
	})
}
