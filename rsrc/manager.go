package rsrc

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/shenjiangwei/rsrcpool/logger"
	"github.com/shenjiangwei/rsrcpool/source"
)

// DefaultRegistryCapacity is the number of pools a manager can track
const DefaultRegistryCapacity = 128

// Config is the process-wide behavior a Manager carries for its pools.
type Config struct {
	Clear      ClearPolicy
	DoubleFree DoubleFreePolicy
	// OOM defaults to DefaultOOMHandler
	OOM OOMHandler
	// Source supplies pool storage; defaults to an unbounded heap
	Source source.Source
	// RegistrySource backs the registry; defaults to system mappings
	RegistrySource   source.Source
	RegistryCapacity int
	// Output receives diagnostics; defaults to stdout
	Output io.Writer
}

// DefaultConfig returns the configuration used by Default.
func DefaultConfig() Config {
	return Config{
		Clear:            Clear,
		DoubleFree:       ReportDoubleFree,
		OOM:              DefaultOOMHandler,
		RegistryCapacity: DefaultRegistryCapacity,
		Output:           os.Stdout,
	}
}

// Manager owns a registry and the pools registered in it.
type Manager struct {
	clear      ClearPolicy
	doubleFree DoubleFreePolicy
	oom        OOMHandler
	src        source.Source
	regSrc     source.Source
	regCap     int
	out        io.Writer

	once     sync.Once
	bootErr  error
	registry *Pool
	pools    map[uint16]*Pool
	nextID   uint16
	nextSeq  uint64
	closed   bool
}

// New creates a manager. Zero fields of cfg take their defaults. The
// registry is created on first use.
func New(cfg Config) *Manager {
	m := &Manager{
		clear:      cfg.Clear,
		doubleFree: cfg.DoubleFree,
		oom:        cfg.OOM,
		src:        cfg.Source,
		regSrc:     cfg.RegistrySource,
		regCap:     cfg.RegistryCapacity,
		out:        cfg.Output,
		pools:      make(map[uint16]*Pool),
	}
	if m.oom == nil {
		m.oom = DefaultOOMHandler
	}
	if m.src == nil {
		m.src = source.NewHeap(0)
	}
	if m.regSrc == nil {
		m.regSrc = source.NewMmap()
	}
	if m.regCap <= 0 {
		m.regCap = DefaultRegistryCapacity
	}
	if m.out == nil {
		m.out = os.Stdout
	}
	return m
}

var (
	defaultManager *Manager
	defaultOnce    sync.Once
)

// Default returns the process-wide manager, creating it once.
func Default() *Manager {
	defaultOnce.Do(func() {
		defaultManager = New(DefaultConfig())
	})
	return defaultManager
}

// Source returns the source pools draw their storage from
func (m *Manager) Source() source.Source { return m.src }

// Output returns the diagnostics writer
func (m *Manager) Output() io.Writer { return m.out }

// SetOutput replaces the diagnostics writer and returns the previous one
func (m *Manager) SetOutput(w io.Writer) io.Writer {
	old := m.out
	if w == nil {
		w = os.Stdout
	}
	m.out = w
	return old
}

// ClearPolicy returns the current clear-on-allocation policy
func (m *Manager) ClearPolicy() ClearPolicy { return m.clear }

// SetClearPolicy installs a clear-on-allocation policy and returns the previous one
func (m *Manager) SetClearPolicy(c ClearPolicy) ClearPolicy {
	old := m.clear
	m.clear = c
	return old
}

// OverrideClear installs c until the returned restore function is called.
//
//	defer m.OverrideClear(rsrc.NoClear)()
func (m *Manager) OverrideClear(c ClearPolicy) (restore func()) {
	old := m.SetClearPolicy(c)
	return func() { m.clear = old }
}

// DoubleFreePolicy returns the current double-free policy
func (m *Manager) DoubleFreePolicy() DoubleFreePolicy { return m.doubleFree }

// SetDoubleFreePolicy installs a double-free policy and returns the previous one
func (m *Manager) SetDoubleFreePolicy(d DoubleFreePolicy) DoubleFreePolicy {
	old := m.doubleFree
	m.doubleFree = d
	return old
}

// OOMHandler returns the installed OOM handler
func (m *Manager) OOMHandler() OOMHandler { return m.oom }

// SetOOMHandler installs fn and returns the previous handler. A nil fn
// restores DefaultOOMHandler.
func (m *Manager) SetOOMHandler(fn OOMHandler) OOMHandler {
	old := m.oom
	if fn == nil {
		fn = DefaultOOMHandler
	}
	m.oom = fn
	return old
}

// OverrideOOM installs fn until the returned restore function is called.
func (m *Manager) OverrideOOM(fn OOMHandler) (restore func()) {
	old := m.SetOOMHandler(fn)
	return func() { m.oom = old }
}

// Pool returns the live pool with the given id, or nil
func (m *Manager) Pool(id uint16) *Pool {
	return m.pools[id]
}

// Owner returns the pool that issued h
func (m *Manager) Owner(h Handle) (*Pool, error) {
	p := m.pools[h.PoolID()]
	if p == nil {
		return nil, opError("lookup", nil, h, ErrUnknownPool)
	}
	return p, nil
}

// Free returns the resource behind h to its pool
func (m *Manager) Free(h Handle) error {
	p, err := m.Owner(h)
	if err != nil {
		return err
	}
	return p.Free(h)
}

// Rename replaces the debug tag of the resource behind h
func (m *Manager) Rename(h Handle, tag string) error {
	p, err := m.Owner(h)
	if err != nil {
		return err
	}
	return p.Rename(h, tag)
}

// Bytes returns the body of the resource behind h
func (m *Manager) Bytes(h Handle) ([]byte, error) {
	p, err := m.Owner(h)
	if err != nil {
		return nil, err
	}
	return p.Bytes(h)
}

// Stats returns a snapshot of every registered pool in registration order
func (m *Manager) Stats() []Stats {
	var out []Stats
	m.ForEachPool(func(p *Pool) bool {
		out = append(out, p.Stats())
		return true
	})
	return out
}

// Close destroys every pool and hands the registry storage back to its
// source. While any pool still has resources in use it fails with
// ErrPoolInUse and leaves everything in place. Creating pools in a closed
// manager fails with ErrManagerClosed.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	// a manager that never bootstrapped must not do so now
	m.once.Do(func() {})

	pools := make([]*Pool, 0, len(m.pools))
	var busy []string
	for _, p := range m.pools {
		if p == m.registry {
			continue
		}
		pools = append(pools, p)
		if p.numInUse > 0 {
			busy = append(busy, p.name)
		}
	}
	if len(busy) > 0 {
		sort.Strings(busy)
		return opError("close", nil, Nil, fmt.Errorf("%w: %s", ErrPoolInUse, strings.Join(busy, ", ")))
	}

	for _, p := range pools {
		if err := p.Destroy(); err != nil {
			return opError("close", p, Nil, err)
		}
	}
	if reg := m.registry; reg != nil {
		reg.releaseStorage()
		reg.destroyed = true
		delete(m.pools, reg.id)
		logger.Debug("Released registry storage to %s source", m.regSrc.Name())
	}
	m.registry = nil
	m.bootErr = opError("bootstrap", nil, Nil, ErrManagerClosed)
	m.closed = true
	return nil
}
