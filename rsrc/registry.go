package rsrc

import (
	"bytes"
	"encoding/binary"
	"math"
	"sort"

	"github.com/shenjiangwei/rsrcpool/logger"
)

const (
	// RegistryName is the name of the pool that tracks every pool
	RegistryName = "pools"

	// descriptorSize is the body size of one registry resource:
	// [0:4] pool id, [4:8] class id, [8:64] NUL padded name.
	descriptorSize = 64
	descNameOffset = 8
)

type descriptor struct {
	id      uint16
	classID uint32
	name    string
}

func encodeDescriptor(b []byte, p *Pool) {
	clear(b)
	binary.LittleEndian.PutUint32(b[0:4], uint32(p.id))
	binary.LittleEndian.PutUint32(b[4:8], p.classID)
	copy(b[descNameOffset:], p.name)
}

func decodeDescriptor(b []byte) descriptor {
	if len(b) < descriptorSize {
		return descriptor{}
	}
	name := b[descNameOffset:descriptorSize]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return descriptor{
		id:      uint16(binary.LittleEndian.Uint32(b[0:4])),
		classID: binary.LittleEndian.Uint32(b[4:8]),
		name:    string(name),
	}
}

// bootstrap creates the registry exactly once. Its storage is one
// fixed-capacity batch from the registry source, so it never depends on the
// general pool source, and it records itself as its first descriptor.
func (m *Manager) bootstrap() error {
	m.once.Do(func() {
		reg := m.newPool(RegistryName, KindFixed, descriptorSize, m.regCap, 0, m.regCap, 0, m.regSrc)
		reg.printHelper = Summary
		if grown, _ := reg.grow(m.regCap); grown < m.regCap {
			reg.releaseStorage()
			amount, _ := batchBytes(m.regCap, descriptorSize)
			m.escalate(reg, amount)
			m.bootErr = opError("bootstrap", reg, Nil, ErrOutOfMemory)
			return
		}
		m.registry = reg
		if err := m.register(reg); err != nil {
			m.registry = nil
			reg.releaseStorage()
			m.bootErr = err
			return
		}
		logger.Debug("Registry bootstrapped with capacity %d from %s source", m.regCap, m.regSrc.Name())
	})
	return m.bootErr
}

// register records p as a descriptor resource of the registry
func (m *Manager) register(p *Pool) error {
	if m.nextID == math.MaxUint16 || (p != m.registry && m.registry.free.Length() == 0) {
		m.escalate(p, descriptorSize)
		return opError("register", p, Nil, ErrOutOfMemory)
	}
	p.id = m.nextID + 1
	h, err := m.registry.Alloc("pool " + p.name)
	if err != nil {
		p.id = 0
		return opError("register", p, Nil, err)
	}
	m.nextID = p.id
	m.nextSeq++
	p.seq = m.nextSeq
	p.desc = h
	encodeDescriptor(m.registry.slots[h.Index()].body, p)
	m.pools[p.id] = p
	return nil
}

func (m *Manager) unregister(p *Pool) error {
	if err := m.registry.Free(p.desc); err != nil {
		return err
	}
	delete(m.pools, p.id)
	p.desc = Nil
	return nil
}

// Registry returns the pool whose resources describe every registered pool
func (m *Manager) Registry() *Pool {
	if m.bootstrap() != nil {
		return nil
	}
	return m.registry
}

// ForEachPool calls fn for every registered pool in registration order until
// fn returns false.
func (m *Manager) ForEachPool(fn func(p *Pool) bool) {
	if m.bootstrap() != nil {
		return
	}
	reg := m.registry
	pools := make([]*Pool, 0, reg.numInUse)
	for i := range reg.slots {
		if reg.slots[i].state != StateInUse {
			continue
		}
		if p := m.pools[decodeDescriptor(reg.slots[i].body).id]; p != nil {
			pools = append(pools, p)
		}
	}
	sort.Slice(pools, func(i, j int) bool { return pools[i].seq < pools[j].seq })
	for _, p := range pools {
		if !fn(p) {
			return
		}
	}
}

// Lookup returns the first registered pool named name, or nil
func (m *Manager) Lookup(name string) *Pool {
	var found *Pool
	m.ForEachPool(func(p *Pool) bool {
		if p.name == name {
			found = p
			return false
		}
		return true
	})
	return found
}
