package rsrc

import (
	"fmt"

	"github.com/shenjiangwei/rsrcpool/logger"
)

// NewVarPool creates a pool of individually sized resources. At most
// maxConcurrent of them may be in use at once; 0 means no limit.
func (m *Manager) NewVarPool(name string, maxConcurrent int) (*Pool, error) {
	if maxConcurrent < 0 {
		return nil, opError("create", &Pool{name: name}, Nil, fmt.Errorf("%w: max concurrent %d", ErrInvalidArgument, maxConcurrent))
	}
	if err := m.bootstrap(); err != nil {
		return nil, err
	}
	p := m.newPool(name, KindVariable, 0, 0, 0, maxConcurrent, 0, m.src)
	if err := m.register(p); err != nil {
		return nil, err
	}
	logger.Debug("Created variable pool %q: max concurrent %d", name, maxConcurrent)
	return p, nil
}

// AllocVar obtains a resource of size bytes. At the concurrency limit it
// fails with ErrPoolExhausted without escalating; if the source cannot supply
// the bytes the OOM handler runs and, if it returns, AllocVar fails with
// ErrOutOfMemory.
func (p *Pool) AllocVar(tag string, size int) (Handle, error) {
	if err := p.usable("alloc", KindVariable); err != nil {
		return Nil, err
	}
	if size < 0 {
		return Nil, opError("alloc", p, Nil, fmt.Errorf("%w: size %d", ErrInvalidArgument, size))
	}
	if p.maxCount > 0 && p.numInUse >= p.maxCount {
		return Nil, opError("alloc", p, Nil, ErrPoolExhausted)
	}

	body, err := p.src.Alloc(size)
	if err != nil {
		logger.Debug("Variable pool %q: source refused %d bytes: %v", p.name, size, err)
		p.m.escalate(p, size)
		return Nil, opError("alloc", p, Nil, ErrOutOfMemory)
	}
	idx := p.slotFor()
	p.slots[idx].body = body
	p.slots[idx].vacant = false
	p.slots[idx].chunk = -1
	p.capacity++
	return p.take(idx, tag, size), nil
}
