package rsrc

import (
	"errors"
	"fmt"
	"math"

	"github.com/eapache/queue"

	"github.com/shenjiangwei/rsrcpool/logger"
	"github.com/shenjiangwei/rsrcpool/source"
)

// maxSlots is one past the largest slot index a handle can carry
const maxSlots uint64 = math.MaxUint32 + 1

// batchBytes returns n*size, saturating at math.MaxInt when the product does
// not fit an int.
func batchBytes(n, size int) (int, bool) {
	if size > 0 && n > math.MaxInt/size {
		return math.MaxInt, false
	}
	return n * size, true
}

func (m *Manager) newPool(name string, kind Kind, elementSize, initialCount, incrementCount, maxCount int, classID uint32, src source.Source) *Pool {
	return &Pool{
		m:              m,
		name:           name,
		kind:           kind,
		src:            src,
		elementSize:    elementSize,
		initialCount:   initialCount,
		incrementCount: incrementCount,
		maxCount:       maxCount,
		classID:        classID,
		free:           queue.New(),
		vacant:         queue.New(),
	}
}

// NewPool creates a pool of resources of elementSize bytes each.
//
// initialCount resources are materialized up front (0 means none).
// incrementCount resources are added whenever the free list runs dry (0 means
// the pool never grows; 1 makes the pool dynamic, releasing each resource to
// the source when it is freed). maxCount caps the total number of resources,
// 0 means unbounded. classID is stored but not interpreted.
func (m *Manager) NewPool(name string, elementSize, initialCount, incrementCount, maxCount int, classID uint32) (*Pool, error) {
	if elementSize <= 0 || initialCount < 0 || incrementCount < 0 || maxCount < 0 {
		return nil, opError("create", &Pool{name: name}, Nil, fmt.Errorf("%w: size %d, initial %d, increment %d, max %d",
			ErrInvalidArgument, elementSize, initialCount, incrementCount, maxCount))
	}
	if err := m.bootstrap(); err != nil {
		return nil, err
	}
	if maxCount > 0 && initialCount > maxCount {
		initialCount = maxCount
	}

	p := m.newPool(name, KindFixed, elementSize, initialCount, incrementCount, maxCount, classID, m.src)
	if initialCount > 0 {
		if grown, _ := p.grow(initialCount); grown < initialCount {
			p.releaseStorage()
			amount, _ := batchBytes(initialCount, elementSize)
			m.escalate(p, amount)
			return nil, opError("create", p, Nil, ErrOutOfMemory)
		}
	}
	if err := m.register(p); err != nil {
		p.releaseStorage()
		return nil, err
	}
	logger.Debug("Created pool %q: size %d, initial %d, increment %d, max %d", name, elementSize, initialCount, incrementCount, maxCount)
	return p, nil
}

// dynamic pools materialize and release one resource at a time
func (p *Pool) dynamic() bool {
	return p.kind == KindVariable || p.incrementCount == 1
}

// slotFor returns a slot index without a body, reusing vacant slots first
func (p *Pool) slotFor() int {
	if p.vacant.Length() > 0 {
		return p.vacant.Remove().(int)
	}
	p.slots = append(p.slots, header{vacant: true, gen: 1, chunk: -1})
	return len(p.slots) - 1
}

// grow materializes up to n free resources and reports how many it added.
// Static pools take one batch from the source and carve it; dynamic pools
// take each body separately so that each can be released on its own.
func (p *Pool) grow(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	total, ok := batchBytes(n, p.elementSize)
	if !ok || uint64(len(p.slots)-p.vacant.Length())+uint64(n) > maxSlots {
		return 0, source.ErrSizeTooLarge
	}
	if p.dynamic() || n == 1 {
		for i := 0; i < n; i++ {
			body, err := p.src.Alloc(p.elementSize)
			if err != nil {
				return i, err
			}
			idx := p.slotFor()
			p.slots[idx].body = body
			p.slots[idx].vacant = false
			p.slots[idx].chunk = -1
			p.slots[idx].state = StateFree
			p.free.Add(idx)
			p.numFree++
			p.capacity++
		}
		return n, nil
	}

	chunk, err := p.src.Alloc(total)
	if err != nil {
		return 0, err
	}
	p.chunks = append(p.chunks, chunk)
	ci := len(p.chunks) - 1
	for i := 0; i < n; i++ {
		off := i * p.elementSize
		idx := p.slotFor()
		p.slots[idx].body = chunk[off : off+p.elementSize : off+p.elementSize]
		p.slots[idx].vacant = false
		p.slots[idx].chunk = ci
		p.slots[idx].state = StateFree
		p.free.Add(idx)
	}
	p.numFree += n
	p.capacity += n
	logger.Debug("Pool %q grew by %d to %d resources", p.name, n, p.capacity)
	return n, nil
}

// growForAlloc refills an empty free list, escalating when it cannot
func (p *Pool) growForAlloc() error {
	n := p.incrementCount
	if p.maxCount > 0 && n > p.maxCount-p.capacity {
		n = p.maxCount - p.capacity
	}
	if n <= 0 {
		p.m.escalate(p, p.elementSize)
		return ErrOutOfMemory
	}
	if grown, err := p.grow(n); grown == 0 {
		logger.Debug("Pool %q could not grow by %d: %v", p.name, n, err)
		amount, _ := batchBytes(n, p.elementSize)
		p.m.escalate(p, amount)
		return ErrOutOfMemory
	}
	return nil
}

func (p *Pool) usable(op string, kind Kind) error {
	if p == nil {
		return opError(op, nil, Nil, ErrUnknownPool)
	}
	if p.destroyed {
		return opError(op, p, Nil, ErrPoolDestroyed)
	}
	if p.kind != kind {
		return opError(op, p, Nil, ErrWrongKind)
	}
	return nil
}

// Alloc hands out one resource from a fixed pool, growing it if needed.
// When the pool cannot grow, the OOM handler runs and, if it returns,
// Alloc fails with ErrOutOfMemory.
func (p *Pool) Alloc(tag string) (Handle, error) {
	if err := p.usable("alloc", KindFixed); err != nil {
		return Nil, err
	}
	if p.free.Length() == 0 {
		if err := p.growForAlloc(); err != nil {
			return Nil, opError("alloc", p, Nil, err)
		}
	}
	idx := p.free.Remove().(int)
	p.numFree--
	return p.take(idx, tag, p.elementSize), nil
}

// take marks slot idx in use and runs the allocation policy on its body
func (p *Pool) take(idx int, tag string, size int) Handle {
	hdr := &p.slots[idx]
	hdr.state = StateInUse
	hdr.tag = tag
	hdr.size = size

	p.numInUse++
	p.totalAllocs++
	if p.numInUse > p.hiWater {
		p.hiWater = p.numInUse
	}
	if !p.loSet || p.numFree < p.loWater {
		p.loWater = p.numFree
		p.loSet = true
	}

	if p.m.clear == Clear {
		clear(hdr.body)
	}
	h := makeHandle(p.id, hdr.gen, idx)
	if p.allocHelper != nil {
		p.allocHelper.OnAlloc(p.resource(idx))
	}
	return h
}

// resolve validates h against this pool and returns its slot index
func (p *Pool) resolve(op string, h Handle) (int, error) {
	if p == nil {
		return 0, opError(op, nil, h, ErrUnknownPool)
	}
	if p.destroyed {
		return 0, opError(op, p, h, ErrPoolDestroyed)
	}
	if h == Nil || h.PoolID() != p.id || h.Index() >= len(p.slots) {
		return 0, opError(op, p, h, ErrInvalidHandle)
	}
	hdr := &p.slots[h.Index()]
	if hdr.vacant || hdr.gen != h.Gen() || hdr.state != StateInUse {
		return 0, opError(op, p, h, ErrAlreadyFreed)
	}
	return h.Index(), nil
}

// Free returns a resource to the pool. A handle whose resource was already
// freed is rejected with ErrAlreadyFreed without touching the pool, or
// panics under AbortOnDoubleFree.
func (p *Pool) Free(h Handle) error {
	idx, err := p.resolve("free", h)
	if err != nil {
		if p != nil && p.m.doubleFree == AbortOnDoubleFree && (errors.Is(err, ErrAlreadyFreed) || errors.Is(err, ErrInvalidHandle)) {
			logger.Error("Corrupt free: %v", err)
			panic(err)
		}
		return err
	}

	hdr := &p.slots[idx]
	if p.freeHelper != nil {
		p.freeHelper.OnFree(p.resource(idx))
	}
	hdr.state = StateFree
	hdr.gen = nextGen(hdr.gen)
	hdr.size = 0
	p.numInUse--

	if p.dynamic() && hdr.chunk < 0 {
		if err := p.src.Release(hdr.body); err != nil {
			logger.Error("Pool %q failed to release resource %s: %v", p.name, h, err)
		}
		hdr.body = nil
		hdr.vacant = true
		p.vacant.Add(idx)
		p.capacity--
		return nil
	}
	p.free.Add(idx)
	p.numFree++
	return nil
}

// Rename replaces the debug tag of an in-use resource
func (p *Pool) Rename(h Handle, tag string) error {
	idx, err := p.resolve("rename", h)
	if err != nil {
		return err
	}
	p.slots[idx].tag = tag
	return nil
}

// Tag returns the debug tag of an in-use resource
func (p *Pool) Tag(h Handle) (string, error) {
	idx, err := p.resolve("tag", h)
	if err != nil {
		return "", err
	}
	return p.slots[idx].tag, nil
}

// Bytes returns the body of an in-use resource. The slice aliases pool
// storage and must not be used after the resource is freed.
func (p *Pool) Bytes(h Handle) ([]byte, error) {
	idx, err := p.resolve("bytes", h)
	if err != nil {
		return nil, err
	}
	return p.slots[idx].body, nil
}

// Size returns the size an in-use resource was allocated with: the element
// size for fixed pools, the requested size for variable pools.
func (p *Pool) Size(h Handle) (int, error) {
	idx, err := p.resolve("size", h)
	if err != nil {
		return 0, err
	}
	return p.slots[idx].size, nil
}

// Live reports whether h refers to an in-use resource of this pool
func (p *Pool) Live(h Handle) bool {
	_, err := p.resolve("live", h)
	return err == nil
}

// SetAllocHelper installs the hook run on every allocated body. nil removes it.
func (p *Pool) SetAllocHelper(fn AllocHelper) { p.allocHelper = fn }

// SetFreeHelper installs the hook run on every freed body. nil removes it.
func (p *Pool) SetFreeHelper(fn FreeHelper) { p.freeHelper = fn }

// SetPrintHelper installs the resource printer. nil restores the default.
func (p *Pool) SetPrintHelper(fn PrintHelper) { p.printHelper = fn }

// PrintHelper returns the installed resource printer
func (p *Pool) PrintHelper() PrintHelper {
	if p.printHelper == nil {
		if p == p.m.registry {
			return Summary
		}
		return DefaultPrint
	}
	return p.printHelper
}

func (p *Pool) resource(idx int) *Resource {
	hdr := &p.slots[idx]
	return &Resource{
		Pool:   p,
		Handle: makeHandle(p.id, hdr.gen, idx),
		Tag:    hdr.tag,
		State:  hdr.state,
		Body:   hdr.body,
	}
}

// releaseStorage hands every body back to the source
func (p *Pool) releaseStorage() {
	for i := range p.slots {
		hdr := &p.slots[i]
		if !hdr.vacant && hdr.chunk < 0 {
			if err := p.src.Release(hdr.body); err != nil {
				logger.Error("Pool %q failed to release slot %d: %v", p.name, i, err)
			}
		}
		hdr.body = nil
		hdr.vacant = true
	}
	for _, c := range p.chunks {
		if err := p.src.Release(c); err != nil {
			logger.Error("Pool %q failed to release batch: %v", p.name, err)
		}
	}
	p.chunks = nil
	p.slots = nil
	p.free = queue.New()
	p.vacant = queue.New()
	p.numFree = 0
	p.capacity = 0
}

// Destroy tears the pool down. It refuses with ErrPoolInUse while any
// resource is still allocated; the registry cannot be destroyed.
func (p *Pool) Destroy() error {
	if p == nil {
		return opError("destroy", nil, Nil, ErrUnknownPool)
	}
	if p.destroyed {
		return opError("destroy", p, Nil, ErrPoolDestroyed)
	}
	if p == p.m.registry {
		return opError("destroy", p, Nil, ErrInvalidArgument)
	}
	if p.numInUse > 0 {
		return opError("destroy", p, Nil, fmt.Errorf("%w: %d outstanding", ErrPoolInUse, p.numInUse))
	}
	if err := p.m.unregister(p); err != nil {
		return err
	}
	p.releaseStorage()
	p.destroyed = true
	logger.Debug("Destroyed pool %q after %d allocations", p.name, p.totalAllocs)
	return nil
}

func (p *Pool) Manager() *Manager { return p.m }

func (p *Pool) ID() uint16 { return p.id }

func (p *Pool) Name() string { return p.name }

func (p *Pool) Kind() Kind { return p.kind }

// ElementSize is 0 for variable pools
func (p *Pool) ElementSize() int { return p.elementSize }

func (p *Pool) ClassID() uint32 { return p.classID }

func (p *Pool) NumInUse() int { return p.numInUse }

func (p *Pool) NumFree() int { return p.numFree }

// Capacity is the number of materialized resources, NumInUse + NumFree
func (p *Pool) Capacity() int { return p.capacity }

func (p *Pool) TotalAllocs() uint64 { return p.totalAllocs }

// HiWater is the largest NumInUse ever observed
func (p *Pool) HiWater() int { return p.hiWater }

// LoWater is the smallest NumFree observed after an allocation
func (p *Pool) LoWater() int { return p.loWater }

func (p *Pool) Destroyed() bool { return p.destroyed }

func (p *Pool) Dynamic() bool { return p.dynamic() }

// Stats returns a snapshot of the pool's counters
func (p *Pool) Stats() Stats {
	return Stats{
		Name:        p.name,
		Kind:        p.kind.String(),
		ElementSize: p.elementSize,
		InUse:       p.numInUse,
		Free:        p.numFree,
		Capacity:    p.capacity,
		TotalAllocs: p.totalAllocs,
		HiWater:     p.hiWater,
		LoWater:     p.loWater,
		Initial:     p.initialCount,
		Increment:   p.incrementCount,
		Max:         p.maxCount,
		ClassID:     p.classID,
	}
}
