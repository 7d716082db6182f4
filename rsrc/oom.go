package rsrc

import "github.com/shenjiangwei/rsrcpool/logger"

// DefaultOOMHandler treats exhaustion as a configuration error and exits.
func DefaultOOMHandler(p *Pool, amount int) {
	name := "<none>"
	if p != nil {
		name = p.name
	}
	logger.Fatal("Out of memory in pool %q: could not obtain %d bytes", name, amount)
}

// escalate runs the OOM protocol. It only returns when the installed handler
// does, in which case the caller reports ErrOutOfMemory.
func (m *Manager) escalate(p *Pool, amount int) {
	name := ""
	if p != nil {
		name = p.name
	}
	logger.Warn("Pool %q cannot satisfy %d bytes, escalating", name, amount)
	m.oom(p, amount)
}
