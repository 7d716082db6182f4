package rsrc

import "fmt"

// PrintShort writes one summary line for p using the registry's printer on
// p's descriptor. A nil p prints every registered pool.
func (m *Manager) PrintShort(p *Pool) {
	if p == nil {
		m.ForEachPool(func(q *Pool) bool {
			m.printShort(q)
			return true
		})
		return
	}
	m.printShort(p)
}

func (m *Manager) printShort(p *Pool) {
	if p.destroyed || m.registry == nil {
		return
	}
	reg := m.registry
	reg.PrintHelper().Print(m.out, reg.resource(p.desc.Index()))
}

// PrintLong writes the summary line for p followed by one line per in-use
// resource, rendered by p's own printer. A nil p prints every registered pool.
func (m *Manager) PrintLong(p *Pool) {
	if p == nil {
		m.ForEachPool(func(q *Pool) bool {
			m.printLong(q)
			return true
		})
		return
	}
	m.printLong(p)
}

func (m *Manager) printLong(p *Pool) {
	if p.destroyed {
		return
	}
	m.printShort(p)
	printer := p.PrintHelper()
	for i := range p.slots {
		if p.slots[i].state == StateInUse && !p.slots[i].vacant {
			printer.Print(m.out, p.resource(i))
		}
	}
}

// PrintResource writes label and then the resource behind h using its pool's printer
func (m *Manager) PrintResource(label string, h Handle) error {
	p, err := m.Owner(h)
	if err != nil {
		return err
	}
	idx, err := p.resolve("print", h)
	if err != nil {
		return err
	}
	fmt.Fprintf(m.out, "%s:\n", label)
	p.PrintHelper().Print(m.out, p.resource(idx))
	return nil
}
