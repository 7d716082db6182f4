package main

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/shenjiangwei/rsrcpool/logger"
	"github.com/shenjiangwei/rsrcpool/rsrc"
	"github.com/shenjiangwei/rsrcpool/source"
)

var errNotRun = errors.New("not run")

type demoOptions struct {
	abort     bool
	oomBudget int
	summary   bool
}

func newDemoCmd(root *rootOptions) *cobra.Command {
	opts := demoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Run the pool self tests",
		Long: `The demo command exercises variable, dynamic and static pools, statistics,
print composition, alloc/free helpers, out-of-memory escalation and double-free
detection, reporting PASSED or FAILED for each.

Example:
  rsrcpool demo
  rsrcpool demo --abort --summary`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := root.cfg.NewManager()
			if err != nil {
				return err
			}
			m.SetOutput(cmd.OutOrStdout())
			defer func() {
				if err := m.Close(); err != nil {
					logger.Warn("Closing pool manager: %v", err)
				}
			}()
			if failed := runDemo(m, cmd.OutOrStdout(), cmd.ErrOrStderr(), opts); failed > 0 {
				return fmt.Errorf("%d test(s) failed", failed)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&opts.abort, "abort", false, "Expect the double free to abort instead of being reported")
	cmd.Flags().IntVar(&opts.oomBudget, "oom-budget", 64, "Byte budget of the source used by the OOM test")
	cmd.Flags().BoolVar(&opts.summary, "summary", false, "Print every pool after the tests")
	return cmd
}

// demo holds the pools the scenarios share
type demo struct {
	m    *rsrc.Manager
	out  io.Writer
	opts demoOptions

	longpool *rsrc.Pool
}

type scenario struct {
	name string
	run  func(d *demo) error
}

var scenarios = []scenario{
	{"Variable Pool allocation", (*demo).varPool},
	{"Dynamic Pool allocation", (*demo).dynPool},
	{"Pool stats", (*demo).poolStats},
	{"Printing test", (*demo).printing},
	{"Helper alloc/free", (*demo).helpers},
	{"OOM test", (*demo).oom},
	{"Double free", (*demo).doubleFree},
}

// runDemo runs every scenario against m and returns the number that failed
func runDemo(m *rsrc.Manager, out, errOut io.Writer, opts demoOptions) int {
	d := &demo{m: m, out: out, opts: opts}
	failed := 0
	for _, s := range scenarios {
		err := s.run(d)
		switch {
		case err == nil:
			fmt.Fprintf(out, "Test %s PASSED\n", s.name)
		case errors.Is(err, errNotRun):
			fmt.Fprintf(out, "Test %s was NOT RUN\n", s.name)
		default:
			failed++
			fmt.Fprintf(errOut, "Test %s FAILED: %v\n", s.name, err)
		}
	}
	if opts.summary {
		m.PrintShort(nil)
	}
	fmt.Fprintf(out, "----> demo finished with %d failure(s)\n", failed)
	return failed
}

func (d *demo) varPool() error {
	const bigsize = 10000
	p, err := d.m.NewVarPool("varpool", 2)
	if err != nil {
		return err
	}
	r5, err := p.AllocVar("firstp3", bigsize)
	if err != nil {
		return err
	}
	r6, err := p.AllocVar("secondp3", 1024)
	if err != nil {
		return err
	}
	if p.NumInUse() != 2 || p.ElementSize() != 0 || p.NumFree() != 0 {
		return fmt.Errorf("in use %d, size %d, free %d", p.NumInUse(), p.ElementSize(), p.NumFree())
	}
	body, err := p.Bytes(r5)
	if err != nil {
		return err
	}
	for i := range body {
		body[i] = 0xef
	}
	if _, err := p.AllocVar("too many", 1000); !errors.Is(err, rsrc.ErrPoolExhausted) || p.NumInUse() != 2 {
		return fmt.Errorf("third allocation: %v with %d in use", err, p.NumInUse())
	}
	if err := p.Free(r5); err != nil {
		return err
	}
	return p.Free(r6)
}

func (d *demo) dynPool() error {
	p, err := d.m.NewPool("bytepool", 1, 1, 1, 0, 0)
	if err != nil {
		return err
	}
	r1, err := p.Alloc("r1 in bytepool")
	if err != nil {
		return err
	}
	r2, err := p.Alloc("r2 in bytepool")
	if err != nil {
		return err
	}
	check := func(inUse int) error {
		if p.NumFree() != 0 || p.NumInUse() != inUse {
			return fmt.Errorf("free %d, in use %d, want 0 and %d", p.NumFree(), p.NumInUse(), inUse)
		}
		return nil
	}
	if err := check(2); err != nil {
		return err
	}
	if err := p.Free(r1); err != nil {
		return err
	}
	if err := check(1); err != nil {
		return err
	}
	if err := p.Free(r2); err != nil {
		return err
	}
	return check(0)
}

func (d *demo) poolStats() error {
	const poolsize, repeats = 100, 3
	p, err := d.m.NewPool("longpool", 8, 0, poolsize, 0, 0)
	if err != nil {
		return err
	}
	d.longpool = p
	if p.NumInUse() != 0 || p.NumFree() != 0 || p.TotalAllocs() != 0 || p.HiWater() != 0 || p.LoWater() != 0 {
		return fmt.Errorf("new pool has non-zero statistics: %+v", p.Stats())
	}

	for i := 0; i < repeats; i++ {
		results := make([]rsrc.Handle, 0, poolsize/2)
		seen := make(map[*byte]bool, poolsize/2)
		for j := 0; j < poolsize/2; j++ {
			h, err := p.Alloc("loop poolsize/2")
			if err != nil {
				return err
			}
			body, err := p.Bytes(h)
			if err != nil {
				return err
			}
			if seen[&body[0]] {
				return fmt.Errorf("resource %s handed out twice", h)
			}
			seen[&body[0]] = true
			results = append(results, h)
		}
		for _, h := range results {
			if err := p.Free(h); err != nil {
				return err
			}
		}
	}

	s := p.Stats()
	if s.Free != poolsize || s.InUse != 0 || s.TotalAllocs != repeats*poolsize/2 ||
		s.LoWater != poolsize/2 || s.HiWater != poolsize/2 {
		return fmt.Errorf("unexpected statistics: %+v", s)
	}
	return nil
}

func (d *demo) printing() error {
	p, err := d.m.NewPool("PrintTest", 32, 2, 0, 0, 0)
	if err != nil {
		return err
	}
	r5, err := p.Alloc("r5 in p5")
	if err != nil {
		return err
	}

	prints := 0
	fake := rsrc.PrintHelperFunc(func(io.Writer, *rsrc.Resource) { prints++ })
	reg := d.m.Registry()
	saved := reg.PrintHelper()
	p.SetPrintHelper(fake)
	reg.SetPrintHelper(fake)
	d.m.PrintShort(p)
	d.m.PrintLong(p)
	reg.SetPrintHelper(saved)

	if prints != 3 {
		return fmt.Errorf("print helpers called %d times, want 3", prints)
	}
	return p.Free(r5)
}

func (d *demo) helpers() error {
	restore := d.m.OverrideClear(rsrc.NoClear)
	p, err := d.m.NewPool("helperpool", 256, 2, 0, 0, 0)
	if err != nil {
		restore()
		return err
	}
	p.SetAllocHelper(rsrc.FillOnes)
	p.SetFreeHelper(rsrc.FillZeros)

	r5, err := p.Alloc("helpertest")
	if err != nil {
		restore()
		return err
	}
	body, err := p.Bytes(r5)
	if err != nil {
		restore()
		return err
	}
	if body[0] != 0xff || body[255] != 0xff {
		restore()
		return fmt.Errorf("alloc helper left %#x..%#x", body[0], body[255])
	}
	err = p.Free(r5)
	restore()
	if err != nil {
		return err
	}
	// the body slice still aliases the freed resource
	if body[0] != 0 || body[255] != 0 {
		return fmt.Errorf("free helper left %#x..%#x", body[0], body[255])
	}
	return nil
}

func (d *demo) oom() error {
	if d.opts.oomBudget <= 0 {
		return errNotRun
	}
	called := 0
	m := rsrc.New(rsrc.Config{
		Source:         source.NewHeap(d.opts.oomBudget),
		RegistrySource: source.NewHeap(0),
		Output:         d.out,
		OOM: func(p *rsrc.Pool, amount int) {
			called++
			fmt.Fprintf(d.out, "User-supplied out-of-memory function was called for %q (%d bytes). Returning to continue...\n", p.Name(), amount)
		},
	})
	p, err := m.NewPool("bytepool", 1, 1, 1, 0, 0)
	if err != nil {
		return err
	}
	for i := 0; i <= d.opts.oomBudget; i++ {
		if _, err := p.Alloc("main"); err != nil {
			if !errors.Is(err, rsrc.ErrOutOfMemory) || called != 1 {
				return fmt.Errorf("allocation %d: %v after %d handler calls", i, err, called)
			}
			return nil
		}
	}
	return fmt.Errorf("%d allocations succeeded within a %d byte budget", d.opts.oomBudget+1, d.opts.oomBudget)
}

func (d *demo) doubleFree() (err error) {
	if d.longpool == nil {
		return errNotRun
	}
	r1, err := d.longpool.Alloc("r1 in p2")
	if err != nil {
		return err
	}
	if err := d.longpool.Free(r1); err != nil {
		return err
	}

	if !d.opts.abort {
		if err := d.longpool.Free(r1); !errors.Is(err, rsrc.ErrAlreadyFreed) {
			return fmt.Errorf("second free returned %v", err)
		}
		return nil
	}

	old := d.m.SetDoubleFreePolicy(rsrc.AbortOnDoubleFree)
	defer func() {
		d.m.SetDoubleFreePolicy(old)
		if r := recover(); r != nil {
			fmt.Fprintf(d.out, "Double free aborted: %v\n", r)
			err = nil
		}
	}()
	d.longpool.Free(r1)
	return errors.New("double free did not abort")
}
