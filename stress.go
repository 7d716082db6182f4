package main

import (
	"fmt"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/shenjiangwei/rsrcpool/logger"
	"github.com/shenjiangwei/rsrcpool/mpool"
	"github.com/shenjiangwei/rsrcpool/rsrc"
)

type stressOptions struct {
	iterations int
	ops        int
	workers    int
	minSize    int
	maxSize    int
	allocRatio float64
}

// TestResult stores test iteration results
type TestResult struct {
	Iteration     int
	TotalAllocs   uint64
	TotalFrees    uint64
	Failures      uint64
	Outstanding   int
	HiWater       int
	PoolStats     mpool.PoolStats
	TotalDuration time.Duration
}

func newStressCmd(root *rootOptions) *cobra.Command {
	opts := stressOptions{}
	cmd := &cobra.Command{
		Use:   "stress",
		Short: "Run randomized concurrent alloc/free against the memory pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.minSize < 0 || opts.maxSize < opts.minSize {
				return fmt.Errorf("invalid size range [%d, %d]", opts.minSize, opts.maxSize)
			}
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "Starting allocation test with %d iterations\n", opts.iterations)
			fmt.Fprintf(w, "Min block size: %d bytes\n", opts.minSize)
			fmt.Fprintf(w, "Max block size: %d bytes\n\n", opts.maxSize)

			var results []TestResult
			for i := 0; i < opts.iterations; i++ {
				fmt.Fprintf(w, "Running iteration %d...\n", i+1)
				m, err := root.cfg.NewManager()
				if err != nil {
					return err
				}
				m.SetOutput(w)
				// exhaustion is counted as a failed allocation rather than ending the run
				m.SetOOMHandler(func(p *rsrc.Pool, amount int) {
					logger.Debug("Pool %q could not supply %d bytes", p.Name(), amount)
				})
				result, err := runStress(m, root.cfg.MPool, opts, i+1)
				if cerr := m.Close(); cerr != nil {
					logger.Warn("Closing pool manager: %v", cerr)
				}
				if err != nil {
					return err
				}
				results = append(results, result)
				printResult(w, result)
			}
			printAverages(w, results)
			return nil
		},
	}
	cmd.Flags().IntVar(&opts.iterations, "iterations", 3, "Number of test iterations")
	cmd.Flags().IntVar(&opts.ops, "ops", 100000, "Operations per iteration")
	cmd.Flags().IntVar(&opts.workers, "workers", 10, "Concurrent workers")
	cmd.Flags().IntVar(&opts.minSize, "min-size", 64, "Smallest allocation in bytes")
	cmd.Flags().IntVar(&opts.maxSize, "max-size", 128*mpool.KB, "Largest allocation in bytes")
	cmd.Flags().Float64Var(&opts.allocRatio, "alloc-ratio", 0.7, "Probability that an operation allocates")
	return cmd
}

func runStress(m *rsrc.Manager, poolOpts mpool.Options, opts stressOptions, iteration int) (TestResult, error) {
	pool, err := mpool.NewMemoryPool(m, poolOpts)
	if err != nil {
		return TestResult{}, err
	}

	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		ops       int
		allocated []rsrc.Handle
		failures  uint64
		hiWater   int
	)
	start := time.Now()

	for i := 0; i < opts.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				mu.Lock()
				if ops >= opts.ops {
					mu.Unlock()
					return
				}
				ops++
				mu.Unlock()

				if rand.Float64() < opts.allocRatio {
					size := opts.minSize + rand.Intn(opts.maxSize-opts.minSize+1)
					h, err := pool.Allocate(size)
					mu.Lock()
					if err != nil {
						failures++
					} else {
						allocated = append(allocated, h)
						if len(allocated) > hiWater {
							hiWater = len(allocated)
						}
					}
					mu.Unlock()
					continue
				}

				mu.Lock()
				if len(allocated) == 0 {
					mu.Unlock()
					continue
				}
				idx := rand.Intn(len(allocated))
				h := allocated[idx]
				allocated[idx] = allocated[len(allocated)-1]
				allocated = allocated[:len(allocated)-1]
				mu.Unlock()
				if err := pool.Free(h); err != nil {
					logger.Error("Free of %s failed: %v", h, err)
				}
			}
		}()
	}
	wg.Wait()

	result := TestResult{
		Iteration:   iteration,
		Failures:    failures,
		Outstanding: len(allocated),
		HiWater:     hiWater,
	}
	for _, h := range allocated {
		if err := pool.Free(h); err != nil {
			return result, fmt.Errorf("failed to drain pool: %w", err)
		}
	}
	result.TotalDuration = time.Since(start)
	result.PoolStats = pool.Stats()
	result.TotalAllocs = result.PoolStats.TotalAllocations - failures
	result.TotalFrees = result.PoolStats.TotalFrees

	if err := pool.Close(); err != nil {
		return result, err
	}
	return result, nil
}

func printResult(w io.Writer, r TestResult) {
	fmt.Fprintf(w, "Iteration %d results:\n", r.Iteration)
	fmt.Fprintf(w, "  Total allocations: %d\n", r.TotalAllocs)
	fmt.Fprintf(w, "  Total frees: %d\n", r.TotalFrees)
	fmt.Fprintf(w, "  Failed allocations: %d\n", r.Failures)
	fmt.Fprintf(w, "  Outstanding at end: %d\n", r.Outstanding)
	fmt.Fprintf(w, "  Max outstanding: %d\n", r.HiWater)
	fmt.Fprintf(w, "  Pool hits: %d, misses: %d\n", r.PoolStats.PoolHits, r.PoolStats.PoolMisses)
	fmt.Fprintf(w, "  Duration: %v\n\n", r.TotalDuration)
}

func printAverages(w io.Writer, results []TestResult) {
	if len(results) == 0 {
		return
	}
	var avgHit, avgDuration float64
	for _, r := range results {
		if r.PoolStats.TotalAllocations > 0 {
			avgHit += float64(r.PoolStats.PoolHits) / float64(r.PoolStats.TotalAllocations) * 100
		}
		avgDuration += r.TotalDuration.Seconds()
	}
	avgHit /= float64(len(results))
	avgDuration /= float64(len(results))

	fmt.Fprintln(w, "Average results:")
	fmt.Fprintf(w, "  Average hit rate: %.2f%%\n", avgHit)
	fmt.Fprintf(w, "  Average duration: %.2f seconds\n", avgDuration)
}
