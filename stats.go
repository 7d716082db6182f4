package main

import (
	"fmt"
	"io"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/shenjiangwei/rsrcpool/logger"
	"github.com/shenjiangwei/rsrcpool/mpool"
	"github.com/shenjiangwei/rsrcpool/rsrc"
	"github.com/shenjiangwei/rsrcpool/source"
)

// statsDump is the JSON document written by the stats command
type statsDump struct {
	Pools  []rsrc.Stats     `json:"pools"`
	Source source.Stats     `json:"source"`
	MPool  *mpool.PoolStats `json:"mpool,omitempty"`
}

func newStatsCmd(root *rootOptions) *cobra.Command {
	var (
		long      bool
		withMPool bool
	)
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Create the configured pools and show their statistics",
		Long: `The stats command creates every pool declared in the configuration, and
optionally the size-classed memory pool, then prints one line per pool.

Example:
  rsrcpool stats --config pools.yaml
  rsrcpool stats --mpool --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := root.cfg.NewManager()
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			m.SetOutput(w)
			var mp *mpool.MemoryPool
			defer func() {
				if mp != nil {
					if err := mp.Close(); err != nil {
						logger.Warn("Closing memory pool: %v", err)
					}
				}
				if err := m.Close(); err != nil {
					logger.Warn("Closing pool manager: %v", err)
				}
			}()
			if _, err := root.cfg.CreatePools(m); err != nil {
				return err
			}
			if withMPool {
				if mp, err = mpool.NewMemoryPool(m, root.cfg.MPool); err != nil {
					return err
				}
			}

			if root.jsonOut {
				return writeStatsJSON(w, m, mp)
			}
			if long {
				m.PrintLong(nil)
			} else {
				m.PrintShort(nil)
			}
			if mp != nil {
				mp.WriteReport(w)
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&long, "long", "l", false, "Also print every resource in use")
	cmd.Flags().BoolVar(&withMPool, "mpool", false, "Create the size-classed memory pool too")
	return cmd
}

func writeStatsJSON(w io.Writer, m *rsrc.Manager, mp *mpool.MemoryPool) error {
	dump := statsDump{
		Pools:  m.Stats(),
		Source: m.Source().Stats(),
	}
	if mp != nil {
		s := mp.Stats()
		dump.MPool = &s
	}
	data, err := json.MarshalIndent(dump, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode stats: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}
