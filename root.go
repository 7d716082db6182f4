package main

import (
	"github.com/spf13/cobra"

	"github.com/shenjiangwei/rsrcpool/config"
	"github.com/shenjiangwei/rsrcpool/logger"
)

// options shared by every command
type rootOptions struct {
	configPath string
	logLevel   string
	jsonOut    bool
	cfg        *config.Config
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "rsrcpool",
		Short: "Named resource pools with usage statistics and corruption checks",
		Long: `rsrcpool manages named pools of fixed-size resources and variable-size
pools capped by concurrent count. It can run the built-in self tests, stress a
size-classed memory pool, serve allocations over RPC and dump pool statistics.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			if opts.logLevel != "" {
				cfg.Log.Level = opts.logLevel
			}
			if err := logger.Init(cfg.LoggerConfig()); err != nil {
				return err
			}
			opts.cfg = cfg
			return nil
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "YAML configuration file")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Override the configured log level")
	cmd.PersistentFlags().BoolVar(&opts.jsonOut, "json", false, "Output in JSON format")

	cmd.AddCommand(
		newDemoCmd(opts),
		newStressCmd(opts),
		newServeCmd(opts),
		newStatsCmd(opts),
		newVersionCmd(),
	)
	return cmd
}
