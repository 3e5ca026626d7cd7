package main

import (
	"context"

	"nodestore/internal/config"
	"nodestore/internal/telemetry"

	"github.com/spf13/cobra"
)

// cli carries state shared by every subcommand.
type cli struct {
	cfgFile  string
	cfg      config.Config
	shutdown func(context.Context) error
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "nodestore",
		Short: "Object-storage backed node store",
		Long: `nodestore keeps node payloads in an S3-compatible bucket and a
per-node write timestamp in a SQL index, optionally passing reads, writes
and deletes through to a legacy SQL node store during migration.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if c.shutdown == nil {
				return nil
			}
			return c.shutdown(context.WithoutCancel(cmd.Context()))
		},
	}

	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "path to a YAML config file")

	root.AddCommand(
		c.newServeCmd(),
		c.newPutCmd(),
		c.newGetCmd(),
		c.newDeleteCmd(),
		c.newCleanupCmd(),
		c.newIndexCmd(),
		c.newConfigCmd(),
	)

	return root
}

// setup loads and validates the configuration, then installs logging and
// tracing.
func (c *cli) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	c.cfg = cfg

	if err := setupLogging(cmd.ErrOrStderr(), cfg.LogLevel); err != nil {
		return err
	}

	shutdown, err := telemetry.Init(cmd.Context(), telemetry.Options{
		ServiceName:    "nodestore",
		ServiceVersion: version,
		Target:         cfg.Trace,
		Writer:         cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	c.shutdown = shutdown
	return nil
}
