package main

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

func (c *cli) newIndexCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "index",
		Short: "Maintain the node index",
	}
	cmd.AddCommand(c.newIndexPruneCmd())
	return cmd
}

func (c *cli) newIndexPruneCmd() *cobra.Command {
	var flags cutoffFlags

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Drop index entries recorded before a cutoff",
		Long: `Drop index entries recorded before the cutoff. Run this after the
bucket's lifecycle rules have expired the matching objects; pruned nodes
read as not found.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cutoff, err := flags.cutoff(time.Now())
			if err != nil {
				return err
			}

			idx, err := openIndex(cmd.Context(), c.cfg.Index)
			if err != nil {
				return err
			}
			defer idx.Close()

			n, err := idx.DeleteBefore(cmd.Context(), cutoff)
			if err != nil {
				return err
			}

			slog.Info("Pruned index", "cutoff", cutoff.UTC(), "entries", n)
			_, err = fmt.Fprintln(cmd.OutOrStdout(), n)
			return err
		},
	}

	flags.register(cmd)
	return cmd
}
