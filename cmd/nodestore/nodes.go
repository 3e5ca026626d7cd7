package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

// newNodeID returns a random id in the dashless hex form nodes usually carry.
func newNodeID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

func (c *cli) newPutCmd() *cobra.Command {
	var (
		file string
		ttl  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "put [id]",
		Short: "Store a node payload read from a file or stdin",
		Long: `Store a node payload. Without an id a random one is generated.
The id is printed on success.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := newNodeID()
			if len(args) == 1 {
				id = args[0]
			}

			var r io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return err
				}
				defer f.Close()
				r = f
			}

			data, err := io.ReadAll(r)
			if err != nil {
				return fmt.Errorf("failed to read payload: %w", err)
			}

			a, err := openApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.backend.WriteTTL(cmd.Context(), id, data, ttl); err != nil {
				return err
			}

			_, err = fmt.Fprintln(cmd.OutOrStdout(), id)
			return err
		},
	}

	cmd.Flags().StringVarP(&file, "file", "f", "", "read the payload from this file instead of stdin")
	cmd.Flags().DurationVar(&ttl, "ttl", 0, "expiry hint forwarded to the legacy store on write through")
	return cmd
}

func (c *cli) newGetCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Print a node payload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := a.backend.Read(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			if output != "" && output != "-" {
				return os.WriteFile(output, data, 0o644)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write the payload to this file instead of stdout")
	return cmd
}

func (c *cli) newDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>...",
		Short: "Delete one or more nodes",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 1 {
				return a.backend.Delete(cmd.Context(), args[0])
			}
			return a.backend.DeleteMulti(cmd.Context(), args)
		},
	}
}

// cutoffFlags resolves --before and --older-than into one instant.
type cutoffFlags struct {
	before    string
	olderThan time.Duration
}

func (f *cutoffFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.before, "before", "", "RFC 3339 cutoff; data written earlier is removed")
	cmd.Flags().DurationVar(&f.olderThan, "older-than", 0, "remove data older than this duration")
	cmd.MarkFlagsMutuallyExclusive("before", "older-than")
	cmd.MarkFlagsOneRequired("before", "older-than")
}

func (f *cutoffFlags) cutoff(now time.Time) (time.Time, error) {
	if f.before != "" {
		t, err := time.Parse(time.RFC3339, f.before)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid --before: %w", err)
		}
		return t, nil
	}
	if f.olderThan <= 0 {
		return time.Time{}, errors.New("--older-than must be positive")
	}
	return now.Add(-f.olderThan), nil
}

func (c *cli) newCleanupCmd() *cobra.Command {
	var flags cutoffFlags

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove legacy store data written before a cutoff",
		Long: `Remove data written before the cutoff from the legacy store when
delete_through is enabled. Objects in the bucket are left to its lifecycle
rules; see "index prune" for the index.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cutoff, err := flags.cutoff(time.Now())
			if err != nil {
				return err
			}

			a, err := openApp(cmd.Context(), c.cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			return a.backend.Cleanup(cmd.Context(), cutoff)
		},
	}

	flags.register(cmd)
	return cmd
}
