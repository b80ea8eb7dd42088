package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/chazu/rootstack/trace"
)

func newTraceCommand(cli *rootCLI) *cobra.Command {
	var run string
	var events bool
	cmd := &cobra.Command{
		Use:   "trace",
		Short: "Summarize recorded frame traces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := cli.manifest.TraceDatabasePath()
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("no trace database: %w", err)
			}
			store, err := trace.Open(ctx, path)
			if err != nil {
				return err
			}
			defer store.Close()

			runs := []string{run}
			if run == "" {
				if runs, err = store.Runs(ctx); err != nil {
					return err
				}
			}

			tw := tabwriter.NewWriter(cli.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "RUN\tEVENTS\tFRAMES\tOVERFLOWS\tMAX DEPTH\tMAX OFFSET")
			for _, r := range runs {
				sum, err := store.Summarize(ctx, r)
				if err != nil {
					return err
				}
				fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%d\t%d\n",
					sum.Run, sum.Events, sum.Frames, sum.Overflows, sum.MaxDepth, sum.MaxOffset)
			}
			if err := tw.Flush(); err != nil {
				return err
			}
			if !events || run == "" {
				return nil
			}

			evs, err := store.Load(ctx, run)
			if err != nil {
				return err
			}
			for _, e := range evs {
				fmt.Fprintf(cli.out, "%6d %-8s %-8s %-7s cap=%d off=%d depth=%d\n",
					e.Seq, e.Stack, e.Kind, e.Frame, e.Capacity, e.Offset, e.Depth)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&run, "run", "", "Only this run")
	cmd.Flags().BoolVar(&events, "events", false, "List the run's events (requires --run)")
	return cmd
}
