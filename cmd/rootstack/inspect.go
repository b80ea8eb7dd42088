package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/chazu/rootstack/server"
)

func newInspectCommand(cli *rootCLI) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:       "inspect {stats|snapshot|events|collect}",
		Short:     "Query a running inspection service",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{"stats", "snapshot", "events", "collect"},
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cli.manifest.Inspect.Addr
			}
			client := server.NewInspectionClient(http.DefaultClient, "http://"+addr)
			ctx := cmd.Context()

			var result map[string]any
			var err error
			switch args[0] {
			case "stats":
				result, err = client.Stats(ctx)
			case "events":
				result, err = client.Events(ctx)
			case "collect":
				result, err = client.Collect(ctx)
			case "snapshot":
				snap, err := client.Snapshot(ctx)
				if err != nil {
					return err
				}
				printSnapshot(cli.out, snap)
				return nil
			default:
				return fmt.Errorf("unknown query %q", args[0])
			}
			if err != nil {
				return err
			}
			data, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cli.out, string(data))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Service address (default from rootstack.toml)")
	return cmd
}
