package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/chazu/rootstack/embed"
	"github.com/chazu/rootstack/server"
	"github.com/chazu/rootstack/simrt"
	"github.com/chazu/rootstack/trace"
)

func newServeCommand(cli *rootCLI) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the inspection service for a live session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = cli.manifest.Inspect.Addr
			}
			return runServe(cmd.Context(), cli, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default from rootstack.toml)")
	return cmd
}

func runServe(ctx context.Context, cli *rootCLI, addr string) error {
	rt := simrt.New(cli.manifest.Runtime.HeapObjects)
	g, err := embed.Acquire(rt)
	if err != nil {
		return err
	}
	rec := trace.NewRecorder(0)
	worker, err := embed.StartWorker(g,
		embed.WithStackSize(cli.manifest.Session.StackSize),
		embed.WithRecorder(rec))
	if err != nil {
		return err
	}
	defer worker.Stop()

	srv := server.New(worker, server.WithRecorder(rec), server.WithCollector(rt))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	served := make(chan error, 1)
	go func() { served <- srv.ListenAndServe(addr) }()
	fmt.Fprintf(cli.out, "inspection service on %s\n", addr)

	select {
	case err := <-served:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		return err
	}
	return <-served
}
