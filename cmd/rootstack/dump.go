package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/chazu/rootstack/embed"
	"github.com/chazu/rootstack/gcstack"
	"github.com/chazu/rootstack/simrt"
)

type dumpOptions struct {
	out    string
	decode string
	values int
}

func newDumpCommand(cli *rootCLI) *cobra.Command {
	opts := &dumpOptions{}
	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Write a CBOR snapshot of the root stack at its deepest point",
		Long: `Runs the direct-mode demo workload and captures the live frames while
they are deepest. With --decode, prints a previously written snapshot instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.decode != "" {
				return runDecode(cli.out, opts.decode)
			}
			return runDump(cli, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.out, "output", "o", "", "Write the snapshot to this file (default stdout)")
	flags.StringVar(&opts.decode, "decode", "", "Print the snapshot stored in this file")
	flags.IntVar(&opts.values, "values", 4, "Values rooted before the snapshot")
	return cmd
}

func runDump(cli *rootCLI, opts *dumpOptions) error {
	rt := simrt.New(cli.manifest.Runtime.HeapObjects)
	g, err := embed.Acquire(rt)
	if err != nil {
		return err
	}
	s, err := embed.Open(g, embed.WithStackSize(cli.manifest.Session.StackSize))
	if err != nil {
		return err
	}
	defer s.Close()

	snap, err := deepestSnapshot(s, rt.Heap(), opts.values)
	if err != nil {
		return err
	}
	data, err := gcstack.MarshalSnapshot(snap)
	if err != nil {
		return err
	}

	if opts.out == "" {
		_, err = cli.out.Write(data)
		return err
	}
	if err := os.WriteFile(opts.out, data, 0644); err != nil {
		return err
	}
	fmt.Fprintf(cli.err, "wrote %d frames (%d bytes) to %s\n", len(snap.Frames), len(data), opts.out)
	return nil
}

// deepestSnapshot roots n values in a static frame and n more in a nested
// dynamic frame, then snapshots the stack.
func deepestSnapshot(s *embed.Session, heap *simrt.Heap, n int) (*gcstack.Snapshot, error) {
	var snap *gcstack.Snapshot
	err := s.Frame(n, func(f *embed.StaticFrame) error {
		for i := 0; i < n; i++ {
			p, err := heap.NewInt64(int64(i))
			if err != nil {
				return err
			}
			if _, err := f.Root(p); err != nil {
				return err
			}
		}
		return f.DynamicFrame(func(d *embed.DynamicFrame) error {
			for i := 0; i < n; i++ {
				p, err := heap.NewString(fmt.Sprintf("v%d", i))
				if err != nil {
					return err
				}
				if _, err := d.Root(p); err != nil {
					return err
				}
			}
			snap = s.Snapshot()
			return nil
		})
	})
	return snap, err
}

func runDecode(w io.Writer, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	snap, err := gcstack.UnmarshalSnapshot(data)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	printSnapshot(w, snap)
	return nil
}

func printSnapshot(w io.Writer, snap *gcstack.Snapshot) {
	fmt.Fprintf(w, "mode %s, %d cells, offset %d, %d free, %d live roots\n",
		snap.Mode, snap.Size, snap.Offset, snap.Remaining, snap.LiveRoots())
	for i := len(snap.Frames) - 1; i >= 0; i-- {
		f := snap.Frames[i]
		kind := "static"
		if f.Dynamic {
			kind = "dynamic"
		}
		link := "outside"
		if f.Link >= 0 {
			link = fmt.Sprintf("cell %d", f.Link)
		}
		fmt.Fprintf(w, "  frame @%d %s, %d roots, prev %s\n", f.Header, kind, f.NRoots, link)
		for j, r := range f.Roots {
			fmt.Fprintf(w, "    [%d] %#x\n", j, r)
		}
	}
}
