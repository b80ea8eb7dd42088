package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/chazu/rootstack/embed"
	"github.com/chazu/rootstack/gcstack"
	"github.com/chazu/rootstack/simrt"
	"github.com/chazu/rootstack/trace"
)

type demoOptions struct {
	mode      string
	values    int
	tasks     int
	stackSize int
	trace     bool
}

func newDemoCommand(cli *rootCLI) *cobra.Command {
	opts := &demoOptions{}
	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Root values in nested frames and collect garbage around them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("mode") {
				opts.mode = cli.manifest.Session.Mode
			}
			if !cmd.Flags().Changed("stack-size") {
				opts.stackSize = cli.manifest.Session.StackSize
			}
			if !cmd.Flags().Changed("trace") {
				opts.trace = cli.manifest.Trace.Enabled
			}
			return runDemo(cmd.Context(), cli, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.mode, "mode", gcstack.DirectName, "Linkage mode: direct or chained")
	flags.IntVar(&opts.values, "values", 8, "Values rooted per stack")
	flags.IntVar(&opts.tasks, "tasks", 3, "Cooperative tasks (chained mode)")
	flags.IntVar(&opts.stackSize, "stack-size", 0, "Usable cells per slot buffer")
	flags.BoolVar(&opts.trace, "trace", false, "Record frame events to the trace database")
	return cmd
}

func runDemo(ctx context.Context, cli *rootCLI, opts *demoOptions) error {
	if ctx == nil {
		ctx = context.Background()
	}
	rt := simrt.New(cli.manifest.Runtime.HeapObjects)
	g, err := embed.Acquire(rt)
	if err != nil {
		return err
	}

	var rec *trace.Recorder
	if opts.trace {
		rec = trace.NewRecorder(0)
	}
	embedOpts := []embed.Option{embed.WithStackSize(opts.stackSize), embed.WithRecorder(rec)}

	switch opts.mode {
	case gcstack.DirectName:
		err = runDirectDemo(cli.out, g, rt, opts.values, embedOpts)
	case gcstack.ChainedName:
		err = runChainedDemo(ctx, cli.out, g, rt, opts.values, opts.tasks, embedOpts)
	default:
		return fmt.Errorf("unknown mode %q", opts.mode)
	}
	if err != nil {
		return err
	}
	if rec != nil {
		return flushTrace(ctx, cli, rec)
	}
	return nil
}

// buildList roots n boxed integers in a dynamic frame, links them into a
// list of pairs and stores the list in out. Every tenth allocation is
// unrooted garbage.
func buildList(f embed.Frame, heap *simrt.Heap, n int, out embed.Output) (embed.Value, error) {
	var list embed.Value
	err := f.DynamicFrame(func(d *embed.DynamicFrame) error {
		var tail uintptr
		for i := 1; i <= n; i++ {
			p, err := heap.NewInt64(int64(i))
			if err != nil {
				return err
			}
			v, err := d.Root(p)
			if err != nil {
				return err
			}
			if _, err := heap.NewFloat64(float64(i) / 10); err != nil {
				return err
			}
			cell, err := heap.NewPair(v.Ptr(), tail)
			if err != nil {
				return err
			}
			if _, err := d.Root(cell); err != nil {
				return err
			}
			tail = cell
		}
		var err error
		list, err = out.Set(tail)
		return err
	})
	return list, err
}

func sumList(heap *simrt.Heap, list uintptr) (int64, int, error) {
	var sum int64
	n := 0
	for p := list; p != 0; {
		head, tail, err := heap.Pair(p)
		if err != nil {
			return 0, 0, err
		}
		v, err := heap.Int64(head)
		if err != nil {
			return 0, 0, err
		}
		sum += v
		n++
		p = tail
	}
	return sum, n, nil
}

func printCollect(w io.Writer, label string, stats *simrt.CollectStats) {
	fmt.Fprintf(w, "%-10s heads=%d frames=%d roots=%d swept=%d live=%d (%s)\n",
		label, stats.Heads, stats.Frames, stats.Roots, stats.Swept, stats.Live, stats.Duration)
}

func printStats(w io.Writer, st embed.Stats) {
	fmt.Fprintf(w, "%-10s mode=%s size=%d used=%d frames=%d overflows=%d\n",
		st.Name, st.Mode, st.Size, st.Used, st.Frames, st.Overflows)
}

func runDirectDemo(w io.Writer, g *embed.Guard, rt *simrt.Runtime, n int, opts []embed.Option) error {
	s, err := embed.Open(g, opts...)
	if err != nil {
		return err
	}
	defer s.Close()
	heap := rt.Heap()

	err = s.Frame(1, func(f *embed.StaticFrame) error {
		out, err := f.Output()
		if err != nil {
			return err
		}
		list, err := buildList(f, heap, n, out)
		if err != nil {
			return err
		}
		stats, err := rt.Collect()
		if err != nil {
			return err
		}
		printCollect(w, "collect", stats)

		sum, count, err := sumList(heap, list.Ptr())
		if err != nil {
			return fmt.Errorf("list damaged by collection: %w", err)
		}
		fmt.Fprintf(w, "list of %d values survived, sum %d\n", count, sum)
		return nil
	})
	if err != nil {
		return err
	}

	stats, err := rt.Collect()
	if err != nil {
		return err
	}
	printCollect(w, "released", stats)
	printStats(w, s.Stats())
	return nil
}

func runChainedDemo(ctx context.Context, w io.Writer, g *embed.Guard, rt *simrt.Runtime, n, tasks int, opts []embed.Option) error {
	e, err := embed.OpenExecutor(g, opts...)
	if err != nil {
		return err
	}
	defer e.Close()
	heap := rt.Heap()

	worker := func(t *embed.Task) error {
		return t.Frame(1, func(f *embed.StaticFrame) error {
			out, err := f.Output()
			if err != nil {
				return err
			}
			list, err := buildList(f, heap, n, out)
			if err != nil {
				return err
			}
			if err := t.Yield(); err != nil {
				return err
			}
			sum, count, err := sumList(heap, list.Ptr())
			if err != nil {
				return fmt.Errorf("task %d: list damaged while suspended: %w", t.ID(), err)
			}
			fmt.Fprintf(w, "task %d: %d values survived, sum %d, %d yields\n", t.ID(), count, sum, t.Yields())
			printStats(w, t.Stats())
			return nil
		})
	}
	collector := func(t *embed.Task) error {
		stats, err := rt.Collect()
		if err != nil {
			return err
		}
		printCollect(w, "collect", stats)
		return nil
	}

	fns := make([]embed.TaskFunc, 0, tasks+1)
	for i := 0; i < tasks; i++ {
		fns = append(fns, worker)
	}
	fns = append(fns, collector)
	if err := e.Run(ctx, fns...); err != nil {
		return err
	}

	stats, err := rt.Collect()
	if err != nil {
		return err
	}
	printCollect(w, "released", stats)
	return nil
}

func flushTrace(ctx context.Context, cli *rootCLI, rec *trace.Recorder) error {
	path := cli.manifest.TraceDatabasePath()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	store, err := trace.Open(ctx, path)
	if err != nil {
		return err
	}
	defer store.Close()

	run := time.Now().UTC().Format("20060102T150405.000")
	dropped := rec.Dropped()
	n, err := store.Flush(ctx, run, rec)
	if err != nil {
		return err
	}
	fmt.Fprintf(cli.out, "trace run %s: %d events written to %s\n", run, n, path)
	if dropped > 0 {
		log.Warningf("trace recorder dropped %d events", dropped)
	}
	return nil
}

