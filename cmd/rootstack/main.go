// rootstack drives a simulated managed runtime through the rooted-value
// stack: it runs demo workloads, dumps root-stack snapshots, serves the
// inspection service, and summarizes recorded frame traces.
package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/rootstack/manifest"
)

var log = commonlog.GetLogger("rootstack.cli")

// rootCLI holds state shared by every subcommand.
type rootCLI struct {
	out io.Writer
	err io.Writer

	dir       string
	verbosity int
	logFile   string

	manifest *manifest.Manifest
}

func main() {
	cli := &rootCLI{out: os.Stdout, err: os.Stderr}
	if err := newRootCommand(cli).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand(cli *rootCLI) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "rootstack",
		Short:         "Exercise the rooted-value stack against a simulated runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cli.setup(cmd)
		},
	}
	cmd.SetOut(cli.out)
	cmd.SetErr(cli.err)

	flags := cmd.PersistentFlags()
	flags.StringVar(&cli.dir, "dir", ".", "Directory to search for rootstack.toml")
	flags.CountVarP(&cli.verbosity, "verbose", "v", "Increase log verbosity (repeatable)")
	flags.StringVar(&cli.logFile, "log-file", "", "Log to this file instead of stderr")

	cmd.AddCommand(
		newDemoCommand(cli),
		newDumpCommand(cli),
		newServeCommand(cli),
		newTraceCommand(cli),
		newInspectCommand(cli),
	)
	return cmd
}

// setup loads the manifest and configures logging. Flags override the
// manifest.
func (cli *rootCLI) setup(cmd *cobra.Command) error {
	m, err := manifest.FindAndLoad(cli.dir)
	if err != nil {
		return err
	}
	if m == nil {
		m = manifest.Default(cli.dir)
	}
	cli.manifest = m

	verbosity := m.Log.Verbosity
	if cmd.Flags().Changed("verbose") {
		verbosity = cli.verbosity
	}
	path := m.LogFilePath()
	if cli.logFile != "" {
		path = cli.logFile
	}
	if path != "" {
		commonlog.Configure(verbosity, &path)
	} else {
		commonlog.Configure(verbosity, nil)
	}
	log.Debugf("manifest dir %s, stack size %d, mode %s", m.Dir, m.Session.StackSize, m.Session.Mode)
	return nil
}
