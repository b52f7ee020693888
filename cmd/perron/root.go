package main

import (
	"github.com/fatih/color"
	"github.com/go-logr/logr"
	"github.com/spf13/cobra"

	"github.com/addityasingh/perron/internal/targets"
)

// globals holds state shared by every subcommand once the root's
// persistent flags have been parsed.
type globals struct {
	configPath string
	verbosity  int
	noColor    bool

	file *targets.File
	log  logr.Logger
}

func newRootCmd() *cobra.Command {
	g := &globals{log: logr.Discard()}

	root := &cobra.Command{
		Use:   "perron",
		Short: "Single-request HTTP timing with connection and read timeouts",
		Long: `perron executes HTTP requests one at a time and reports how long each
phase took: waiting for a socket, DNS, TCP connect, time to first byte and
download. Connection and read timeouts are enforced independently.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return g.init()
		},
	}

	root.PersistentFlags().StringVar(&g.configPath, "config", "", "YAML file with client defaults and named targets")
	root.PersistentFlags().CountVarP(&g.verbosity, "verbose", "v", "Log lifecycle events to stderr (repeat for more detail)")
	root.PersistentFlags().BoolVar(&g.noColor, "no-color", false, "Disable colored output")

	root.AddCommand(newGetCmd(g))
	root.AddCommand(newProbeCmd(g))
	root.AddCommand(newWatchCmd(g))
	root.AddCommand(newVersionCmd())
	return root
}

func (g *globals) init() error {
	if g.noColor {
		color.NoColor = true
	}

	if g.verbosity > 0 {
		log, err := newLogger(g.verbosity)
		if err != nil {
			return err
		}
		g.log = log
	}

	g.file = &targets.File{}
	if g.configPath != "" {
		f, err := targets.Load(g.configPath)
		if err != nil {
			return err
		}
		g.file = f
	}
	return nil
}
