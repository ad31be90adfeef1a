// Command vo drives the virtual office simulation: register personas,
// start a run, advance the clock and read back plans, mail and reports.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const (
	version       = "0.4.0"
	defaultConfig = "vo.yaml"
)

// globals are the persistent flags shared by every subcommand.
type globals struct {
	config  string
	db      string
	jsonOut bool

	logFormat string
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "vo:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	g := &globals{}
	root := &cobra.Command{
		Use:     "vo",
		Short:   "vo - virtual office simulator",
		Version: version,
		Long: `vo simulates a small team on a discrete clock. Each tick the planner
decides what every persona does next; the emails and chats it schedules are
delivered through local gateways and logged to SQLite.

Environment:
  VO_CONFIG   configuration file (default: vo.yaml, .toml also accepted)
  VO_DB       SQLite database path (default: from config)`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&g.config, "config", envOr("VO_CONFIG", defaultConfig), "configuration file")
	root.PersistentFlags().StringVar(&g.db, "db", envOr("VO_DB", ""), "database path (overrides config)")
	root.PersistentFlags().BoolVar(&g.jsonOut, "json", false, "JSON output")

	// Setup
	root.AddCommand(initCmd(g))
	root.AddCommand(personaCmd(g))

	// Lifecycle
	root.AddCommand(startCmd(g))
	root.AddCommand(stopCmd(g))
	root.AddCommand(advanceCmd(g))
	root.AddCommand(resetCmd(g))
	root.AddCommand(statusCmd(g))
	root.AddCommand(overrideCmd(g))
	root.AddCommand(eventCmd(g))

	// Inspection
	root.AddCommand(plansCmd(g))
	root.AddCommand(reportsCmd(g))
	root.AddCommand(logCmd(g))
	root.AddCommand(watchCmd(g))
	root.AddCommand(mailCmd(g))

	root.AddCommand(serveCmd(g))
	return root
}

// run opens the app for the duration of fn.
func run(g *globals, cmd *cobra.Command, fn func(a *app) error) error {
	a, err := newApp(g.config, g.db, g.logFormat, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
