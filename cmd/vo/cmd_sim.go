package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/daviddao/virtualoffice/pkg/clock"
)

func startCmd(g *globals) *cobra.Command {
	var ids []int64
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the simulation (optionally with a subset of personas)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(g, cmd, func(a *app) error {
				if err := a.engine.Start(cmd.Context(), ids); err != nil {
					return err
				}
				active := a.engine.ActivePersonas()
				out := cmd.OutOrStdout()
				if g.jsonOut {
					printJSON(out, map[string]interface{}{"status": a.engine.Status(), "personas": active})
					return nil
				}
				st := a.engine.Status()
				fmt.Fprintf(out, "%s at tick %d (%s) with %d persona(s)\n",
					okLabel("running"), st.CurrentTick, st.SimTime, len(active))
				for _, p := range active {
					fmt.Fprintf(out, "  %-3d %s\n", p.ID, p.Name)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64SliceVar(&ids, "persona", nil, "persona id to include (repeatable, default: all)")
	return cmd
}

func stopCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the simulation and write the simulation report",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(g, cmd, func(a *app) error {
				report, err := a.engine.Stop(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.jsonOut {
					printJSON(out, report)
					return nil
				}
				fmt.Fprintf(out, "%s after %d tick(s)\n\n%s\n", warnLabel("stopped"), report.TotalTicks, report.Report)
				return nil
			})
		},
	}
}

func advanceCmd(g *globals) *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "advance <ticks>",
		Short: "Advance the clock by N ticks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("ticks must be an integer, got %q", args[0])
			}
			return run(g, cmd, func(a *app) error {
				res, err := a.engine.Advance(cmd.Context(), n, reason)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.jsonOut {
					printJSON(out, res)
					return nil
				}
				fmt.Fprintf(out, "tick %d -> %d (%s)\n", res.StartTick, res.CurrentTick, res.SimTime)
				fmt.Fprintf(out, "  emails=%d chats=%d plans=%d\n", res.EmailsSent, res.ChatsSent, res.PlansGenerated)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "reason recorded with the ticks (default: manual)")
	return cmd
}

func resetCmd(g *globals) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Return to tick 0 and clear every plan, report, message and event",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return fmt.Errorf("reset deletes all simulation data; pass --yes to confirm")
			}
			return run(g, cmd, func(a *app) error {
				if err := a.engine.Reset(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "simulation reset (personas kept)")
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm")
	return cmd
}

func statusCmd(g *globals) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show clock, personas, overrides and totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(g, cmd, func(a *app) error {
				st := a.engine.Status()
				overrides, err := a.engine.Overrides()
				if err != nil {
					return err
				}
				usage, err := a.engine.TokenUsage()
				if err != nil {
					return err
				}
				active := a.engine.ActivePersonas()
				out := cmd.OutOrStdout()
				if g.jsonOut {
					printJSON(out, map[string]interface{}{
						"status":      st,
						"personas":    active,
						"overrides":   overrides,
						"token_usage": usage,
						"emails":      a.store.CountEmails(),
						"chats":       a.store.CountChats(),
						"planner":     a.planner.Name(),
					})
					return nil
				}

				state := warnLabel("stopped")
				if st.IsRunning {
					state = okLabel("running")
				}
				tpd := a.engine.TicksPerDay()
				fmt.Fprintf(out, "simulation: %s  tick=%d  %s  (%d ticks/day)\n", state, st.CurrentTick, st.SimTime, tpd)
				if st.AutoTick {
					fmt.Fprintln(out, "auto-tick: on")
				}
				strict := ""
				if a.planner.Strict() {
					strict = " (strict)"
				}
				fmt.Fprintf(out, "planner: %s%s\n", a.planner.Name(), strict)
				if start, err := a.cfg.StartTime(); err == nil && st.CurrentTick > 0 {
					fmt.Fprintf(out, "sim date: %s\n", clock.SimDatetime(start, st.CurrentTick, tpd).Format("Mon 2006-01-02 15:04"))
				}

				fmt.Fprintf(out, "personas: %d active\n", len(active))
				byID := map[int64]string{}
				for _, p := range active {
					byID[p.ID] = p.Name
				}
				if len(overrides) > 0 {
					fmt.Fprintln(out, "overrides:")
					for _, o := range overrides {
						name := byID[o.WorkerID]
						if name == "" {
							name = fmt.Sprintf("#%d", o.WorkerID)
						}
						fmt.Fprintf(out, "  %-20s %-10s until tick %d  %s\n", name, errLabel(string(o.Status)), o.UntilTick, o.Reason)
					}
				} else {
					fmt.Fprintln(out, "overrides: none")
				}
				fmt.Fprintf(out, "mail: %s email(s), %s chat(s)\n",
					humanize.Comma(a.store.CountEmails()), humanize.Comma(a.store.CountChats()))
				for _, u := range usage {
					fmt.Fprintf(out, "tokens: %-20s %s\n", u.Model, humanize.Comma(u.Tokens))
				}
				return nil
			})
		},
	}
}
