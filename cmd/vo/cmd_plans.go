package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/daviddao/virtualoffice/pkg/model"
)

func plansCmd(g *globals) *cobra.Command {
	var (
		daily    bool
		from, to int64
		limit    int
	)
	cmd := &cobra.Command{
		Use:   "plans <persona-id>",
		Short: "Show a persona's hourly (or daily) plans",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			planType := model.PlanHourly
			if daily {
				planType = model.PlanDaily
			}
			return run(g, cmd, func(a *app) error {
				plans, err := a.store.ListWorkerPlans(id, planType, from, to, limit)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if g.jsonOut {
					printJSON(out, map[string]interface{}{"plans": plans, "count": len(plans)})
					return nil
				}
				if len(plans) == 0 {
					fmt.Fprintln(out, "no plans")
					return nil
				}
				for _, p := range plans {
					label := fmt.Sprintf("tick %d", p.Tick)
					if p.PlanType == model.PlanDaily {
						label = fmt.Sprintf("day %d", p.Tick+1)
					}
					fmt.Fprintf(out, "== %s %s %s\n%s\n\n", headLabel(label), dimLabel(p.Model), dimLabel(humanize.Time(p.CreatedAt)), p.Content)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&daily, "daily", false, "show daily plans (keyed by day index)")
	cmd.Flags().Int64Var(&from, "from", 0, "first tick (or day index)")
	cmd.Flags().Int64Var(&to, "to", -1, "last tick (or day index), inclusive")
	cmd.Flags().IntVar(&limit, "limit", 20, "max plans")
	return cmd
}

func reportsCmd(g *globals) *cobra.Command {
	var (
		day        int64
		simulation bool
		hourly     bool
		limit      int
	)
	cmd := &cobra.Command{
		Use:   "reports [persona-id]",
		Short: "Show daily reports, hourly summaries or simulation reports",
		Long: `Without flags, lists the persona's stored daily reports.
  --day N         generate (once) and print the report for day index N
  --hourly        list hourly summaries instead
  --simulation    list end-of-run simulation reports (no persona needed)`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(g, cmd, func(a *app) error {
				out := cmd.OutOrStdout()
				if simulation {
					reports, err := a.store.ListSimulationReports(limit)
					if err != nil {
						return err
					}
					if g.jsonOut {
						printJSON(out, reports)
						return nil
					}
					for _, r := range reports {
						fmt.Fprintf(out, "== %s after %d tick(s) %s\n%s\n\n",
							headLabel(fmt.Sprintf("report #%d", r.ID)), r.TotalTicks, dimLabel(humanize.Time(r.CreatedAt)), r.Report)
					}
					return nil
				}

				if len(args) == 0 {
					return fmt.Errorf("persona id required (or pass --simulation)")
				}
				id, err := parseID(args[0])
				if err != nil {
					return err
				}

				switch {
				case cmd.Flags().Changed("day"):
					r, err := a.engine.EnsureDailyReport(cmd.Context(), id, day)
					if err != nil {
						return err
					}
					if g.jsonOut {
						printJSON(out, r)
						return nil
					}
					printDailyReport(cmd, *r)
				case hourly:
					sums, err := a.store.ListHourlySummaries(id, 0, 1<<31)
					if err != nil {
						return err
					}
					if g.jsonOut {
						printJSON(out, sums)
						return nil
					}
					for _, h := range sums {
						fmt.Fprintf(out, "[hour %d] %s\n", h.HourIndex, h.Summary)
					}
				default:
					reports, err := a.store.ListDailyReports(id, limit)
					if err != nil {
						return err
					}
					if g.jsonOut {
						printJSON(out, reports)
						return nil
					}
					if len(reports) == 0 {
						fmt.Fprintln(out, "no reports")
					}
					for _, r := range reports {
						printDailyReport(cmd, r)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&day, "day", 0, "day index to generate")
	cmd.Flags().BoolVar(&hourly, "hourly", false, "list hourly summaries")
	cmd.Flags().BoolVar(&simulation, "simulation", false, "list simulation reports")
	cmd.Flags().IntVar(&limit, "limit", 10, "max reports")
	return cmd
}

func printDailyReport(cmd *cobra.Command, r model.DailyReport) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "== %s %s\n", headLabel(fmt.Sprintf("day %d", r.DayIndex+1)), dimLabel(r.Model))
	if r.ScheduleOutline != "" {
		fmt.Fprintf(out, "schedule: %s\n", r.ScheduleOutline)
	}
	fmt.Fprintf(out, "%s\n\n", r.Report)
}
