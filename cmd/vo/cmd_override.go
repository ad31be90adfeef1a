package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/daviddao/virtualoffice/pkg/model"
)

func overrideCmd(g *globals) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "override",
		Short: "Force a persona unavailable, or clear it",
	}

	var until int64
	var reason string
	set := &cobra.Command{
		Use:   "set <persona-id> <Absent|Offline|SickLeave|OnLeave>",
		Short: "Suppress a persona until a tick",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			status := model.OverrideStatus(args[1])
			return run(g, cmd, func(a *app) error {
				if until <= 0 {
					until = a.engine.Status().CurrentTick + int64(a.engine.TicksPerDay())
				}
				if err := a.engine.SetStatusOverride(id, status, until, reason); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "persona %d is %s until tick %d\n", id, status, until)
				return nil
			})
		},
	}
	set.Flags().Int64Var(&until, "until", 0, "tick at which the override expires (default: one day from now)")
	set.Flags().StringVar(&reason, "reason", "", "reason shown in status")

	clearCmd := &cobra.Command{
		Use:   "clear <persona-id>",
		Short: "Remove a persona's override",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return run(g, cmd, func(a *app) error {
				if err := a.engine.ClearStatusOverride(id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "cleared override for persona %d\n", id)
				return nil
			})
		},
	}

	cmd.AddCommand(set, clearCmd)
	return cmd
}

func eventCmd(g *globals) *cobra.Command {
	var (
		targets []int64
		payload []string
		at      int64
	)
	cmd := &cobra.Command{
		Use:   "event <sick_leave|client_feature_request|custom>",
		Short: "Inject a simulation event",
		Long: `Inject an event and apply it immediately.

  vo event sick_leave --target 2 --payload duration_ticks=30
  vo event client_feature_request --target 1 --payload feature="CSV export"
  vo event custom --target 1 --target 2 --payload message="Offsite tomorrow"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kv, err := parsePayload(payload)
			if err != nil {
				return err
			}
			ev := model.SimEvent{Type: model.SimEventType(args[0]), TargetIDs: targets, AtTick: at, Payload: kv}
			return run(g, cmd, func(a *app) error {
				applied, err := a.engine.InjectEvent(ev)
				if err != nil {
					return err
				}
				if g.jsonOut {
					printJSON(cmd.OutOrStdout(), applied)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "applied %s (id=%d) at tick %d\n", applied.Type, applied.ID, applied.AtTick)
				return nil
			})
		},
	}
	cmd.Flags().Int64SliceVar(&targets, "target", nil, "target persona id (repeatable)")
	cmd.Flags().StringArrayVar(&payload, "payload", nil, "key=value payload entry (repeatable)")
	cmd.Flags().Int64Var(&at, "at", 0, "tick recorded on the event (default: now)")
	return cmd
}

// parsePayload turns key=value pairs into a map.
func parsePayload(pairs []string) (map[string]string, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("payload %q: want key=value", p)
		}
		out[k] = v
	}
	return out, nil
}
