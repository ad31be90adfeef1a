package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/daviddao/virtualoffice/pkg/model"
	"github.com/daviddao/virtualoffice/pkg/store"
)

func logCmd(g *globals) *cobra.Command {
	var (
		since int64
		limit int
		kind  string
	)
	cmd := &cobra.Command{
		Use:   "log",
		Short: "Query the append-only simulation log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(g, cmd, func(a *app) error {
				events, err := a.store.ListEvents(since, limit)
				if err != nil {
					return err
				}
				events = filterKind(events, kind)
				out := cmd.OutOrStdout()
				if g.jsonOut {
					printJSON(out, map[string]interface{}{"events": events, "count": len(events)})
					return nil
				}
				if len(events) == 0 {
					fmt.Fprintln(out, "no events")
					return nil
				}
				for _, e := range events {
					printEvent(out, e)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64Var(&since, "since", 0, "fetch events with tick >= this")
	cmd.Flags().IntVar(&limit, "limit", 50, "max events to return")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by event kind (tick, email, chat, plan, override, event, report, drop)")
	return cmd
}

func filterKind(events []model.Event, kind string) []model.Event {
	if kind == "" {
		return events
	}
	filtered := events[:0]
	for _, e := range events {
		if string(e.Kind) == kind {
			filtered = append(filtered, e)
		}
	}
	return filtered
}

func formatEvent(e model.Event) string {
	switch e.Kind {
	case model.EventEmail:
		return fmt.Sprintf("[t=%d] %s -> %s: %s", e.Tick, e.Actor, e.Target, e.Body)
	case model.EventChat:
		return fmt.Sprintf("[t=%d] %s => %s: %s", e.Tick, e.Actor, e.Target, e.Body)
	case model.EventTick:
		return fmt.Sprintf("[t=%d] tick %s", e.Tick, e.Body)
	case model.EventPlan:
		return fmt.Sprintf("[t=%d] %s %s plan: %s", e.Tick, e.Actor, e.Target, e.Body)
	case model.EventDrop:
		return fmt.Sprintf("[t=%d] %s dropped %s: %s", e.Tick, e.Actor, e.Target, e.Body)
	default:
		return fmt.Sprintf("[t=%d] %s %s %s %s", e.Tick, e.Kind, e.Actor, e.Target, e.Body)
	}
}

func printEvent(w io.Writer, e model.Event) {
	line := formatEvent(e)
	switch e.Kind {
	case model.EventDrop:
		line = errLabel(line)
	case model.EventSim, model.EventOverride:
		line = warnLabel(line)
	case model.EventTick:
		line = dimLabel(line)
	}
	fmt.Fprintln(w, line)
}

func watchCmd(g *globals) *cobra.Command {
	var (
		interval time.Duration
		kind     string
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream new log entries as they are written",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(g, cmd, func(a *app) error {
				sig := make(chan os.Signal, 1)
				signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
				defer signal.Stop(sig)

				fmt.Fprintf(cmd.ErrOrStderr(), "watching %s (poll every %s, ctrl-c to stop)\n", a.dbPath, interval)
				ticker := time.NewTicker(interval)
				defer ticker.Stop()

				cursor := a.store.MaxEventID()
				for {
					select {
					case <-sig:
						fmt.Fprintln(cmd.ErrOrStderr(), "\nstopped")
						return nil
					case <-cmd.Context().Done():
						return nil
					case <-ticker.C:
						var err error
						cursor, err = tail(a.store, cursor, kind, g.jsonOut, cmd.OutOrStdout())
						if err != nil {
							fmt.Fprintf(cmd.ErrOrStderr(), "vo: watch: %v\n", err)
						}
					}
				}
			})
		},
	}
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "poll interval")
	cmd.Flags().StringVar(&kind, "kind", "", "filter by event kind")
	return cmd
}

// tail prints events after cursor and returns the new cursor.
func tail(s store.StoreInterface, cursor int64, kind string, jsonOut bool, w io.Writer) (int64, error) {
	events, err := s.ListEventsSinceID(cursor, 200)
	if err != nil {
		return cursor, err
	}
	for _, e := range events {
		if e.ID > cursor {
			cursor = e.ID
		}
		if kind != "" && string(e.Kind) != kind {
			continue
		}
		if jsonOut {
			b, _ := json.Marshal(e)
			fmt.Fprintln(w, string(b))
		} else {
			printEvent(w, e)
		}
	}
	return cursor, nil
}
