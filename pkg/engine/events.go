package engine

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/daviddao/virtualoffice/pkg/clock"
	"github.com/daviddao/virtualoffice/pkg/dispatch"
	"github.com/daviddao/virtualoffice/pkg/model"
)

// ErrInvalidEvent is returned for injected events that cannot be applied.
var ErrInvalidEvent = errors.New("invalid event")

var clientFeatures = []string{
	"CSV export",
	"single sign-on",
	"audit log",
	"dark mode",
	"usage dashboard",
	"mobile layout",
}

// generateEvents rolls the seeded random generator. Sick leave is rolled
// per persona on the first tick of a day, client requests once at midday.
func (e *Engine) generateEvents(tick int64) error {
	tpd := e.opts.TicksPerDay
	people := e.sortedActive()
	if len(people) == 0 {
		return nil
	}
	tod := clock.TickOfDay(tick, tpd)

	if tod == 0 && e.opts.SickLeaveProbability > 0 {
		for _, p := range people {
			if e.rng.Float64() >= e.opts.SickLeaveProbability {
				continue
			}
			if _, ok := e.override(p.ID); ok {
				continue
			}
			ev := model.SimEvent{Type: model.SimEventSickLeave, TargetIDs: []int64{p.ID}, AtTick: tick,
				Payload: map[string]string{"source": "random"}}
			if err := e.applyEvent(tick, &ev); err != nil {
				return err
			}
		}
	}

	if tpd >= 2 && tod == int64(tpd/2) && e.opts.ClientRequestProbability > 0 {
		if e.rng.Float64() < e.opts.ClientRequestProbability {
			feature := clientFeatures[e.rng.Intn(len(clientFeatures))]
			target := people[0]
			for _, p := range people {
				if p.IsDepartmentHead {
					target = p
					break
				}
			}
			ev := model.SimEvent{Type: model.SimEventClientRequest, TargetIDs: []int64{target.ID}, AtTick: tick,
				Payload: map[string]string{"feature": feature, "source": "random"}}
			if err := e.applyEvent(tick, &ev); err != nil {
				return err
			}
		}
	}
	return nil
}

// InjectEvent applies ev immediately. AtTick defaults to the current tick.
func (e *Engine) InjectEvent(ev model.SimEvent) (*model.SimEvent, error) {
	e.advanceMu.Lock()
	defer e.advanceMu.Unlock()

	if len(ev.TargetIDs) == 0 {
		return nil, fmt.Errorf("%w: no targets", ErrInvalidEvent)
	}
	for _, id := range ev.TargetIDs {
		if _, err := e.store.GetPersona(id); err != nil {
			return nil, err
		}
	}
	switch ev.Type {
	case model.SimEventSickLeave, model.SimEventClientRequest, model.SimEventCustom:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
	tick := e.currentTick()
	if ev.AtTick == 0 {
		ev.AtTick = tick
	}
	if err := e.applyEvent(tick, &ev); err != nil {
		return nil, err
	}
	return &ev, nil
}

func (e *Engine) applyEvent(tick int64, ev *model.SimEvent) error {
	tpd := e.opts.TicksPerDay
	var names []string
	for _, id := range ev.TargetIDs {
		names = append(names, e.personaName(id))
	}

	var summary string
	switch ev.Type {
	case model.SimEventSickLeave:
		until := (clock.DayIndex(tick, tpd)+1)*int64(tpd) + 1
		if d, err := strconv.ParseInt(ev.Payload["duration_ticks"], 10, 64); err == nil && d > 0 {
			until = tick + d
		}
		for _, id := range ev.TargetIDs {
			err := e.setOverride(model.StatusOverride{WorkerID: id, Status: model.StatusSickLeave,
				UntilTick: until, Reason: "Sick leave"})
			if err != nil {
				return err
			}
			e.addAdjustment(id, "Recover from sick leave and hand off anything urgent")
			if p := e.roster.ByID(id); p != nil {
				for _, c := range dispatch.Collaborators(p, e.roster) {
					e.addAdjustment(c.ID, fmt.Sprintf("%s is out sick; cover their urgent work", p.Name))
				}
			}
		}
		summary = fmt.Sprintf("sick leave until tick %d", until)

	case model.SimEventClientRequest:
		feature := ev.Payload["feature"]
		if feature == "" {
			feature = "a new feature"
		}
		for _, id := range ev.TargetIDs {
			err := e.enqueue(model.InboundMessage{
				RecipientID: id,
				SenderName:  "Client",
				Subject:     "Client request: " + feature,
				Summary:     "The client asked for " + feature,
				ActionItem:  "Scope " + feature,
				MessageType: model.MessageEvent,
				Channel:     model.ChannelEmail,
				Tick:        tick,
			})
			if err != nil {
				return err
			}
			if p := e.roster.ByID(id); p != nil {
				for _, c := range dispatch.Collaborators(p, e.roster) {
					e.addAdjustment(c.ID, fmt.Sprintf("Support %s on the client request for %s", p.Name, feature))
				}
			}
		}
		summary = "client requested " + feature

	case model.SimEventCustom:
		msg := strings.TrimSpace(ev.Payload["message"])
		if msg == "" {
			return fmt.Errorf("%w: custom event needs a message", ErrInvalidEvent)
		}
		for _, id := range ev.TargetIDs {
			e.addAdjustment(id, msg)
		}
		summary = msg

	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}

	stored, err := e.store.InsertSimEvent(ev)
	if err != nil {
		return fmt.Errorf("store event: %w", err)
	}
	ev.ID = stored.ID
	simEvents.WithLabelValues(string(ev.Type)).Inc()
	e.record(tick, model.EventSim, string(ev.Type), strings.Join(names, ", "), summary)
	e.log.Info().Str("type", string(ev.Type)).Strs("targets", names).Int64("tick", tick).Msg(summary)
	return nil
}
