package engine

import (
	"context"
	"time"
)

// StartAutoTicks advances one tick per AutoTickInterval in the background
// until StopAutoTicks, Stop or Reset. Any advance failure disables the
// loop. Calling it while the loop runs is a no-op.
func (e *Engine) StartAutoTicks() error {
	if !e.isRunning() {
		return ErrNotRunning
	}
	e.autoMu.Lock()
	if e.autoStop != nil {
		e.autoMu.Unlock()
		return nil
	}
	stop, done := make(chan struct{}), make(chan struct{})
	e.autoStop, e.autoDone = stop, done
	e.autoMu.Unlock()

	e.setAuto(true)
	go e.autoLoop(stop, done)
	e.log.Info().Dur("interval", e.opts.AutoTickInterval).Msg("auto tick enabled")
	return nil
}

// StopAutoTicks stops the loop and waits a bounded time for an in-flight
// tick to finish.
func (e *Engine) StopAutoTicks() {
	e.autoMu.Lock()
	stop, done := e.autoStop, e.autoDone
	e.autoStop, e.autoDone = nil, nil
	e.autoMu.Unlock()
	if stop == nil {
		return
	}
	close(stop)

	wait := 2*e.opts.AutoTickInterval + 5*time.Second
	select {
	case <-done:
	case <-time.After(wait):
		e.log.Warn().Dur("waited", wait).Msg("auto tick still busy, not waiting further")
	}
	e.setAuto(false)
	e.log.Info().Msg("auto tick disabled")
}

func (e *Engine) autoLoop(stop, done chan struct{}) {
	defer close(done)
	t := time.NewTicker(e.opts.AutoTickInterval)
	defer t.Stop()
	for {
		select {
		case <-stop:
			return
		case <-t.C:
		}
		select {
		case <-stop:
			return
		default:
		}
		if _, err := e.Advance(context.Background(), 1, ReasonAuto); err != nil {
			e.log.Error().Err(err).Msg("auto tick failed, disabling")
			e.autoMu.Lock()
			if e.autoStop == stop {
				e.autoStop, e.autoDone = nil, nil
			}
			e.autoMu.Unlock()
			e.setAuto(false)
			return
		}
	}
}

func (e *Engine) setAuto(on bool) {
	e.mu.Lock()
	e.auto = on
	e.mu.Unlock()
	if err := e.saveState(); err != nil {
		e.log.Warn().Err(err).Msg("persist auto tick flag")
	}
}
