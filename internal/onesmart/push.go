package onesmart

import (
	"context"
	"errors"
)

// handleEvents applies pushed events to the cache.
//
// The push notification fires once when at least one event was drained.
//
// Returns:
//   - int: Number of events applied
func (w *Wrapper) handleEvents(events []Message) int {
	if len(events) == 0 {
		return 0
	}

	applied := 0
	for _, ev := range events {
		if w.applyEvent(ev) {
			applied++
		}
	}
	w.eventsHandled.Add(uint64(len(events)))
	w.notify.fire(UpdatePush)
	return applied
}

func (w *Wrapper) applyEvent(ev Message) bool {
	data, _ := ev.Data.(map[string]any)

	switch ev.Event {
	case EventEnergyConsumption:
		values, _ := data[FieldValues].([]any)
		readings := readingsByID(values)
		if len(readings) == 0 {
			return false
		}
		if !w.cache.mergeMeterPower(readings) {
			w.log().Debug("power readings dropped, meters not loaded", "count", len(readings))
			return false
		}
		return true

	case EventSiteUpdate:
		if data == nil {
			return false
		}
		w.cache.putSiteUpdate(data)
		return true

	case EventPresetPerform:
		id := idString(data[FieldID])
		if id == "" {
			return false
		}
		if !w.cache.markPresetActive(id) {
			w.log().Debug("performed preset not cached", "preset", id)
		}
		w.flags.push(UpdateFlag{Command: CmdPreset, Action: ActionList})
		return true

	default:
		w.log().Debug("gateway event ignored", "event", ev.Event)
		return false
	}
}

// pushLoop owns the push channel until ctx is done.
func (w *Wrapper) pushLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		w.iterate(ChannelPush, func() { w.pushCycle(ctx) })
	}
	return ctx.Err()
}

func (w *Wrapper) pushCycle(ctx context.Context) {
	if !w.push.EnsureConnected(ctx) {
		sleep(ctx, w.cfg.Timing.LoopDelay)
		return
	}

	select {
	case req := <-w.subscribeReqs:
		req.reply <- w.subscribe(req.ctx, req.topics)
	default:
	}

	if err := w.push.socket.PollResponses(w.cfg.Timing.ReceiveWait); err != nil {
		if !errors.Is(err, ErrNotConnected) {
			w.log().Warn("push channel read failed", "error", err)
		}
		w.push.drop()
	}

	w.handleEvents(w.push.socket.Events())

	if n := w.outbound[ChannelPush].flush(w.push); n > 0 {
		w.log().Debug("flushed queued commands", "channel", ChannelPush, "count", n)
	}
	w.push.prune()
}
