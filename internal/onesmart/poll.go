package onesmart

import (
	"context"
	"errors"
	"fmt"
)

// fetchSpec describes how one flag is fetched and stored.
type fetchSpec struct {
	area UpdateTopic
	// store writes the result into the cache and reports what discovery
	// work the new data requires.
	store func(c *Cache, res Result) (refresh, error)
}

// refresh is the discovery work implied by a fetched entry.
type refresh int

const (
	refreshNone refresh = iota
	refreshDefinitions
	refreshDevices
)

// fetchers maps each refreshable cache key to its fetch.
var fetchers = map[CacheKey]fetchSpec{
	KeySite: {
		area: UpdateDefinitions,
		store: func(c *Cache, res Result) (refresh, error) {
			site, ok := res.Value().(map[string]any)
			if !ok {
				return refreshNone, fmt.Errorf("%w: site is %T", ErrUnexpectedResult, res.Value())
			}
			c.put(KeySite, site)
			c.putSiteUpdate(site)
			return refreshDefinitions, nil
		},
	},
	KeyMeters: {
		area: UpdateDefinitions,
		store: func(c *Cache, res Result) (refresh, error) {
			meters, err := listField(res, FieldMeters)
			if err != nil {
				return refreshNone, err
			}
			c.put(KeyMeters, meters)
			return refreshDefinitions, nil
		},
	},
	KeyDevices: {
		area: UpdateDefinitions,
		store: func(c *Cache, res Result) (refresh, error) {
			devices, err := listField(res, FieldDevices)
			if err != nil {
				return refreshNone, err
			}
			c.put(KeyDevices, indexByID(devices))
			return refreshDevices, nil
		},
	},
	KeyRooms: {
		area: UpdateDefinitions,
		store: func(c *Cache, res Result) (refresh, error) {
			rooms, err := listField(res, FieldRooms)
			if err != nil {
				return refreshNone, err
			}
			c.put(KeyRooms, indexByID(rooms))
			return refreshDefinitions, nil
		},
	},
	KeyPresets: {
		area: UpdatePreset,
		store: func(c *Cache, res Result) (refresh, error) {
			presets, err := listField(res, FieldPresets)
			if err != nil {
				return refreshNone, err
			}
			c.put(KeyPresets, indexByID(presets))
			return refreshDefinitions, nil
		},
	},
	KeyEnergyTotal: {
		area: UpdatePoll,
		store: func(c *Cache, res Result) (refresh, error) {
			values, err := listField(res, FieldValues)
			if err != nil {
				return refreshNone, err
			}
			c.put(KeyEnergyTotal, readingsByID(values))
			return refreshNone, nil
		},
	},
	KeyApparatus: {
		area: UpdateApparatus,
	},
}

// listField returns a list-valued field of a mapping result.
func listField(res Result, name string) ([]any, error) {
	v, ok := res.Field(name)
	if !ok {
		return nil, fmt.Errorf("%w: %s result has no %q", ErrUnexpectedResult, res.Command, name)
	}
	list, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("%w: %s %q is %T", ErrUnexpectedResult, res.Command, name, v)
	}
	return list, nil
}

// indexByID turns a list of records into a mapping keyed by record id.
func indexByID(list []any) map[string]any {
	out := make(map[string]any, len(list))
	for _, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if id := idString(m[FieldID]); id != "" {
			out[id] = m
		}
	}
	return out
}

// readingsByID turns [{id, value}] into a mapping of id to decoded value.
func readingsByID(list []any) map[string]any {
	out := make(map[string]any, len(list))
	for _, v := range list {
		m, ok := v.(map[string]any)
		if !ok {
			continue
		}
		if id := idString(m[FieldID]); id != "" {
			out[id] = DecodeDouble(m[FieldValue])
		}
	}
	return out
}

// HandleUpdateFlags fetches every queued flag on the poll channel.
//
// Flags are handled in FIFO order, duplicates included. Each affected
// notification topic fires once after all flags are handled. A fetch that
// fails is logged and skipped; it is not re-queued. With no flags queued
// the call changes nothing and fires nothing.
//
// Called by the poll loop. Not safe to call concurrently with it.
//
// Returns:
//   - error: Joined fetch failures, nil if all succeeded
func (w *Wrapper) HandleUpdateFlags(ctx context.Context) error {
	flags := w.flags.drain()
	if len(flags) == 0 {
		return nil
	}

	var (
		errs   []error
		topics []UpdateTopic
		work   = refreshNone
	)
	fired := make(map[UpdateTopic]bool)

	for _, flag := range flags {
		spec, ok := fetchers[flag.Key()]
		if !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrInvalidFlag, flag))
			continue
		}

		var err error
		if flag.Key() == KeyApparatus {
			err = w.refreshApparatus(ctx, flag.DeviceID)
		} else {
			var need refresh
			need, err = w.fetch(ctx, flag, spec)
			work = max(work, need)
		}
		if err != nil {
			w.log().Warn("cache refresh failed", "flag", flag.String(), "error", err)
			errs = append(errs, err)
			continue
		}
		if !fired[spec.area] {
			fired[spec.area] = true
			topics = append(topics, spec.area)
		}
	}

	switch work {
	case refreshDevices:
		w.rediscover(ctx)
	case refreshDefinitions:
		w.discovery.Store(w.discovery.Load().Redefine(w.cache))
	}

	for _, topic := range topics {
		w.notify.fire(topic)
	}
	return errors.Join(errs...)
}

func (w *Wrapper) fetch(ctx context.Context, flag UpdateFlag, spec fetchSpec) (refresh, error) {
	res := w.poll.CommandWait(ctx, flag.Command, Fields{FieldAction: flag.Action})
	if !res.OK() {
		return refreshNone, fmt.Errorf("fetching %s: %s: %w", flag, res.Status, res.Err)
	}
	return spec.store(w.cache, res)
}

// rediscover runs a full discovery on the poll channel and swaps it in.
func (w *Wrapper) rediscover(ctx context.Context) {
	d := Discover(ctx, w.poll, w.cache, w.log())
	w.discovery.Store(d)
	w.log().Info("device discovery complete",
		"devices", len(d.Devices()),
		"descriptors", d.Len(),
		"failed", len(d.Failed()),
	)
}

// refreshApparatus fetches the whole poll schedule of one device, or of
// every device when deviceID is empty, in batches of MaxApparatusPoll.
func (w *Wrapper) refreshApparatus(ctx context.Context, deviceID string) error {
	d := w.discovery.Load()
	devices := []string{deviceID}
	if deviceID == "" {
		devices = d.Devices()
	}

	n := w.cfg.Timing.MaxApparatusPoll
	var errs []error
	for _, id := range devices {
		names := d.Schedule(id)
		if len(names) == 0 {
			errs = append(errs, fmt.Errorf("%w: device %s has no polled attributes", ErrInvalidFlag, id))
			continue
		}
		for start := 0; start < len(names); start += n {
			batch := names[start:min(start+n, len(names))]
			if err := w.fetchAttributes(ctx, d, id, batch); err != nil {
				errs = append(errs, err)
				break
			}
		}
	}
	return errors.Join(errs...)
}

// PollApparatus fetches the next attribute batch of every scheduled
// device. The apparatus notification fires once every device has
// completed a full pass over its attributes.
//
// Called by the poll loop. Not safe to call concurrently with it.
func (w *Wrapper) PollApparatus(ctx context.Context) {
	d := w.discovery.Load()
	for _, id := range d.Devices() {
		if ctx.Err() != nil {
			return
		}
		batch, _ := w.cursors.next(d, id, w.cfg.Timing.MaxApparatusPoll)
		if len(batch) == 0 {
			continue
		}
		if err := w.fetchAttributes(ctx, d, id, batch); err != nil {
			w.log().Debug("apparatus poll skipped", "device_id", id, "error", err)
		}
	}
	if w.cursors.cycleComplete(d) {
		w.notify.fire(UpdateApparatus)
	}
}

// fetchAttributes reads one batch of attributes and merges it into the
// cache.
func (w *Wrapper) fetchAttributes(ctx context.Context, d *Discovery, deviceID string, names []string) error {
	res := w.poll.CommandWait(ctx, CmdApparatus, Fields{
		FieldAction:     ActionGet,
		FieldID:         d.wireID(deviceID),
		FieldAttributes: names,
	})
	if !res.OK() {
		return fmt.Errorf("polling %s %v: %s: %w", deviceID, names, res.Status, res.Err)
	}
	if gwErr, ok := res.Field(FieldError); ok && gwErr != nil {
		w.log().Debug("apparatus poll partially failed", "device_id", deviceID, "error", gwErr)
	}

	raw, _ := res.Field(FieldAttributes)
	attrs, ok := raw.(map[string]any)
	if !ok {
		return fmt.Errorf("%w: apparatus attributes are %T", ErrUnexpectedResult, raw)
	}
	w.cache.mergeApparatus(deviceID, decodeAttributes(attrs))
	return nil
}

// enqueueDue queues the definition and cache flags whose interval elapsed.
func (w *Wrapper) enqueueDue() {
	now := w.now()
	if now.Sub(w.lastDefinitions) >= w.cfg.Timing.DefinitionsInterval {
		w.lastDefinitions = now
		w.flags.push(definitionFlags...)
	}
	if now.Sub(w.lastCache) >= w.cfg.Timing.CacheInterval {
		w.lastCache = now
		w.flags.push(cacheFlags...)
	}
}

// pollLoop owns the poll channel until ctx is done.
func (w *Wrapper) pollLoop(ctx context.Context) error {
	for ctx.Err() == nil {
		w.iterate(ChannelPoll, func() { w.pollCycle(ctx) })
		sleep(ctx, w.cfg.Timing.LoopDelay)
	}
	return ctx.Err()
}

func (w *Wrapper) pollCycle(ctx context.Context) {
	if !w.poll.EnsureConnected(ctx) {
		return
	}

	w.enqueueDue()
	if err := w.HandleUpdateFlags(ctx); err != nil {
		w.log().Debug("update flags incomplete", "error", err)
	}
	w.PollApparatus(ctx)

	if n := w.outbound[ChannelPoll].flush(w.poll); n > 0 {
		w.log().Debug("flushed queued commands", "channel", ChannelPoll, "count", n)
	}
	if stray := w.poll.socket.Events(); len(stray) > 0 {
		w.log().Debug("discarded events on poll channel", "count", len(stray))
	}
	w.poll.prune()
}
