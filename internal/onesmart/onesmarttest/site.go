package onesmarttest

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/onesmart-bridge/internal/onesmart"
)

// Site is an installation served by Handle. Values must be typed the way
// the gateway decoder produces them: int64 for integers, float64 for reals.
// Change a running fixture through its setters only.
type Site struct {
	mu sync.Mutex

	Info    map[string]any
	Meters  []any
	Devices []any
	Rooms   []any
	Presets []any
	// Energy is the energy/total reading list.
	Energy []any
	// Attributes and Values are keyed by device id.
	Attributes map[string][]any
	Values     map[string]map[string]any
}

// SetValue changes one apparatus attribute.
func (s *Site) SetValue(deviceID, name string, v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	next := maps.Clone(s.Values[deviceID])
	if next == nil {
		next = make(map[string]any)
	}
	next[name] = v
	if s.Values == nil {
		s.Values = make(map[string]map[string]any)
	}
	s.Values[deviceID] = next
}

// SetDevices replaces the device list.
func (s *Site) SetDevices(devices []any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Devices = devices
}

// Handle answers cmd the way the gateway would for this site.
func (s *Site) Handle(cmd onesmart.Command, fields onesmart.Fields) (any, any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	action, _ := fields[onesmart.FieldAction].(onesmart.Action) //nolint:errcheck // absent for authenticate and ping
	switch cmd {
	case onesmart.CmdAuthenticate, onesmart.CmdEvents, onesmart.CmdPing, onesmart.CmdSitePreset:
		return map[string]any{}, nil
	case onesmart.CmdSite:
		return s.Info, nil
	case onesmart.CmdMeter:
		return map[string]any{onesmart.FieldMeters: s.Meters}, nil
	case onesmart.CmdDevice:
		return map[string]any{onesmart.FieldDevices: s.Devices}, nil
	case onesmart.CmdRoom:
		return map[string]any{onesmart.FieldRooms: s.Rooms}, nil
	case onesmart.CmdPreset:
		if action == onesmart.ActionPerform {
			return map[string]any{}, nil
		}
		return map[string]any{onesmart.FieldPresets: s.Presets}, nil
	case onesmart.CmdEnergy:
		return map[string]any{onesmart.FieldValues: s.Energy}, nil
	case onesmart.CmdApparatus:
		return s.apparatus(action, fields)
	default:
		return nil, "unknown command"
	}
}

func (s *Site) apparatus(action onesmart.Action, fields onesmart.Fields) (any, any) {
	id := fmt.Sprint(fields[onesmart.FieldID])
	switch action {
	case onesmart.ActionList:
		attrs, ok := s.Attributes[id]
		if !ok {
			return nil, "unknown device"
		}
		return map[string]any{onesmart.FieldAttributes: attrs}, nil
	case onesmart.ActionGet:
		names, _ := fields[onesmart.FieldAttributes].([]string) //nolint:errcheck // nil selects nothing
		values := make(map[string]any, len(names))
		for _, name := range names {
			if v, ok := s.Values[id][name]; ok {
				values[name] = v
			}
		}
		return map[string]any{onesmart.FieldAttributes: values}, nil
	default:
		return map[string]any{}, nil
	}
}

// Timing is fast enough for tests and never pings or re-fetches
// definitions on its own.
func Timing() onesmart.Timing {
	return onesmart.Timing{
		ConnectTimeout:      time.Second,
		AuthTimeout:         time.Second,
		CommandTimeout:      time.Second,
		ReconnectDelay:      10 * time.Millisecond,
		ReconnectRetries:    2,
		PingInterval:        time.Hour,
		DefinitionsInterval: time.Hour,
		CacheInterval:       time.Hour,
		MaxApparatusPoll:    4,
		ReceiveWait:         5 * time.Millisecond,
		LoopDelay:           5 * time.Millisecond,
		CommandPoll:         time.Millisecond,
	}
}

// NewWrapper returns a wrapper that has completed Setup against site and
// fetched every discovered device's attributes. The loops are not
// started. The returned transport carries the push channel, so events
// queued on it reach the push loop once the wrapper is started.
func NewWrapper(t testing.TB, site *Site) (*onesmart.Wrapper, *Transport) {
	t.Helper()

	push := NewTransport(site.Handle)
	w := onesmart.New(onesmart.Config{
		Address:  "onesmarttest",
		Username: "test",
		Password: "test",
		Timing:   Timing(),
	}, onesmart.WithTransports(push, NewTransport(site.Handle)))
	t.Cleanup(func() { w.Close() }) //nolint:errcheck // test cleanup

	ctx := context.Background()
	if _, err := w.Setup(ctx); err != nil {
		t.Fatalf("Setup() error = %v", err)
	}
	if err := w.SetUpdateFlag(onesmart.ApparatusFlag("")); err != nil {
		t.Fatalf("SetUpdateFlag() error = %v", err)
	}
	if err := w.HandleUpdateFlags(ctx); err != nil {
		t.Fatalf("HandleUpdateFlags() error = %v", err)
	}
	return w, push
}

// WaitFor polls cond until it holds, failing the test after two seconds.
func WaitFor(t testing.TB, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
