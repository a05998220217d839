// Package onesmarttest provides an in-memory gateway for tests of packages
// built on onesmart.
//
// A Transport answers every command synchronously from a Handler, so a
// real Wrapper can run Setup, its poll loop and its push loop without a
// network. Site is a mutable installation fixture whose Handle method
// serves as that Handler.
package onesmarttest

import (
	"context"
	"sync"
	"time"

	"github.com/nerrad567/onesmart-bridge/internal/onesmart"
)

// Handler answers one command. A non-nil failure becomes the response's
// error field.
type Handler func(cmd onesmart.Command, fields onesmart.Fields) (result, failure any)

// Transport is an onesmart.Transport backed by a Handler.
type Transport struct {
	handler Handler

	mu        sync.Mutex
	connected bool
	next      uint32
	replies   map[uint32]onesmart.Message
	events    []onesmart.Message
	stats     onesmart.SocketStats
}

var _ onesmart.Transport = (*Transport)(nil)

// NewTransport creates a disconnected transport.
func NewTransport(h Handler) *Transport {
	return &Transport{handler: h, replies: make(map[uint32]onesmart.Message)}
}

func (t *Transport) Connect(context.Context, string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = true
	t.replies = make(map[uint32]onesmart.Message)
	t.events = nil
	t.stats.Connects++
	t.stats.LastActivity = time.Now()
	return nil
}

func (t *Transport) Authenticate(username, _ string) (uint32, error) {
	return t.Send(onesmart.CmdAuthenticate, onesmart.Fields{onesmart.FieldUsername: username})
}

func (t *Transport) Send(cmd onesmart.Command, fields onesmart.Fields) (uint32, error) {
	return t.send(cmd, fields, false)
}

func (t *Transport) SendDetached(cmd onesmart.Command, fields onesmart.Fields) (uint32, error) {
	return t.send(cmd, fields, true)
}

func (t *Transport) send(cmd onesmart.Command, fields onesmart.Fields, detached bool) (uint32, error) {
	t.mu.Lock()
	if !t.connected {
		t.mu.Unlock()
		return 0, onesmart.ErrNotConnected
	}
	t.next++
	if t.next > 65535 {
		t.next = 1
	}
	id := t.next
	t.stats.MessagesTx++
	t.mu.Unlock()

	// The handler may lock the fixture, so it runs outside t.mu.
	result, failure := t.handler(cmd, fields)
	if detached {
		return id, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.replies[id] = onesmart.Message{
		Transaction:    id,
		HasTransaction: true,
		Result:         result,
		Error:          failure,
	}
	t.stats.MessagesRx++
	t.stats.LastActivity = time.Now()
	return id, nil
}

// PollResponses waits out wait when nothing is queued; answers are queued
// by Send itself.
func (t *Transport) PollResponses(wait time.Duration) error {
	t.mu.Lock()
	connected := t.connected
	idle := len(t.replies) == 0 && len(t.events) == 0
	t.mu.Unlock()

	if !connected {
		return onesmart.ErrNotConnected
	}
	if idle {
		time.Sleep(wait)
	}
	return nil
}

func (t *Transport) Transaction(id uint32) (onesmart.Message, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg, ok := t.replies[id]
	if ok {
		delete(t.replies, id)
	}
	return msg, ok
}

func (t *Transport) Abandon(id uint32) {
	t.mu.Lock()
	delete(t.replies, id)
	t.mu.Unlock()
}

// Push queues an event for the next Events call.
func (t *Transport) Push(event onesmart.EventType, data any) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, onesmart.Message{Event: event, Data: data})
	t.stats.EventsRx++
}

func (t *Transport) Events() []onesmart.Message {
	t.mu.Lock()
	defer t.mu.Unlock()
	events := t.events
	t.events = nil
	return events
}

func (t *Transport) IsConnected() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.connected
}

func (t *Transport) Stats() onesmart.SocketStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := t.stats
	s.Pending = len(t.replies)
	return s
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.connected = false
	return nil
}
