package onesmart

import (
	"fmt"
	"sync"
)

const defaultQueueSize = 256

type queuedCommand struct {
	cmd    Command
	fields Fields
}

// outboundQueue holds commands issued while their channel was down.
type outboundQueue struct {
	mu    sync.Mutex
	items []queuedCommand
	max   int
}

func newOutboundQueue(max int) *outboundQueue {
	if max <= 0 {
		max = defaultQueueSize
	}
	return &outboundQueue{max: max}
}

func (q *outboundQueue) push(cmd Command, fields Fields) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.max {
		return fmt.Errorf("%w: %d commands pending", ErrQueueFull, len(q.items))
	}
	q.items = append(q.items, queuedCommand{cmd: cmd, fields: fields})
	return nil
}

func (q *outboundQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// flush sends queued commands in order on a ready channel. A command is
// removed from the queue before it is written and put back at the head if
// the write fails, so each command is sent once.
//
// Returns:
//   - int: Number of commands sent
func (q *outboundQueue) flush(s *supervisor) int {
	sent := 0
	for s.Ready() {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			break
		}
		item := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		id, err := s.socket.SendDetached(item.cmd, item.fields)
		if err != nil {
			q.mu.Lock()
			q.items = append([]queuedCommand{item}, q.items...)
			q.mu.Unlock()
			s.log().Warn("queued command send failed", "channel", s.channel, "command", item.cmd, "error", err)
			s.drop()
			break
		}
		sent++
		s.log().Debug("queued command sent", "channel", s.channel, "command", item.cmd, "transaction", id)
	}
	return sent
}
