package onesmart

import (
	"sync"
	"sync/atomic"
)

// notifier fans out topic notifications to subscribers.
//
// Delivery never blocks the loops: a subscriber whose buffer is full misses
// the notification and the drop is counted.
type notifier struct {
	mu      sync.RWMutex
	nextID  int
	subs    map[int]chan UpdateTopic
	dropped atomic.Uint64
}

func newNotifier() *notifier {
	return &notifier{subs: make(map[int]chan UpdateTopic)}
}

// subscribe registers a subscriber with the given buffer size.
func (n *notifier) subscribe(buffer int) (<-chan UpdateTopic, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan UpdateTopic, buffer)

	n.mu.Lock()
	id := n.nextID
	n.nextID++
	n.subs[id] = ch
	n.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if _, live := n.subs[id]; live {
				delete(n.subs, id)
				close(ch)
			}
		})
	}
	return ch, cancel
}

// fire delivers topic to every subscriber.
func (n *notifier) fire(topic UpdateTopic) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	for _, ch := range n.subs {
		select {
		case ch <- topic:
		default:
			n.dropped.Add(1)
		}
	}
}

// closeAll closes every subscriber channel.
func (n *notifier) closeAll() {
	n.mu.Lock()
	defer n.mu.Unlock()
	for id, ch := range n.subs {
		delete(n.subs, id)
		close(ch)
	}
}
