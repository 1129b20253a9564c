// Package notify fans "new data available" signals out to live listeners.
package notify

import (
	"sync"
	"sync/atomic"
)

const (
	TypeMetricsUpdate = "metrics_update"
	TypeConnected     = "connected"
)

type Message struct {
	Type string `json:"type"`
}

// Notifier is a registry of subscribers. Publish never blocks: a subscriber
// whose buffer is full misses that message but stays registered.
type Notifier struct {
	mu         sync.RWMutex
	subs       map[uint64]*Subscription
	nextID     uint64
	bufferSize int

	published atomic.Uint64
	dropped   atomic.Uint64
	onPublish []func(Message)
}

func New(bufferSize int) *Notifier {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Notifier{
		subs:       map[uint64]*Subscription{},
		bufferSize: bufferSize,
	}
}

// Subscription is one listener. Messages arrive on C in publish order.
type Subscription struct {
	id    uint64
	ch    chan Message
	n     *Notifier
	close sync.Once
}

func (s *Subscription) C() <-chan Message { return s.ch }

// Close unregisters the subscription and closes its channel. It is safe to
// call more than once.
func (s *Subscription) Close() {
	s.close.Do(func() {
		s.n.mu.Lock()
		delete(s.n.subs, s.id)
		s.n.mu.Unlock()
		close(s.ch)
	})
}

func (n *Notifier) Subscribe() *Subscription {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.nextID++
	sub := &Subscription{
		id: n.nextID,
		ch: make(chan Message, n.bufferSize),
		n:  n,
	}
	n.subs[sub.id] = sub
	return sub
}

// Publish delivers msg to every current subscriber and runs the publish hooks.
func (n *Notifier) Publish(msg Message) {
	n.Deliver(msg)

	n.mu.RLock()
	hooks := n.onPublish
	n.mu.RUnlock()
	for _, h := range hooks {
		h(msg)
	}
}

// Deliver hands msg to local subscribers only. Remote bridges use it so a
// forwarded message is not forwarded again.
func (n *Notifier) Deliver(msg Message) {
	n.mu.RLock()
	defer n.mu.RUnlock()

	n.published.Add(1)
	for _, sub := range n.subs {
		select {
		case sub.ch <- msg:
		default:
			n.dropped.Add(1)
		}
	}
}

// OnPublish registers a hook called after every Publish.
func (n *Notifier) OnPublish(fn func(Message)) {
	n.mu.Lock()
	n.onPublish = append(n.onPublish, fn)
	n.mu.Unlock()
}

func (n *Notifier) Subscribers() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.subs)
}

func (n *Notifier) Published() uint64 { return n.published.Load() }

// Dropped counts deliveries skipped because a subscriber's buffer was full.
func (n *Notifier) Dropped() uint64 { return n.dropped.Load() }
