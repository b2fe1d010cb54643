// Package notify fans applied catalog changes out to in-process listeners,
// such as caches of table definitions held by admin surfaces.
package notify

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/xdbcore/xdb/internal/catalog"
)

// Notification is one catalog change as delivered to subscribers.
type Notification struct {
	catalog.Change
	Seq       uint64
	Timestamp int64
}

// Key is the filter key of the notification: "database/object", or the
// object alone for changes outside any database.
func (n Notification) Key() string {
	if n.Database == "" {
		return n.Object
	}
	return n.Database + "/" + n.Object
}

// Notifier is an in-process pub/sub bus. It implements catalog.ChangeSink.
type Notifier struct {
	subscribers sync.Map
	bufferSize  int
	seq         atomic.Uint64
	dropped     atomic.Uint64
}

var _ catalog.ChangeSink = (*Notifier)(nil)

// NewNotifier creates a notifier whose subscriber channels hold bufferSize
// notifications.
func NewNotifier(bufferSize int) *Notifier {
	return &Notifier{
		bufferSize: bufferSize,
	}
}

// Publish sends c to every matching subscriber.
// Non-blocking: if a subscriber's channel is full, the notification is dropped.
func (n *Notifier) Publish(c catalog.Change) {
	notif := Notification{Change: c, Seq: n.seq.Add(1), Timestamp: time.Now().UnixNano()}
	key := notif.Key()
	n.subscribers.Range(func(_, value interface{}) bool {
		sub := value.(*Subscriber)
		if sub.matches(key) {
			select {
			case sub.Ch <- notif:
			default:
				n.dropped.Add(1)
			}
		}
		return true
	})
}

// Dropped returns how many notifications were dropped on full channels.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

// Subscribe adds a subscriber. A filter is a key prefix such as "shop/" or
// "shop/orders"; no filters receive everything.
func (n *Notifier) Subscribe(id string, filters ...string) *Subscriber {
	if id == "" {
		id = "sub_" + uuid.New().String()
	}
	sub := &Subscriber{
		ID:      id,
		Filters: filters,
		Ch:      make(chan Notification, n.bufferSize),
	}
	if old, loaded := n.subscribers.Swap(id, sub); loaded {
		close(old.(*Subscriber).Ch)
	}
	return sub
}

// Unsubscribe removes a subscriber and closes its channel.
func (n *Notifier) Unsubscribe(id string) {
	if value, ok := n.subscribers.LoadAndDelete(id); ok {
		close(value.(*Subscriber).Ch)
	}
}

// Close unsubscribes everyone.
func (n *Notifier) Close() error {
	n.subscribers.Range(func(key, _ interface{}) bool {
		n.Unsubscribe(key.(string))
		return true
	})
	return nil
}

// Subscriber receives notifications on Ch.
type Subscriber struct {
	ID      string
	Filters []string
	Ch      chan Notification
}

func (s *Subscriber) matches(key string) bool {
	if len(s.Filters) == 0 {
		return true
	}
	for _, f := range s.Filters {
		if f == "" || strings.HasPrefix(key, f) {
			return true
		}
	}
	return false
}
