// Package events fans run progress out to live subscribers. Delivery is
// best-effort: events are ordered per run, subscribers that stop draining
// lose events rather than stalling the run, and there is no replay for
// late joiners.
package events

import (
	"log/slog"
	"sync"
	"time"

	"github.com/raidx545/mend/internal/model"
)

const subscriberBuffer = 64

// Broadcaster routes events for any number of concurrent runs.
type Broadcaster struct {
	mu   sync.Mutex
	subs map[string]map[chan model.Event]struct{}
	log  *slog.Logger
}

func NewBroadcaster(log *slog.Logger) *Broadcaster {
	if log == nil {
		log = slog.Default()
	}
	return &Broadcaster{
		subs: make(map[string]map[chan model.Event]struct{}),
		log:  log,
	}
}

// Subscribe registers a listener for one run's events. The returned cancel
// function must be called when the listener goes away; it closes the channel.
func (b *Broadcaster) Subscribe(runID string) (<-chan model.Event, func()) {
	ch := make(chan model.Event, subscriberBuffer)

	b.mu.Lock()
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[chan model.Event]struct{})
	}
	b.subs[runID][ch] = struct{}{}
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		if set, ok := b.subs[runID]; ok {
			if _, ok := set[ch]; ok {
				delete(set, ch)
				close(ch)
			}
			if len(set) == 0 {
				delete(b.subs, runID)
			}
		}
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers an event to every current subscriber of the run. A full
// subscriber buffer drops the event for that subscriber only.
func (b *Broadcaster) Publish(runID string, ev model.Event) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs[runID] {
		select {
		case ch <- ev:
		default:
			b.log.Warn("dropping event for slow subscriber", "run", runID, "type", ev.Type)
		}
	}
}

// SubscriberCount reports how many listeners a run currently has.
func (b *Broadcaster) SubscriberCount(runID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[runID])
}
