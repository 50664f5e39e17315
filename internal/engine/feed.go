package engine

import (
	"log/slog"
	"sync"

	"github.com/talgya/chronicle/internal/event"
)

// feed fans dispatched events out to live subscribers. A subscriber that
// falls behind misses events rather than stalling the tick.
type feed struct {
	mu   sync.Mutex
	next int
	subs map[int]chan event.Event
}

func (f *feed) subscribe(buf int) (<-chan event.Event, func()) {
	if buf < 1 {
		buf = 64
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs == nil {
		f.subs = make(map[int]chan event.Event)
	}
	id := f.next
	f.next++
	ch := make(chan event.Event, buf)
	f.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			delete(f.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (f *feed) publish(events []*event.Event) {
	if len(events) == 0 {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, ch := range f.subs {
		for _, ev := range events {
			select {
			case ch <- ev.Clone():
			default:
				slog.Debug("event feed subscriber lagging", "subscriber", id, "event", ev.ID)
			}
		}
	}
}
