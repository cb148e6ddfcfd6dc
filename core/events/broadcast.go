package events

import "sync"

// Broadcaster delivers events to live subscribers. Slow subscribers miss
// events rather than blocking the emitter.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
	buffer int
}

// NewBroadcaster returns a broadcaster whose subscriptions buffer up to
// buffer events.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer <= 0 {
		buffer = 1
	}
	return &Broadcaster{subs: make(map[int]chan Event), buffer: buffer}
}

// Emit implements the Emitter interface.
func (b *Broadcaster) Emit(evt Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
}

// Subscribe registers a subscriber. The returned cancel function closes the
// channel and must be called once the subscriber is done.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.nextID
	b.nextID++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.subs, id)
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
