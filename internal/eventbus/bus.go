package eventbus

import (
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// Event is an in-memory signal about pipeline progress.
//
// Publish never blocks. Subscribers get a buffered channel and drop events
// when they fall behind.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns an in-memory fanout bus. It owns no goroutines.
func New() Bus {
	return &memBus{subs: map[uint64]chan Event{}}
}

// Nop discards every event.
func Nop() Bus { return nopBus{} }

type nopBus struct{}

func (nopBus) Publish(Event) {}
func (nopBus) Subscribe(int) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close ch under us.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, unsub
}

// Tally counts events by type. Feed it from a subscription with Run.
type Tally struct {
	mu     sync.Mutex
	counts map[string]uint64
	last   time.Time
}

func NewTally() *Tally { return &Tally{counts: map[string]uint64{}} }

func (t *Tally) Add(e Event) {
	t.mu.Lock()
	t.counts[e.Type]++
	if e.Time.After(t.last) {
		t.last = e.Time
	}
	t.mu.Unlock()
}

// Run consumes ch until it is closed.
func (t *Tally) Run(ch <-chan Event) {
	for e := range ch {
		t.Add(e)
	}
}

// Counts returns a copy of the per-type counters.
func (t *Tally) Counts() map[string]uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.counts)
}

// Last returns the time of the most recent event seen.
func (t *Tally) Last() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.last
}
