package signals

import (
	"log/slog"
	"sync"
)

// Publisher is what engine components depend on.
type Publisher interface {
	Publish(s Signal)
}

type Handler func(Signal)

// Bus delivers every published signal to all current subscribers, in
// subscription order, on the publisher's goroutine. Delivery is fire-and-forget:
// a panicking handler is logged and skipped.
type Bus struct {
	mu     sync.RWMutex
	next   int
	subs   map[int]Handler
	order  []int
	logger *slog.Logger
}

func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bus{subs: make(map[int]Handler), logger: logger}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i:i], b.order[i+1:]...)
					break
				}
			}
			b.mu.Unlock()
		})
	}
}

// SubscribeKind is Subscribe filtered to one kind.
func (b *Bus) SubscribeKind(k Kind, h Handler) func() {
	return b.Subscribe(func(s Signal) {
		if s.Kind() == k {
			h(s)
		}
	})
}

func (b *Bus) Publish(s Signal) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		handlers = append(handlers, b.subs[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		b.deliver(h, s)
	}
}

func (b *Bus) deliver(h Handler, s Signal) {
	defer func() {
		if rec := recover(); rec != nil {
			b.logger.Error("signal handler panic", "kind", s.Kind(), "error", rec)
		}
	}()
	h(s)
}

// Recorder collects published signals; handy in tests and for the demo CLI.
type Recorder struct {
	mu      sync.Mutex
	signals []Signal
}

func (r *Recorder) Publish(s Signal) {
	r.mu.Lock()
	r.signals = append(r.signals, s)
	r.mu.Unlock()
}

func (r *Recorder) All() []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Signal(nil), r.signals...)
}

// OfKind returns the recorded signals of kind k.
func (r *Recorder) OfKind(k Kind) []Signal {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Signal
	for _, s := range r.signals {
		if s.Kind() == k {
			out = append(out, s)
		}
	}
	return out
}
