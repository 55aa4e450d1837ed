// Package dispatch fans engine signals out to user screens: open websocket
// sessions first, then the HTTP push provider, and optionally a mirror such as
// a Kafka topic.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/parkswap/internal/signals"
)

// Pusher delivers to users who have no open session.
type Pusher interface {
	Push(ctx context.Context, userID string, env signals.Envelope) error
}

// Mirror receives every envelope regardless of audience.
type Mirror interface {
	PublishSignal(ctx context.Context, env signals.Envelope) error
}

type Fanout struct {
	WS      *WSRegistry
	Push    Pusher // optional
	Mirror  Mirror // optional
	Logger  *slog.Logger
	Timeout time.Duration
	Now     func() time.Time

	queue chan signals.Signal
}

func NewFanout(ws *WSRegistry, buffer int) *Fanout {
	if buffer <= 0 {
		buffer = 256
	}
	return &Fanout{WS: ws, queue: make(chan signals.Signal, buffer)}
}

// Attach subscribes f to bus and returns the unsubscribe function. Signals are
// queued and delivered by Run so publishers never wait on the network; a full
// queue drops the signal.
func (f *Fanout) Attach(bus *signals.Bus) func() {
	return bus.Subscribe(func(s signals.Signal) {
		select {
		case f.queue <- s:
		default:
			f.logger().Warn("signal queue full, dropping", "type", s.Kind())
		}
	})
}

// Run delivers queued signals until ctx is done.
func (f *Fanout) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case s := <-f.queue:
			f.Handle(s)
		}
	}
}

// Handle delivers one signal. Errors are logged, never returned.
func (f *Fanout) Handle(s signals.Signal) {
	now := time.Now
	if f.Now != nil {
		now = f.Now
	}
	env, err := signals.Wrap(s, now())
	if err != nil {
		f.logger().Warn("signal encode failed", "type", s.Kind(), "error", err)
		return
	}
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if f.Mirror != nil {
		if err := f.Mirror.PublishSignal(ctx, env); err != nil {
			f.logger().Warn("signal mirror failed", "type", env.Type, "error", err)
		}
	}
	if len(env.Audience) == 0 {
		f.WS.Broadcast(env)
		return
	}
	for _, userID := range env.Audience {
		if userID == "" {
			continue
		}
		err := f.WS.Deliver(userID, env)
		if err == nil || !errors.Is(err, ErrNoSession) || f.Push == nil {
			continue
		}
		if err := f.Push.Push(ctx, userID, env); err != nil {
			f.logger().Warn("push delivery failed", "user_id", userID, "type", env.Type, "error", err)
		}
	}
}

func (f *Fanout) logger() *slog.Logger {
	if f.Logger == nil {
		return slog.Default()
	}
	return f.Logger
}
