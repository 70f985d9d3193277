package event

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/jonhpyo/MyHTS/pkg/quant"
)

// Sink receives committed events. Publish is called from the bus goroutine
// only, in sequence order.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// Bus fans events out to sinks from a single goroutine. Publishing never
// blocks a caller that has already committed: when the inbox is full the
// event is dropped and counted.
type Bus struct {
	inbox   chan Event
	nextSeq uint64
	dropped atomic.Uint64

	mu    sync.RWMutex
	sinks []Sink
}

// NewBus creates a bus with the given inbox capacity.
func NewBus(inboxSize int, sinks ...Sink) *Bus {
	if inboxSize <= 0 {
		inboxSize = 1024
	}
	return &Bus{
		inbox: make(chan Event, inboxSize),
		sinks: sinks,
	}
}

// Subscribe adds a sink.
func (b *Bus) Subscribe(s Sink) {
	b.mu.Lock()
	b.sinks = append(b.sinks, s)
	b.mu.Unlock()
}

// Publish stamps and enqueues events.
func (b *Bus) Publish(evs ...Event) {
	for _, ev := range evs {
		ev.setSeq(quant.NextSeq(&b.nextSeq))
		select {
		case b.inbox <- ev:
		default:
			b.dropped.Add(1)
			slog.Warn("EVENT_DROPPED", slog.String("type", ev.GetType().String()), slog.Uint64("seq", ev.GetSeq()))
		}
	}
}

// Dropped returns how many events were discarded on a full inbox.
func (b *Bus) Dropped() uint64 {
	return b.dropped.Load()
}

// Run dispatches until ctx is cancelled. This MUST be run in a single goroutine.
func (b *Bus) Run(ctx context.Context) {
	slog.Info("Event bus started")
	for {
		select {
		case <-ctx.Done():
			b.drain()
			slog.Info("Event bus stopped", slog.Uint64("dropped", b.Dropped()))
			return
		case ev := <-b.inbox:
			b.dispatch(ctx, ev)
		}
	}
}

// drain flushes what is already queued with a fresh context so shutdown
// does not lose committed trades.
func (b *Bus) drain() {
	for {
		select {
		case ev := <-b.inbox:
			b.dispatch(context.Background(), ev)
		default:
			return
		}
	}
}

func (b *Bus) dispatch(ctx context.Context, ev Event) {
	b.mu.RLock()
	sinks := b.sinks
	b.mu.RUnlock()

	for _, s := range sinks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("SINK_PANIC", slog.String("sink", s.Name()), slog.Any("panic", r))
				}
			}()
			if err := s.Publish(ctx, ev); err != nil {
				slog.Error("Sink publish failed",
					slog.String("sink", s.Name()),
					slog.Uint64("seq", ev.GetSeq()),
					slog.Any("error", err))
			}
		}()
	}
}
