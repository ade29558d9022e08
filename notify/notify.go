// Package notify delivers operator notifications. Delivery is
// fire-and-forget: a failing channel is logged and never reaches the
// caller.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind classifies an Event.
type Kind string

const (
	KindSignal       Kind = "signal"
	KindOrderFilled  Kind = "order_filled"
	KindOrderReject  Kind = "order_rejected"
	KindPartialClose Kind = "partial_close"
	KindTradeClosed  Kind = "trade_closed"
	KindError        Kind = "error"
	KindInfo         Kind = "info"
)

// Event is one notification.
type Event struct {
	Kind       Kind
	Title      string
	Message    string
	Instrument string
	Price      float64
	PL         float64
	Time       time.Time
}

// Text renders the event as a plain multi-line message.
func (e Event) Text() string {
	s := e.Title
	if e.Message != "" {
		s += "\n" + e.Message
	}
	if e.Instrument != "" && e.Price != 0 {
		s += fmt.Sprintf("\n%s @ %.3f", e.Instrument, e.Price)
	}
	if e.PL != 0 {
		s += fmt.Sprintf("\nP&L: %.2f", e.PL)
	}
	return s
}

// Notifier accepts events without blocking.
type Notifier interface {
	Notify(Event)
}

// Sender delivers one event to one channel.
type Sender interface {
	Name() string
	Send(ctx context.Context, e Event) error
}

// Nop drops every event.
type Nop struct{}

func (Nop) Notify(Event) {}

const (
	queueSize   = 64
	sendTimeout = 10 * time.Second
)

// Manager fans events out to its senders from a background goroutine.
type Manager struct {
	senders []Sender
	log     zerolog.Logger
	ch      chan Event
	wg      sync.WaitGroup
	once    sync.Once
}

// NewManager starts the delivery goroutine. Call Close to drain it.
func NewManager(log zerolog.Logger, senders ...Sender) *Manager {
	m := &Manager{
		senders: senders,
		log:     log.With().Str("component", "notify").Logger(),
		ch:      make(chan Event, queueSize),
	}
	m.wg.Add(1)
	go m.run()
	return m
}

// Notify queues e. When the queue is full the event is dropped.
func (m *Manager) Notify(e Event) {
	if len(m.senders) == 0 {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	select {
	case m.ch <- e:
	default:
		m.log.Warn().Str("kind", string(e.Kind)).Msg("notification queue full, dropping event")
	}
}

// Close stops accepting events and waits for queued ones to be sent.
func (m *Manager) Close() {
	m.once.Do(func() { close(m.ch) })
	m.wg.Wait()
}

func (m *Manager) run() {
	defer m.wg.Done()
	for e := range m.ch {
		for _, s := range m.senders {
			ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
			if err := s.Send(ctx, e); err != nil {
				m.log.Error().Err(err).Str("sender", s.Name()).Str("kind", string(e.Kind)).Msg("notification failed")
			}
			cancel()
		}
	}
}
