package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/taskhive/taskhive/presence"
	"github.com/taskhive/taskhive/store"
)

// Sender delivers an event to a physical connection owned by this process.
// The websocket gateway provides the production implementation; tests inject
// fakes, so no live listener is needed to exercise fan-out logic.
type Sender interface {
	// Owns reports whether this process holds the physical connection.
	Owns(connID string) bool
	// Send writes the event to the connection. Payload is feature-defined.
	Send(connID, event string, payload []byte) error
}

// envelope is the wire format replicated through the store's pub/sub so that
// the process owning a connection delivers the event, wherever it runs.
type envelope struct {
	Origin       string          `json:"origin"`
	SubscriberID string          `json:"subscriber_id"`
	Event        string          `json:"event"`
	Payload      json.RawMessage `json:"payload"`
}

// Fanout delivers a payload to every live connection of a subscriber,
// regardless of which server process owns each connection. Delivery is
// fire-and-forget: an unreachable subscriber receives nothing and no events
// are buffered.
type Fanout struct {
	store    store.Store
	registry *presence.Registry
	sender   Sender
	origin   string
	channel  string
}

// New creates a Fanout bound to one presence namespace. The origin id lets
// the pub/sub loop skip envelopes this process published itself.
func New(s store.Store, registry *presence.Registry, sender Sender) *Fanout {
	return &Fanout{
		store:    s,
		registry: registry,
		sender:   sender,
		origin:   uuid.NewString(),
		channel:  fmt.Sprintf("fanout:%s", registry.Namespace()),
	}
}

// Send delivers the event to all of the subscriber's connections: locally
// owned ones through the sender, the rest via pub/sub replication. A
// subscriber with no connections is a no-op, not an error.
func (f *Fanout) Send(ctx context.Context, subscriberID, event string, payload []byte) error {
	conns, err := f.registry.Connections(ctx, subscriberID)
	if err != nil {
		return err
	}
	if len(conns) == 0 {
		return nil
	}

	hasRemote := false
	for _, connID := range conns {
		if !f.sender.Owns(connID) {
			hasRemote = true
			continue
		}
		if err := f.sender.Send(connID, event, payload); err != nil {
			log.Warn().Err(err).
				Str("channel", f.channel).
				Str("conn_id", connID).
				Msg("local delivery failed")
		}
	}

	if !hasRemote {
		return nil
	}

	raw, err := json.Marshal(envelope{
		Origin:       f.origin,
		SubscriberID: subscriberID,
		Event:        event,
		Payload:      payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal fanout envelope: %w", err)
	}
	return f.store.Publish(ctx, f.channel, raw)
}

// Run consumes replicated envelopes and delivers those addressed to
// connections this process owns. It blocks until ctx is cancelled.
func (f *Fanout) Run(ctx context.Context) error {
	sub, err := f.store.Subscribe(ctx, f.channel)
	if err != nil {
		return err
	}
	defer sub.Close()

	log.Info().Str("channel", f.channel).Msg("fanout replication loop started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-sub.Channel():
			if !ok {
				return nil
			}
			f.handle(ctx, msg.Payload)
		}
	}
}

func (f *Fanout) handle(ctx context.Context, raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Err(err).Str("channel", f.channel).Msg("dropping malformed fanout envelope")
		return
	}
	if env.Origin == f.origin {
		// Local connections were already served by Send.
		return
	}

	conns, err := f.registry.Connections(ctx, env.SubscriberID)
	if err != nil {
		log.Error().Err(err).
			Str("channel", f.channel).
			Str("subscriber_id", env.SubscriberID).
			Msg("failed to resolve subscriber connections")
		return
	}

	for _, connID := range conns {
		if !f.sender.Owns(connID) {
			continue
		}
		if err := f.sender.Send(connID, env.Event, env.Payload); err != nil {
			log.Warn().Err(err).
				Str("channel", f.channel).
				Str("conn_id", connID).
				Msg("replicated delivery failed")
		}
	}
}
