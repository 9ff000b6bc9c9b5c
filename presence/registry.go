package presence

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	serrors "github.com/taskhive/taskhive/errors"
	"github.com/taskhive/taskhive/store"
)

// Registry tracks, per subscriber, the set of currently-open connection ids
// across all server processes sharing the store. Each feature gets its own
// namespace so chat, notification and payment connections never collide.
//
// Alongside every subscriber set a reverse index connID -> subscriberID is
// maintained, making disconnect O(1) instead of a scan over all subscribers.
type Registry struct {
	store     store.Store
	namespace string
}

// NewRegistry creates a presence registry for one feature namespace.
func NewRegistry(s store.Store, namespace string) *Registry {
	return &Registry{store: s, namespace: namespace}
}

// Namespace returns the feature namespace this registry tracks.
func (r *Registry) Namespace() string { return r.namespace }

func (r *Registry) subscriberKey(subscriberID string) string {
	return fmt.Sprintf("socket:%s:user:%s", r.namespace, subscriberID)
}

func (r *Registry) reverseKey(connID string) string {
	return fmt.Sprintf("socket:%s:conn:%s", r.namespace, connID)
}

// Register adds connID to the subscriber's connection set and records the
// reverse mapping used by Remove.
func (r *Registry) Register(ctx context.Context, subscriberID, connID string) error {
	if err := r.store.SAdd(ctx, r.subscriberKey(subscriberID), connID); err != nil {
		return err
	}
	if err := r.store.Set(ctx, r.reverseKey(connID), subscriberID, 0); err != nil {
		// Roll back the set entry so the two keys never disagree.
		_, _ = r.store.SRem(ctx, r.subscriberKey(subscriberID), connID)
		return err
	}

	log.Debug().
		Str("namespace", r.namespace).
		Str("subscriber_id", subscriberID).
		Str("conn_id", connID).
		Msg("connection registered")
	return nil
}

// Remove deletes connID from whichever subscriber's set holds it, using the
// reverse index. When the set empties it is deleted outright, so reachability
// is answerable by key existence. The removal and the empty-set delete are
// one atomic store step; a Register racing this from another process keeps
// its fresh entry. Removing an unknown connID is a no-op.
func (r *Registry) Remove(ctx context.Context, connID string) error {
	subscriberID, err := r.store.Get(ctx, r.reverseKey(connID))
	if errors.Is(err, serrors.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	if _, err := r.store.SRemAndPrune(ctx, r.subscriberKey(subscriberID), connID); err != nil {
		return err
	}

	if err := r.store.Del(ctx, r.reverseKey(connID)); err != nil {
		return err
	}

	log.Debug().
		Str("namespace", r.namespace).
		Str("subscriber_id", subscriberID).
		Str("conn_id", connID).
		Msg("connection removed")
	return nil
}

// Connections returns the subscriber's live connection ids. An unknown
// subscriber yields an empty slice.
func (r *Registry) Connections(ctx context.Context, subscriberID string) ([]string, error) {
	return r.store.SMembers(ctx, r.subscriberKey(subscriberID))
}

// IsReachable reports whether the subscriber has at least one live connection.
func (r *Registry) IsReachable(ctx context.Context, subscriberID string) (bool, error) {
	conns, err := r.Connections(ctx, subscriberID)
	if err != nil {
		return false, err
	}
	return len(conns) > 0, nil
}
