// Package presence tracks which identities are currently reachable and
// on which connection. It is the single source of truth for routing:
// an identity maps to at most one live connection at any instant.
package presence

import (
	"sort"
	"sync"

	"github.com/finchsocial/finch/pkg/domain"
	"github.com/samber/lo"
)

// Registry is the process-wide presence table. It is safe for
// concurrent use; one mutex guards both directions of the mapping.
// This is deliberately single-session-per-identity: binding an
// identity from a second connection evicts the prior entry.
type Registry struct {
	mu         sync.RWMutex
	byIdentity map[string]string // identity -> connection id
	byConn     map[string]string // connection id -> identity
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		byIdentity: make(map[string]string),
		byConn:     make(map[string]string),
	}
}

// Bind inserts the (identity, connectionID) pair. A prior entry for the
// same identity on a different connection is evicted first and reported
// in the result. Re-binding the same pair is idempotent. The evicted
// connection is not closed; it just stops being resolvable by identity.
func (r *Registry) Bind(identity, connectionID string) (domain.BindResult, error) {
	if identity == "" {
		return domain.BindResult{}, domain.ErrEmptyIdentity
	}
	if connectionID == "" {
		return domain.BindResult{}, domain.ErrEmptyConnectionID
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	result := domain.BindResult{
		Identity:     identity,
		ConnectionID: connectionID,
	}

	if prior, ok := r.byIdentity[identity]; ok && prior != connectionID {
		delete(r.byConn, prior)
		result.Evicted = true
		result.PriorConnectionID = prior
	}

	// A connection re-announcing under a new name keeps a single entry.
	if previousIdentity, ok := r.byConn[connectionID]; ok && previousIdentity != identity {
		delete(r.byIdentity, previousIdentity)
	}

	r.byIdentity[identity] = connectionID
	r.byConn[connectionID] = identity

	return result, nil
}

// Unbind removes the entry keyed by the connection id. It reports the
// identity that was bound, or false when the connection had none.
func (r *Registry) Unbind(connectionID string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	identity, ok := r.byConn[connectionID]
	if !ok {
		return "", false
	}

	delete(r.byConn, connectionID)

	// Only drop the identity mapping if it still points at this
	// connection; it may already have been evicted by a rebind.
	if current, ok := r.byIdentity[identity]; ok && current == connectionID {
		delete(r.byIdentity, identity)
	}

	return identity, true
}

// Resolve returns the live connection id for an identity
func (r *Registry) Resolve(identity string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	connectionID, ok := r.byIdentity[identity]
	return connectionID, ok
}

// Snapshot returns a point-in-time, sorted list of bound identities
func (r *Registry) Snapshot() []string {
	r.mu.RLock()
	identities := lo.Keys(r.byIdentity)
	r.mu.RUnlock()

	sort.Strings(identities)
	return identities
}

// Len returns the number of presence entries
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byIdentity)
}
