// Package identity exposes the current session identity. The identity
// is owned by the desk platform's login flow; this package only reads
// it. Every presence component gates its behavior on the identity being
// present: no identity, no work.
package identity

import (
	"github.com/opsdesk/presenced/internal/localstore"
)

// Identity is the logged-in user as seen by the presence subsystem.
type Identity struct {
	ID   string `json:"id"`
	Role string `json:"role"`
}

// Provider returns the current session identity, if any.
type Provider interface {
	Current() (Identity, bool)
}

// StoreProvider reads the identity from the local credential store on
// every call, so a login or logout between calls is observed.
type StoreProvider struct {
	store *localstore.Store
}

func NewStoreProvider(store *localstore.Store) *StoreProvider {
	return &StoreProvider{store: store}
}

func (p *StoreProvider) Current() (Identity, bool) {
	cred, err := p.store.Credential()
	if err != nil {
		return Identity{}, false
	}
	return Identity{ID: cred.UserID, Role: cred.Role}, true
}

// Static is a fixed identity provider, used in tests and for the
// hub's demo users.
type Static struct {
	Identity Identity
}

func (s Static) Current() (Identity, bool) {
	if s.Identity.ID == "" {
		return Identity{}, false
	}
	return s.Identity, true
}
