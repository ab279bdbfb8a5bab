// Package directory resolves usernames to profiles for payload
// enrichment. It is never consulted for routing; an unknown profile
// only means a message goes out without a user id attached.
package directory

import (
	"context"
	"encoding/json"
	stderrors "errors"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/finchsocial/finch/pkg/errors"
)

const profilePrefix = "user:"

// Profile is the directory's view of a user
type Profile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName,omitempty"`
}

// Directory resolves a username to a profile
type Directory interface {
	Lookup(ctx context.Context, username string) (Profile, error)
}

// ErrProfileNotFound is returned when a username is unknown
var ErrProfileNotFound = errors.New(errors.ErrorTypeNotFound, "PROFILE_NOT_FOUND", "profile not found")

// InMemoryDirectory is a map-backed directory for tests and the demo
type InMemoryDirectory struct {
	profiles map[string]Profile
}

// NewInMemoryDirectory creates a directory preloaded with profiles
func NewInMemoryDirectory(profiles ...Profile) *InMemoryDirectory {
	d := &InMemoryDirectory{profiles: make(map[string]Profile, len(profiles))}
	for _, p := range profiles {
		d.profiles[p.Username] = p
	}
	return d
}

// Lookup implements Directory
func (d *InMemoryDirectory) Lookup(_ context.Context, username string) (Profile, error) {
	p, ok := d.profiles[username]
	if !ok {
		return Profile{}, ErrProfileNotFound
	}
	return p, nil
}

// BadgerDirectory stores profiles in the same database as messages
type BadgerDirectory struct {
	db *badger.DB
}

// NewBadgerDirectory wraps an open database handle
func NewBadgerDirectory(db *badger.DB) *BadgerDirectory {
	return &BadgerDirectory{db: db}
}

// Put writes or replaces a profile
func (d *BadgerDirectory) Put(ctx context.Context, profile Profile) error {
	if profile.Username == "" {
		return errors.New(errors.ErrorTypeValidation, "INVALID_PROFILE", "username is required")
	}

	value, err := json.Marshal(profile)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "MARSHAL_ERROR", "failed to marshal profile")
	}

	err = d.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(profilePrefix+profile.Username), value)
	})
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeStorage, "PROFILE_PUT", "failed to store profile")
	}

	return nil
}

// Lookup implements Directory
func (d *BadgerDirectory) Lookup(_ context.Context, username string) (Profile, error) {
	var profile Profile

	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(profilePrefix + username))
		if err != nil {
			return err
		}
		return item.Value(func(value []byte) error {
			return json.Unmarshal(value, &profile)
		})
	})
	if stderrors.Is(err, badger.ErrKeyNotFound) {
		return Profile{}, ErrProfileNotFound
	}
	if err != nil {
		return Profile{}, errors.Wrap(err, errors.ErrorTypeStorage, "PROFILE_LOOKUP", "failed to read profile")
	}

	return profile, nil
}
