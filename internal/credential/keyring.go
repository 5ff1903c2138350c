// Package credential stores mailbox passwords in the system keyring.
package credential

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/99designs/keyring"
)

const serviceName = "mailarchive"

// Prefix marks a configured password as a keyring reference, as in
// "keyring:imap/archive".
const Prefix = "keyring:"

// ErrEmptyKey is returned for a reference without a key.
var ErrEmptyKey = errors.New("empty keyring key")

// Ring is the subset of keyring.Keyring used here.
type Ring interface {
	Get(key string) (keyring.Item, error)
	Set(item keyring.Item) error
	Remove(key string) error
}

// openKeyring returns a configured keyring instance.
func openKeyring() (Ring, error) {
	ring, err := keyring.Open(keyring.Config{
		ServiceName: serviceName,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  "~/.config/mailarchive/credentials",
		FilePasswordFunc:         keyring.FixedStringPrompt("mailarchive-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Store reads and writes credentials in a keyring opened on first use.
type Store struct {
	open func() (Ring, error)

	once sync.Once
	ring Ring
	err  error
}

// NewStore returns a Store backed by the system keyring.
func NewStore() *Store {
	return &Store{open: openKeyring}
}

// NewStoreWithRing returns a Store backed by ring.
func NewStoreWithRing(ring Ring) *Store {
	return &Store{open: func() (Ring, error) { return ring, nil }}
}

func (s *Store) keyring() (Ring, error) {
	s.once.Do(func() { s.ring, s.err = s.open() })
	return s.ring, s.err
}

// Get retrieves a credential value by key.
func (s *Store) Get(key string) (string, error) {
	ring, err := s.keyring()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(key)
	if err != nil {
		return "", fmt.Errorf("getting credential %q: %w", key, err)
	}
	return string(item.Data), nil
}

// Set stores a credential value by key.
func (s *Store) Set(key, value string) error {
	ring, err := s.keyring()
	if err != nil {
		return err
	}
	if err := ring.Set(keyring.Item{Key: key, Data: []byte(value)}); err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes a credential by key.
func (s *Store) Delete(key string) error {
	ring, err := s.keyring()
	if err != nil {
		return err
	}
	if err := ring.Remove(key); err != nil {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Resolve returns secret unchanged unless it is a "keyring:<key>" reference,
// in which case the stored value is looked up. The keyring is only opened
// when a reference is resolved.
func (s *Store) Resolve(secret string) (string, error) {
	key, ok := strings.CutPrefix(secret, Prefix)
	if !ok {
		return secret, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrEmptyKey
	}
	return s.Get(key)
}

// IsReference reports whether secret points into the keyring.
func IsReference(secret string) bool {
	return strings.HasPrefix(secret, Prefix)
}
