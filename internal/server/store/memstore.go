package store

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"os"
	"sync"

	"profkeeper/internal/protocol"
	"profkeeper/internal/server/snapshot"
)

// MemStore keeps every account in memory behind a single RWMutex and
// persists through snapshot sinks. Readers (Authenticate, GetContent,
// ListUsernames, Persist's encode phase) share the read lock; Create and
// SetContent take the write lock, so a reader never observes a half-written
// account.
type MemStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account
	order    []string // usernames in registration order

	file       *snapshot.FileSink // load source and primary sink; nil = volatile
	extra      []snapshot.Sink
	passphrase string
}

var _ Store = (*MemStore)(nil)

// NewMemStore builds an empty store. file may be nil for a purely volatile
// store (tests); extra sinks receive a copy of every snapshot. A non-empty
// passphrase seals the snapshot bytes at rest.
func NewMemStore(file *snapshot.FileSink, extra []snapshot.Sink, passphrase string) *MemStore {
	return &MemStore{
		accounts:   make(map[string]*Account),
		file:       file,
		extra:      extra,
		passphrase: passphrase,
	}
}

// Load reads the snapshot written by a previous run. A missing snapshot
// yields an empty store; a corrupt one is an error, and the caller must not
// start serving on top of it.
func (s *MemStore) Load(ctx context.Context) error {
	if s.file == nil {
		return nil
	}
	data, err := s.file.Get(ctx)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	if s.passphrase != "" {
		data, err = openSnapshot(s.passphrase, data)
		if err != nil {
			return err
		}
	}
	accounts, err := decodeSnapshot(data)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts = make(map[string]*Account, len(accounts))
	s.order = s.order[:0]
	for _, a := range accounts {
		s.accounts[a.Username] = a
		s.order = append(s.order, a.Username)
	}
	return nil
}

func (s *MemStore) Create(ctx context.Context, user, pass string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[user]; ok {
		return protocol.ErrUserExists
	}
	s.accounts[user] = &Account{Username: user, Password: pass}
	s.order = append(s.order, user)
	return nil
}

func (s *MemStore) Authenticate(ctx context.Context, user, pass string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[user]
	if !ok {
		return protocol.ErrLogin
	}
	if subtle.ConstantTimeCompare([]byte(a.Password), []byte(pass)) != 1 {
		return protocol.ErrLogin
	}
	return nil
}

func (s *MemStore) SetContent(ctx context.Context, user string, content []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[user]
	if !ok {
		return protocol.ErrNoUser
	}
	a.Content = cloneBytes(content)
	return nil
}

func (s *MemStore) GetContent(ctx context.Context, user string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[user]
	if !ok {
		return nil, protocol.ErrNoUser
	}
	if a.Content == nil {
		return nil, protocol.ErrNoData
	}
	return cloneBytes(a.Content), nil
}

func (s *MemStore) ListUsernames(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, len(s.order))
	copy(names, s.order)
	return names, nil
}

// Persist encodes the whole account set under the read lock, then hands the
// bytes to every sink. Writers are only blocked for the encode phase, never
// for the I/O.
func (s *MemStore) Persist(ctx context.Context) error {
	if s.file == nil && len(s.extra) == 0 {
		return nil
	}

	s.mu.RLock()
	accounts := make([]*Account, 0, len(s.order))
	for _, name := range s.order {
		accounts = append(accounts, s.accounts[name])
	}
	data := encodeSnapshot(accounts)
	s.mu.RUnlock()

	if s.passphrase != "" {
		sealed, err := sealSnapshot(s.passphrase, data)
		if err != nil {
			return err
		}
		data = sealed
	}

	if s.file != nil {
		if err := s.file.Put(ctx, data); err != nil {
			return fmt.Errorf("persist snapshot: %w", err)
		}
	}
	for _, sink := range s.extra {
		if err := sink.Put(ctx, data); err != nil {
			return fmt.Errorf("persist snapshot: %w", err)
		}
	}
	return nil
}

func (s *MemStore) Close() error { return nil }

// cloneBytes copies b, preserving the nil/empty distinction.
func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
