// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/zeebo/blake3"

	"github.com/bureau-foundation/hostlink/lib/codec"
	"github.com/bureau-foundation/hostlink/lib/sealed"
	"github.com/bureau-foundation/hostlink/lib/secret"
)

const (
	keyFileName   = "signing.key"
	stateFileName = "state.cbor"
)

var (
	// ErrNoKey is returned by SigningPublicKey and Sign when the state
	// directory has no signing key.
	ErrNoKey = errors.New("identity: no signing key")

	// ErrMalformedKey is returned by SigningPublicKey and Sign when the
	// key file does not hold an ed25519 private key.
	ErrMalformedKey = errors.New("identity: signing key is malformed")

	// ErrClosed is returned by Sign after Close.
	ErrClosed = errors.New("identity: store is closed")

	// ErrKeyExists is returned by Generate when a key is already
	// present.
	ErrKeyExists = errors.New("identity: signing key already exists")

	// ErrPassphraseRequired is returned by Open when the key is sealed
	// and no passphrase was given.
	ErrPassphraseRequired = errors.New("identity: signing key is sealed; a passphrase is required")
)

// Options configures Open.
type Options struct {
	// Passphrase seals a generated key and opens a sealed one. The
	// store does not take ownership.
	Passphrase *secret.Buffer

	// HostID overrides the id derived from the public key.
	HostID string

	// Create generates a key when none exists.
	Create bool
}

// State is the persisted key confirmation state.
type State struct {
	Confirmed bool      `cbor:"confirmed"`
	ChangedAt time.Time `cbor:"changed_at"`
}

// FileStore is a file-backed transport.KeyStore.
type FileStore struct {
	directory string

	// keyMu guards signingSecret against Close during Sign.
	keyMu         sync.RWMutex
	signingSecret *secret.Buffer
	signingPublic ed25519.PublicKey
	keyErr        error
	hostID        string

	mu    sync.Mutex
	state State
}

// Generate creates a signing key in directory, sealed when passphrase
// is non-nil, and returns its public half.
func Generate(directory string, passphrase *secret.Buffer) (ed25519.PublicKey, error) {
	if err := os.MkdirAll(directory, 0o700); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating signing key: %w", err)
	}
	defer secret.Zero(private)

	contents := []byte(private)
	if passphrase != nil {
		contents, err = sealed.Seal(private, passphrase)
		if err != nil {
			return nil, fmt.Errorf("sealing signing key: %w", err)
		}
	}

	path := filepath.Join(directory, keyFileName)
	file, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil, ErrKeyExists
		}
		return nil, err
	}
	if _, err := file.Write(contents); err != nil {
		file.Close()
		os.Remove(path)
		return nil, fmt.Errorf("writing %s: %w", path, err)
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return nil, err
	}
	return public, nil
}

// Open loads the identity in directory.
func Open(directory string, options Options) (*FileStore, error) {
	store := &FileStore{directory: directory}

	data, err := os.ReadFile(filepath.Join(directory, keyFileName))
	switch {
	case errors.Is(err, fs.ErrNotExist) && options.Create:
		if _, err := Generate(directory, options.Passphrase); err != nil {
			return nil, err
		}
		data, err = os.ReadFile(filepath.Join(directory, keyFileName))
		if err != nil {
			return nil, err
		}
	case errors.Is(err, fs.ErrNotExist):
		store.keyErr = ErrNoKey
	case err != nil:
		return nil, err
	}

	if data != nil {
		if err := store.loadKey(data, options.Passphrase); err != nil {
			return nil, err
		}
	}

	store.hostID = options.HostID
	if store.hostID == "" && store.signingPublic != nil {
		store.hostID = DeriveHostID(store.signingPublic)
	}

	if err := store.loadState(); err != nil {
		store.Close()
		return nil, err
	}
	return store, nil
}

func (s *FileStore) loadKey(data []byte, passphrase *secret.Buffer) error {
	var key *secret.Buffer
	var err error
	if sealed.IsSealed(data) {
		if passphrase == nil {
			return ErrPassphraseRequired
		}
		key, err = sealed.Open(data, passphrase)
		if err != nil {
			return fmt.Errorf("opening sealed signing key: %w", err)
		}
	} else {
		key, err = secret.NewFromBytes(data)
		if err != nil {
			return fmt.Errorf("protecting signing key: %w", err)
		}
	}

	// A key of the wrong length is kept as-is: the handshake reports it
	// and decides whether to downgrade.
	s.signingSecret = key
	if key.Len() != ed25519.PrivateKeySize {
		s.keyErr = ErrMalformedKey
		return nil
	}
	s.signingPublic = ed25519.PublicKey(bytes.Clone(key.Bytes()[ed25519.SeedSize:]))
	return nil
}

func (s *FileStore) loadState() error {
	data, err := os.ReadFile(filepath.Join(s.directory, stateFileName))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := codec.Unmarshal(data, &s.state); err != nil {
		return fmt.Errorf("decoding %s: %w", stateFileName, err)
	}
	return nil
}

// SigningPublicKey returns the public signing key, or ErrNoKey or
// ErrMalformedKey when the store cannot sign.
func (s *FileStore) SigningPublicKey() (ed25519.PublicKey, error) {
	if s.keyErr != nil {
		return nil, s.keyErr
	}
	return s.signingPublic, nil
}

// Sign signs message with the private key. The key lives in mmap
// memory outside the Go heap, which crypto/ed25519 must not see, so it
// is copied into a heap slice for the call and zeroed afterwards.
func (s *FileStore) Sign(message []byte) ([]byte, error) {
	if s.keyErr != nil {
		return nil, s.keyErr
	}
	s.keyMu.RLock()
	defer s.keyMu.RUnlock()
	if s.signingSecret == nil {
		return nil, ErrClosed
	}
	private := make(ed25519.PrivateKey, ed25519.PrivateKeySize)
	copy(private, s.signingSecret.Bytes())
	defer secret.Zero(private)
	return ed25519.Sign(private, message), nil
}

// PublicKey returns the public signing key, or nil when there is none.
func (s *FileStore) PublicKey() ed25519.PublicKey { return s.signingPublic }

// HostID returns the configured or derived host id. It is empty only
// when there is neither a key nor an override.
func (s *FileStore) HostID() string { return s.hostID }

// Confirmed reports whether a peer has completed an encrypted
// handshake since the last unpin.
func (s *FileStore) Confirmed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.Confirmed
}

// State returns a copy of the persisted state.
func (s *FileStore) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *FileStore) MarkConfirmed() error   { return s.setConfirmed(true) }
func (s *FileStore) MarkUnconfirmed() error { return s.setConfirmed(false) }

// setConfirmed persists the flag when it changes.
func (s *FileStore) setConfirmed(confirmed bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Confirmed == confirmed && !s.state.ChangedAt.IsZero() {
		return nil
	}
	next := State{Confirmed: confirmed, ChangedAt: time.Now().UTC()}
	if err := s.writeState(next); err != nil {
		return err
	}
	s.state = next
	return nil
}

// writeState replaces the state file atomically.
func (s *FileStore) writeState(state State) error {
	data, err := codec.Marshal(state)
	if err != nil {
		return fmt.Errorf("encoding state: %w", err)
	}
	if err := os.MkdirAll(s.directory, 0o700); err != nil {
		return err
	}
	path := filepath.Join(s.directory, stateFileName)
	temporary := path + ".tmp"
	if err := os.WriteFile(temporary, data, 0o600); err != nil {
		return err
	}
	if err := os.Rename(temporary, path); err != nil {
		os.Remove(temporary)
		return err
	}
	return nil
}

// Close releases the protected key memory.
func (s *FileStore) Close() error {
	s.keyMu.Lock()
	defer s.keyMu.Unlock()
	if s.signingSecret == nil {
		return nil
	}
	err := s.signingSecret.Close()
	s.signingSecret = nil
	return err
}

// DeriveHostID maps a public key to a nine-digit id in
// [100000000, 999999999].
func DeriveHostID(public ed25519.PublicKey) string {
	sum := blake3.Sum256(public)
	value := binary.LittleEndian.Uint64(sum[:8])%900_000_000 + 100_000_000
	return strconv.FormatUint(value, 10)
}
