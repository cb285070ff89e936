// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package identity

import (
	"bytes"
	"crypto/ed25519"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/bureau-foundation/hostlink/lib/sealed"
	"github.com/bureau-foundation/hostlink/lib/secret"
)

func init() {
	sealed.WorkFactor = 10
}

func passphrase(t *testing.T, value string) *secret.Buffer {
	t.Helper()
	buffer, err := secret.NewFromBytes([]byte(value))
	if err != nil {
		t.Fatalf("secret.NewFromBytes() error: %v", err)
	}
	t.Cleanup(func() { buffer.Close() })
	return buffer
}

func openStore(t *testing.T, directory string, options Options) *FileStore {
	t.Helper()
	store, err := Open(directory, options)
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestOpenCreatesAndReloadsKey(t *testing.T) {
	directory := t.TempDir()

	first := openStore(t, directory, Options{Create: true})
	publicKey, err := first.SigningPublicKey()
	if err != nil {
		t.Fatalf("SigningPublicKey() error: %v", err)
	}
	if len(publicKey) != ed25519.PublicKeySize {
		t.Fatalf("SigningPublicKey() length = %d, want %d", len(publicKey), ed25519.PublicKeySize)
	}

	info, err := os.Stat(filepath.Join(directory, keyFileName))
	if err != nil {
		t.Fatalf("Stat() error: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("key file mode = %v, want 0600", info.Mode().Perm())
	}

	second := openStore(t, directory, Options{})
	if !bytes.Equal(second.PublicKey(), first.PublicKey()) {
		t.Error("reloaded public key differs from the generated one")
	}
	if second.HostID() != first.HostID() {
		t.Errorf("HostID() after reload = %q, want %q", second.HostID(), first.HostID())
	}

	signature, err := first.Sign([]byte("message"))
	if err != nil {
		t.Fatalf("Sign() error: %v", err)
	}
	if !ed25519.Verify(second.PublicKey(), []byte("message"), signature) {
		t.Error("signature from the first store does not verify with the reloaded key")
	}
}

func TestOpenWithoutKey(t *testing.T) {
	store := openStore(t, t.TempDir(), Options{})

	if _, err := store.SigningPublicKey(); !errors.Is(err, ErrNoKey) {
		t.Errorf("SigningPublicKey() = %v, want ErrNoKey", err)
	}
	if _, err := store.Sign([]byte("message")); !errors.Is(err, ErrNoKey) {
		t.Errorf("Sign() = %v, want ErrNoKey", err)
	}
	if store.HostID() != "" {
		t.Errorf("HostID() = %q, want empty", store.HostID())
	}

	overridden := openStore(t, t.TempDir(), Options{HostID: "555000111"})
	if overridden.HostID() != "555000111" {
		t.Errorf("HostID() = %q, want override", overridden.HostID())
	}
}

func TestSealedKey(t *testing.T) {
	directory := t.TempDir()
	public, err := Generate(directory, passphrase(t, "correct horse"))
	if err != nil {
		t.Fatalf("Generate() error: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(directory, keyFileName))
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if !sealed.IsSealed(data) {
		t.Fatal("key file is not sealed")
	}

	if _, err := Open(directory, Options{}); !errors.Is(err, ErrPassphraseRequired) {
		t.Errorf("Open() without passphrase = %v, want ErrPassphraseRequired", err)
	}
	if _, err := Open(directory, Options{Passphrase: passphrase(t, "wrong")}); err == nil {
		t.Error("Open() with wrong passphrase succeeded")
	}

	store := openStore(t, directory, Options{Passphrase: passphrase(t, "correct horse")})
	if !bytes.Equal(store.PublicKey(), public) {
		t.Error("public key of the opened sealed key differs from Generate()")
	}
}

func TestGenerateRefusesToOverwrite(t *testing.T) {
	directory := t.TempDir()
	if _, err := Generate(directory, nil); err != nil {
		t.Fatalf("Generate() error: %v", err)
	}
	if _, err := Generate(directory, nil); !errors.Is(err, ErrKeyExists) {
		t.Errorf("second Generate() = %v, want ErrKeyExists", err)
	}
}

func TestMalformedKeyIsReportedByLength(t *testing.T) {
	directory := t.TempDir()
	if err := os.WriteFile(filepath.Join(directory, keyFileName), bytes.Repeat([]byte{1}, 40), 0o600); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}

	store := openStore(t, directory, Options{})
	if publicKey, err := store.SigningPublicKey(); !errors.Is(err, ErrMalformedKey) || publicKey != nil {
		t.Errorf("SigningPublicKey() = %x, %v, want nil, ErrMalformedKey", publicKey, err)
	}
	if _, err := store.Sign([]byte("message")); !errors.Is(err, ErrMalformedKey) {
		t.Errorf("Sign() = %v, want ErrMalformedKey", err)
	}
	if store.HostID() != "" {
		t.Errorf("HostID() = %q, want empty for a malformed key", store.HostID())
	}
}

func TestSignAfterClose(t *testing.T) {
	store, err := Open(t.TempDir(), Options{Create: true})
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if _, err := store.Sign([]byte("message")); !errors.Is(err, ErrClosed) {
		t.Errorf("Sign() after Close = %v, want ErrClosed", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error: %v", err)
	}
}

func TestConfirmedFlagPersists(t *testing.T) {
	directory := t.TempDir()
	store := openStore(t, directory, Options{Create: true})

	if store.Confirmed() {
		t.Fatal("new store is confirmed")
	}
	if err := store.MarkConfirmed(); err != nil {
		t.Fatalf("MarkConfirmed() error: %v", err)
	}
	if !openStore(t, directory, Options{}).Confirmed() {
		t.Error("confirmed flag not persisted")
	}

	changedAt := store.State().ChangedAt
	if err := store.MarkConfirmed(); err != nil {
		t.Fatalf("MarkConfirmed() error: %v", err)
	}
	if !store.State().ChangedAt.Equal(changedAt) {
		t.Error("repeated MarkConfirmed() rewrote the state")
	}

	if err := store.MarkUnconfirmed(); err != nil {
		t.Fatalf("MarkUnconfirmed() error: %v", err)
	}
	if openStore(t, directory, Options{}).Confirmed() {
		t.Error("unconfirmed flag not persisted")
	}
}

func TestDeriveHostID(t *testing.T) {
	public := ed25519.PublicKey(bytes.Repeat([]byte{7}, ed25519.PublicKeySize))
	id := DeriveHostID(public)

	if len(id) != 9 {
		t.Fatalf("DeriveHostID() = %q, want 9 digits", id)
	}
	value, err := strconv.Atoi(id)
	if err != nil {
		t.Fatalf("DeriveHostID() = %q is not numeric", id)
	}
	if value < 100_000_000 || value > 999_999_999 {
		t.Errorf("DeriveHostID() = %d out of range", value)
	}
	if DeriveHostID(public) != id {
		t.Error("DeriveHostID() is not deterministic")
	}

	other := ed25519.PublicKey(bytes.Repeat([]byte{8}, ed25519.PublicKeySize))
	if DeriveHostID(other) == id {
		t.Error("different keys derived the same id")
	}
}
