// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package sealed

import (
	"bytes"
	"testing"

	"github.com/bureau-foundation/hostlink/lib/secret"
)

func init() {
	WorkFactor = 10
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

func TestSealOpen(t *testing.T) {
	key := bytes.Repeat([]byte{0x5a}, 64)

	ciphertext, err := Seal(key, passphrase(t, "hunter2"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if !IsSealed(ciphertext) {
		t.Fatal("IsSealed() = false for Seal output")
	}
	if bytes.Contains(ciphertext, key) {
		t.Fatal("ciphertext contains the plaintext")
	}

	plaintext, err := Open(ciphertext, passphrase(t, "hunter2"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	defer plaintext.Close()
	if !bytes.Equal(plaintext.Bytes(), key) {
		t.Error("Open() did not restore the key")
	}
}

func TestOpenWrongPassphrase(t *testing.T) {
	ciphertext, err := Seal([]byte("signing key"), passphrase(t, "right"))
	if err != nil {
		t.Fatalf("Seal() error: %v", err)
	}
	if _, err := Open(ciphertext, passphrase(t, "wrong")); err == nil {
		t.Error("Open() succeeded with the wrong passphrase")
	}
}

func TestIsSealedRawKey(t *testing.T) {
	if IsSealed(bytes.Repeat([]byte{1}, 64)) {
		t.Error("IsSealed() = true for raw key bytes")
	}
}
