// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package history

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/bureau-foundation/hostlink/lib/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "history.db"), testutil.Logger())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestRecordOpenAndClose(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	started := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	id, err := store.RecordOpen(ctx, Record{
		ConnectionID: 1042,
		Peer:         "192.0.2.7:51000",
		PeerID:       "123456789",
		PeerName:     "laptop",
		Kind:         "desktop",
		Encrypted:    true,
		Started:      started,
	})
	if err != nil {
		t.Fatalf("RecordOpen() error: %v", err)
	}

	records, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("Recent() returned %d records, want 1", len(records))
	}
	record := records[0]
	if record.ID != id || record.ConnectionID != 1042 || record.PeerName != "laptop" || !record.Encrypted {
		t.Errorf("record = %+v", record)
	}
	if !record.Started.Equal(started) {
		t.Errorf("Started = %v, want %v", record.Started, started)
	}
	if !record.Open() {
		t.Error("Open() = false before RecordClose")
	}

	ended := started.Add(time.Minute)
	if err := store.RecordClose(ctx, id, ended, "peer closed"); err != nil {
		t.Fatalf("RecordClose() error: %v", err)
	}
	if err := store.RecordClose(ctx, id, ended.Add(time.Hour), "again"); err != nil {
		t.Fatalf("second RecordClose() error: %v", err)
	}

	records, err = store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	record = records[0]
	if record.Open() || !record.Ended.Equal(ended) || record.Reason != "peer closed" {
		t.Errorf("closed record = ended %v reason %q, want %v peer closed", record.Ended, record.Reason, ended)
	}
}

func TestRecordRejected(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	if err := store.RecordRejected(ctx, "198.51.100.2:4000", at, "handshake timed out"); err != nil {
		t.Fatalf("RecordRejected() error: %v", err)
	}
	records, err := store.Recent(ctx, 10)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(records) != 1 || !records[0].Rejected || records[0].Open() {
		t.Fatalf("records = %+v, want one rejected session", records)
	}
	if records[0].Reason != "handshake timed out" {
		t.Errorf("Reason = %q", records[0].Reason)
	}
}

func TestRecentOrderAndLimit(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		_, err := store.RecordOpen(ctx, Record{
			ConnectionID: int32(1001 + i),
			Peer:         "peer",
			Started:      base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("RecordOpen() error: %v", err)
		}
	}
	records, err := store.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Recent(3) returned %d records", len(records))
	}
	for index, want := range []int32{1005, 1004, 1003} {
		if records[index].ConnectionID != want {
			t.Errorf("records[%d].ConnectionID = %d, want %d", index, records[index].ConnectionID, want)
		}
	}
}

func TestHistoryPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "history.db")
	ctx := context.Background()

	store, err := Open(path, testutil.Logger())
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	if _, err := store.RecordOpen(ctx, Record{Peer: "peer", Started: time.Now()}); err != nil {
		t.Fatalf("RecordOpen() error: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	reopened, err := Open(path, testutil.Logger())
	if err != nil {
		t.Fatalf("reopen error: %v", err)
	}
	defer reopened.Close()
	records, err := reopened.Recent(ctx, 0)
	if err != nil {
		t.Fatalf("Recent() error: %v", err)
	}
	if len(records) != 1 {
		t.Errorf("Recent() after reopen returned %d records, want 1", len(records))
	}
}
