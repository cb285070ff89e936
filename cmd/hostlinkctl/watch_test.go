// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/bureau-foundation/hostlink/adminapi"
	"github.com/bureau-foundation/hostlink/host"
)

func TestWatchModelRendersSnapshot(t *testing.T) {
	polls := 0
	fetch := func() (snapshot, error) {
		polls++
		return snapshot{
			status:      adminapi.Status{HostID: "123456789", Connections: 1},
			connections: []host.ConnectionInfo{{ID: 3, PeerName: "tablet", Kind: "camera", State: "active"}},
			at:          time.Now(),
		}, nil
	}
	model := newWatchModel(fetch, time.Second)

	if view := model.View(); !strings.Contains(view, "waiting for the daemon") {
		t.Errorf("initial view = %q", view)
	}

	msg := model.Init()()
	updated, cmd := model.Update(msg)
	if cmd == nil {
		t.Fatal("snapshot did not schedule the next poll")
	}
	view := updated.View()
	for _, want := range []string{"123456789", "tablet", "camera"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
	if polls != 1 {
		t.Errorf("polls = %d, want 1", polls)
	}
}

func TestWatchModelKeepsLastSnapshotOnError(t *testing.T) {
	fail := false
	fetch := func() (snapshot, error) {
		if fail {
			return snapshot{}, errors.New("connecting: no such file")
		}
		return snapshot{status: adminapi.Status{HostID: "987654321"}}, nil
	}
	model := tea.Model(newWatchModel(fetch, time.Second))

	model, _ = model.Update(model.(watchModel).poll())
	fail = true
	model, _ = model.Update(model.(watchModel).poll())

	view := model.View()
	if !strings.Contains(view, "987654321") {
		t.Errorf("view lost the last snapshot:\n%s", view)
	}
	if !strings.Contains(view, "poll failed") {
		t.Errorf("view does not report the failure:\n%s", view)
	}
}

func TestWatchModelQuits(t *testing.T) {
	model := newWatchModel(func() (snapshot, error) { return snapshot{}, nil }, time.Second)
	_, cmd := model.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	if cmd == nil {
		t.Fatal("q did not return a command")
	}
	if _, ok := cmd().(tea.QuitMsg); !ok {
		t.Error("q did not quit")
	}
}
