// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"testing"

	"github.com/bureau-foundation/hostlink/lib/config"
	"github.com/bureau-foundation/hostlink/service"
)

func TestPermissionsDenylist(t *testing.T) {
	all := Permissions{
		Keyboard:           true,
		Clipboard:          true,
		Audio:              true,
		ShowRemoteCursor:   true,
		FollowRemoteWindow: true,
		Printer:            true,
	}

	tests := []struct {
		name   string
		modify func(*Permissions)
		want   []string
	}{
		{
			name:   "everything granted",
			modify: func(*Permissions) {},
			want:   []string{},
		},
		{
			name:   "no remote cursor keeps cursor shape for keyboard",
			modify: func(p *Permissions) { p.ShowRemoteCursor = false },
			want:   []string{service.MousePosition},
		},
		{
			name: "no keyboard and no remote cursor",
			modify: func(p *Permissions) {
				p.Keyboard = false
				p.ShowRemoteCursor = false
			},
			want: []string{service.Clipboard, service.MouseCursor, service.MousePosition},
		},
		{
			name:   "no keyboard withholds clipboard",
			modify: func(p *Permissions) { p.Keyboard = false },
			want:   []string{service.Clipboard},
		},
		{
			name:   "no window following",
			modify: func(p *Permissions) { p.FollowRemoteWindow = false },
			want:   []string{service.MouseWindowFocus},
		},
		{
			name: "no audio and no printer",
			modify: func(p *Permissions) {
				p.Audio = false
				p.Printer = false
			},
			want: []string{service.Audio, service.Printer},
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			permissions := all
			test.modify(&permissions)
			requireStrings(t, "Denylist()", permissions.Denylist().Names(), test.want)
		})
	}
}

func TestPermissionsFromDefaultConfig(t *testing.T) {
	permissions := PermissionsFromConfig(config.Default().Permissions)
	denied := permissions.Denylist()

	for _, name := range []string{service.MouseWindowFocus, service.Printer} {
		if !denied.Contains(name) {
			t.Errorf("default permissions allow %s", name)
		}
	}
	for _, name := range []string{service.Clipboard, service.Audio, service.MouseCursor, service.MousePosition} {
		if denied.Contains(name) {
			t.Errorf("default permissions deny %s", name)
		}
	}
}

func TestNilDenylistDeniesNothing(t *testing.T) {
	var denied Denylist
	if denied.Contains(service.Audio) {
		t.Fatal("nil Denylist denies audio")
	}
	if names := denied.Names(); len(names) != 0 {
		t.Fatalf("Names() = %v, want none", names)
	}
}
