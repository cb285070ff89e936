// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package host

import (
	"sort"

	"github.com/bureau-foundation/hostlink/lib/config"
	"github.com/bureau-foundation/hostlink/service"
)

// Permissions is what a desktop session may do. It is evaluated once,
// at admission, into a Denylist.
type Permissions struct {
	Keyboard           bool
	Clipboard          bool
	Audio              bool
	ShowRemoteCursor   bool
	FollowRemoteWindow bool
	Printer            bool
}

// PermissionsFromConfig converts the configured defaults.
func PermissionsFromConfig(permissions config.PermissionsConfig) Permissions {
	return Permissions{
		Keyboard:           permissions.Keyboard,
		Clipboard:          permissions.Clipboard,
		Audio:              permissions.Audio,
		ShowRemoteCursor:   permissions.ShowRemoteCursor,
		FollowRemoteWindow: permissions.FollowRemoteWindow,
		Printer:            permissions.Printer,
	}
}

// Denylist returns the services these permissions withhold.
func (p Permissions) Denylist() Denylist {
	denied := make(Denylist)
	if !p.Keyboard && !p.ShowRemoteCursor {
		denied.add(service.MouseCursor)
	}
	if !p.ShowRemoteCursor {
		denied.add(service.MousePosition)
	}
	if !p.FollowRemoteWindow {
		denied.add(service.MouseWindowFocus)
	}
	if !p.Clipboard || !p.Keyboard {
		denied.add(service.Clipboard)
	}
	if !p.Audio {
		denied.add(service.Audio)
	}
	if !p.Printer {
		denied.add(service.Printer)
	}
	return denied
}

// Denylist is a set of service names a connection may not subscribe
// to. A nil Denylist denies nothing.
type Denylist map[string]struct{}

func (d Denylist) add(name string) { d[name] = struct{}{} }

// Contains reports whether name is denied.
func (d Denylist) Contains(name string) bool {
	_, denied := d[name]
	return denied
}

// Names returns the denied names, sorted.
func (d Denylist) Names() []string {
	names := make([]string, 0, len(d))
	for name := range d {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
