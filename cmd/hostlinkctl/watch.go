// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/bureau-foundation/hostlink/adminapi"
	"github.com/bureau-foundation/hostlink/host"
)

// snapshot is one poll of the daemon.
type snapshot struct {
	status      adminapi.Status
	connections []host.ConnectionInfo
	at          time.Time
}

type snapshotMsg struct {
	snapshot snapshot
	err      error
}

type tickMsg time.Time

// watchModel redraws the status and connection table on every poll.
type watchModel struct {
	fetch    func() (snapshot, error)
	interval time.Duration

	latest snapshot
	err    error
	loaded bool
}

func newWatchModel(fetch func() (snapshot, error), interval time.Duration) watchModel {
	return watchModel{fetch: fetch, interval: interval}
}

func (m watchModel) Init() tea.Cmd {
	return m.poll
}

func (m watchModel) poll() tea.Msg {
	result, err := m.fetch()
	return snapshotMsg{snapshot: result, err: err}
}

func (m watchModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		case "r":
			return m, m.poll
		}
	case snapshotMsg:
		m.err = msg.err
		if msg.err == nil {
			m.latest = msg.snapshot
			m.loaded = true
		}
		return m, tea.Tick(m.interval, func(t time.Time) tea.Msg { return tickMsg(t) })
	case tickMsg:
		return m, m.poll
	}
	return m, nil
}

func (m watchModel) View() string {
	var builder strings.Builder
	builder.WriteString(headerStyle.Render("hostlink") + "\n\n")
	if m.err != nil {
		builder.WriteString(badStyle.Render("poll failed: "+m.err.Error()) + "\n\n")
	}
	if !m.loaded {
		builder.WriteString(faintStyle.Render("waiting for the daemon...") + "\n")
	} else {
		builder.WriteString(renderStatus(m.latest.status))
		builder.WriteString("\n")
		if len(m.latest.connections) == 0 {
			builder.WriteString(faintStyle.Render("no connections") + "\n")
		} else {
			builder.WriteString(renderConnections(m.latest.connections, m.latest.at))
		}
	}
	builder.WriteString("\n" + faintStyle.Render("q quit  r refresh") + "\n")
	return builder.String()
}

func watchCommand() *Command {
	var connection adminConnection
	var interval time.Duration
	return &Command{
		Name:    "watch",
		Summary: "Live view of the daemon and its connections",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("watch", pflag.ContinueOnError)
			connection.addFlags(flagSet)
			flagSet.DurationVar(&interval, "interval", time.Second, "poll interval")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			fetch := func() (snapshot, error) {
				var result snapshot
				if err := connection.call(ctx, adminapi.ActionStatus, nil, &result.status); err != nil {
					return snapshot{}, err
				}
				if err := connection.call(ctx, adminapi.ActionConnections, nil, &result.connections); err != nil {
					return snapshot{}, err
				}
				result.at = time.Now()
				return result, nil
			}
			program := tea.NewProgram(newWatchModel(fetch, interval), tea.WithAltScreen(), tea.WithContext(ctx))
			_, err := program.Run()
			if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
				return nil
			}
			return err
		},
	}
}
