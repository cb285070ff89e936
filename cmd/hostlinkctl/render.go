// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/bureau-foundation/hostlink/adminapi"
	"github.com/bureau-foundation/hostlink/history"
	"github.com/bureau-foundation/hostlink/host"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	faintStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	goodStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	badStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	labelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("245")).Width(20)
)

// table renders rows under a bold header, padding every column to its
// widest cell. Cells may carry ANSI styling.
type table struct {
	header []string
	rows   [][]string
}

func (t *table) add(cells ...string) {
	t.rows = append(t.rows, cells)
}

func (t *table) String() string {
	widths := make([]int, len(t.header))
	for column, cell := range t.header {
		widths[column] = lipgloss.Width(cell)
	}
	for _, row := range t.rows {
		for column, cell := range row {
			if column < len(widths) && lipgloss.Width(cell) > widths[column] {
				widths[column] = lipgloss.Width(cell)
			}
		}
	}

	var builder strings.Builder
	writeRow := func(cells []string, style *lipgloss.Style) {
		for column, cell := range cells {
			if column >= len(widths) {
				break
			}
			if style != nil {
				cell = style.Render(cell)
			}
			builder.WriteString(cell)
			if column < len(cells)-1 {
				builder.WriteString(strings.Repeat(" ", widths[column]-lipgloss.Width(cell)+2))
			}
		}
		builder.WriteString("\n")
	}
	writeRow(t.header, &headerStyle)
	for _, row := range t.rows {
		writeRow(row, nil)
	}
	return builder.String()
}

func writeJSON(w io.Writer, value any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}

func yesNo(value bool) string {
	if value {
		return goodStyle.Render("yes")
	}
	return badStyle.Render("no")
}

func renderStatus(status adminapi.Status) string {
	var builder strings.Builder
	line := func(label, value string) {
		builder.WriteString(labelStyle.Render(label) + value + "\n")
	}
	line("host id", status.HostID)
	line("version", status.Version)
	line("uptime", (time.Duration(status.UptimeSeconds) * time.Second).String())
	line("security required", yesNo(status.SecurityRequired))
	line("key confirmed", yesNo(status.KeyConfirmed))
	line("high resolution", yesNo(status.HighResolution))
	line("connections", strconv.Itoa(status.Connections))
	line("services", strconv.Itoa(status.Services))
	if status.AudioInput != "" {
		line("audio input", status.AudioInput)
	}
	line("history", yesNo(status.HistoryEnabled))
	for index, listener := range status.Listeners {
		label := ""
		if index == 0 {
			label = "listeners"
		}
		line(label, listener)
	}
	return builder.String()
}

func renderServices(services []adminapi.Service) string {
	t := &table{header: []string{"SERVICE", "RUNNING", "SUBSCRIBERS", "OPTIONS"}}
	for _, svc := range services {
		subscribers := make([]string, 0, len(svc.Subscribers))
		for _, id := range svc.Subscribers {
			subscribers = append(subscribers, strconv.Itoa(int(id)))
		}
		options := make([]string, 0, len(svc.Options))
		for key, value := range svc.Options {
			options = append(options, key+"="+value)
		}
		slices.Sort(options)
		t.add(svc.Name, yesNo(svc.OK), dash(strings.Join(subscribers, ",")), dash(strings.Join(options, " ")))
	}
	return t.String()
}

func renderConnections(connections []host.ConnectionInfo, now time.Time) string {
	t := &table{header: []string{"ID", "PEER", "NAME", "KIND", "STATE", "ENCRYPTED", "AGE", "LATENCY", "SENT", "DROPPED"}}
	for _, conn := range connections {
		age := "-"
		if !conn.Started.IsZero() {
			age = now.Sub(conn.Started).Truncate(time.Second).String()
		}
		t.add(
			strconv.Itoa(int(conn.ID)),
			dash(conn.Peer),
			dash(conn.PeerName),
			dash(conn.Kind),
			dash(conn.State),
			yesNo(conn.Encrypted),
			age,
			fmt.Sprintf("%dms", conn.LatencyMillis),
			strconv.FormatUint(conn.Sent, 10),
			strconv.FormatUint(conn.Dropped, 10),
		)
	}
	return t.String()
}

func renderHistory(records []history.Record) string {
	t := &table{header: []string{"STARTED", "ID", "PEER", "NAME", "KIND", "DURATION", "OUTCOME"}}
	for _, record := range records {
		duration := faintStyle.Render("open")
		if !record.Ended.IsZero() {
			duration = record.Ended.Sub(record.Started).Truncate(time.Second).String()
		}
		outcome := dash(record.Reason)
		if record.Rejected {
			duration = "-"
			outcome = badStyle.Render("rejected: " + record.Reason)
		}
		t.add(
			record.Started.Local().Format(time.DateTime),
			strconv.Itoa(int(record.ConnectionID)),
			dash(record.Peer),
			dash(record.PeerName),
			dash(record.Kind),
			duration,
			outcome,
		)
	}
	return t.String()
}

func dash(value string) string {
	if value == "" {
		return faintStyle.Render("-")
	}
	return value
}
