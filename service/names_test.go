// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package service

import "testing"

func TestVideoServiceName(t *testing.T) {
	if got := VideoServiceName(Monitor, 0); got != "monitor0" {
		t.Errorf("VideoServiceName(Monitor, 0) = %q, want monitor0", got)
	}
	if got := VideoServiceName(Camera, 12); got != "camera12" {
		t.Errorf("VideoServiceName(Camera, 12) = %q, want camera12", got)
	}
}

func TestParseVideoServiceName(t *testing.T) {
	tests := []struct {
		name   string
		source VideoSource
		index  int
		ok     bool
	}{
		{"monitor0", Monitor, 0, true},
		{"monitor3", Monitor, 3, true},
		{"camera0", Camera, 0, true},
		{"camera10", Camera, 10, true},
		{"monitor", "", 0, false},
		{"monitor-1", "", 0, false},
		{"monitor+1", "", 0, false},
		{"monitorx", "", 0, false},
		{"audio", "", 0, false},
		{"mouse_pos", "", 0, false},
		{"Monitor0", "", 0, false},
		{"", "", 0, false},
	}
	for _, test := range tests {
		source, index, ok := ParseVideoServiceName(test.name)
		if source != test.source || index != test.index || ok != test.ok {
			t.Errorf("ParseVideoServiceName(%q) = (%q, %d, %v), want (%q, %d, %v)",
				test.name, source, index, ok, test.source, test.index, test.ok)
		}
		if IsVideoServiceName(test.name) != test.ok {
			t.Errorf("IsVideoServiceName(%q) = %v, want %v", test.name, !test.ok, test.ok)
		}
	}
}
