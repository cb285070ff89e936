// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// watchDebounce coalesces the burst of events an editor produces when
// saving.
const watchDebounce = 50 * time.Millisecond

// Watch follows path with inotify and calls onChange with each
// reloaded configuration that passes Validate. Reload failures are
// logged and the previous configuration stays in effect. Watch returns
// once the watch is established; the watcher stops when ctx is
// cancelled.
//
// The parent directory is watched for IN_CLOSE_WRITE and IN_MOVED_TO
// so both in-place writes and atomic renames are seen.
func Watch(ctx context.Context, path string, logger *slog.Logger, onChange func(*Config)) error {
	absolutePath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return fmt.Errorf("inotify init: %w", err)
	}
	if _, err := unix.InotifyAddWatch(fd, filepath.Dir(absolutePath), unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO); err != nil {
		unix.Close(fd)
		return fmt.Errorf("watching %s: %w", filepath.Dir(absolutePath), err)
	}

	go watchLoop(ctx, fd, absolutePath, logger, onChange)
	return nil
}

func watchLoop(ctx context.Context, fd int, path string, logger *slog.Logger, onChange func(*Config)) {
	defer unix.Close(fd)

	filename := filepath.Base(path)
	buffer := make([]byte, 4096)

	for {
		if ctx.Err() != nil {
			return
		}

		pollDescriptors := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		count, err := unix.Poll(pollDescriptors, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			logger.Error("config watcher stopped", "path", path, "error", err)
			return
		}
		if count == 0 {
			continue
		}

		bytesRead, err := unix.Read(fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			logger.Error("config watcher stopped", "path", path, "error", err)
			return
		}
		if !eventsMatchFile(buffer[:bytesRead], filename) {
			continue
		}

		time.Sleep(watchDebounce)
		drainEvents(fd, buffer)

		reloaded, err := LoadFile(path)
		if err != nil {
			logger.Warn("config reload failed", "path", path, "error", err)
			continue
		}
		if err := reloaded.Validate(); err != nil {
			logger.Warn("reloaded config is invalid", "path", path, "error", err)
			continue
		}
		logger.Info("config reloaded", "path", path)
		onChange(reloaded)
	}
}

// eventsMatchFile reports whether any inotify event in buffer names
// target. Layout from inotify(7):
//
//	struct inotify_event {
//	    int32_t  wd;     // offset 0
//	    uint32_t mask;   // offset 4
//	    uint32_t cookie; // offset 8
//	    uint32_t len;    // offset 12
//	    char     name[]; // offset 16, null-padded to alignment
//	};
func eventsMatchFile(buffer []byte, target string) bool {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventSize := unix.SizeofInotifyEvent + nameLength
		if offset+eventSize > len(buffer) {
			break
		}
		if nameLength > 0 {
			name := buffer[offset+unix.SizeofInotifyEvent : offset+eventSize]
			if index := bytes.IndexByte(name, 0); index >= 0 {
				name = name[:index]
			}
			if string(name) == target {
				return true
			}
		}
		offset += eventSize
	}
	return false
}

func drainEvents(fd int, buffer []byte) {
	for {
		if _, err := unix.Read(fd, buffer); err != nil {
			return
		}
	}
}
