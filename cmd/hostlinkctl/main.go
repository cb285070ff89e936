// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Hostlinkctl inspects and controls a running hostlink daemon through
// its admin socket, probes a host's peer listener, and generates host
// identities.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/bureau-foundation/hostlink/lib/version"
)

func main() {
	if len(os.Args) > 1 && os.Args[1] == "--version" {
		version.Print("hostlinkctl")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := rootCommand(os.Stdout).Execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
