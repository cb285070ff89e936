// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/bureau-foundation/hostlink/identity"
	"github.com/bureau-foundation/hostlink/lib/config"
	"github.com/bureau-foundation/hostlink/lib/secret"
)

// readPassphrase reads the passphrase that seals the signing key: from
// path when set, otherwise from the terminal with confirmation.
func readPassphrase(path string) (*secret.Buffer, error) {
	if path != "" {
		return secret.ReadFile(path)
	}

	stdin := int(os.Stdin.Fd())
	if !term.IsTerminal(stdin) {
		return nil, errors.New("no terminal for the passphrase prompt (use --passphrase-file)")
	}

	fmt.Fprint(os.Stderr, "Passphrase: ")
	first, err := term.ReadPassword(stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase: %w", err)
	}
	defer secret.Zero(first)

	fmt.Fprint(os.Stderr, "Confirm passphrase: ")
	second, err := term.ReadPassword(stdin)
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return nil, fmt.Errorf("reading passphrase confirmation: %w", err)
	}
	defer secret.Zero(second)

	if len(first) == 0 {
		return nil, errors.New("passphrase is empty")
	}
	if !bytes.Equal(first, second) {
		return nil, errors.New("passphrases do not match")
	}
	return secret.NewFromBytes(first)
}

func keygenCommand(out io.Writer) *Command {
	var (
		configPath     string
		stateDir       string
		passphraseFile string
		seal           bool
	)
	return &Command{
		Name:    "keygen",
		Summary: "Generate the host signing key",
		Flags: func() *pflag.FlagSet {
			flagSet := pflag.NewFlagSet("keygen", pflag.ContinueOnError)
			flagSet.StringVar(&configPath, "config", "", "configuration file (default: $"+config.EnvironmentVariable+")")
			flagSet.StringVar(&stateDir, "state-dir", "", "identity directory (default: host.state_dir)")
			flagSet.StringVar(&passphraseFile, "passphrase-file", "", "seal the key with the passphrase in this file")
			flagSet.BoolVar(&seal, "seal", false, "seal the key with a passphrase read from the terminal")
			return flagSet
		},
		Run: func(ctx context.Context, args []string) error {
			if len(args) != 0 {
				return fmt.Errorf("unexpected argument %q", args[0])
			}
			if stateDir == "" {
				if configPath == "" {
					configPath = os.Getenv(config.EnvironmentVariable)
				}
				cfg, err := config.LoadOrDefault(configPath)
				if err != nil {
					return fmt.Errorf("loading configuration: %w", err)
				}
				stateDir = cfg.Host.StateDir
			}

			var passphrase *secret.Buffer
			if seal || passphraseFile != "" {
				var err error
				passphrase, err = readPassphrase(passphraseFile)
				if err != nil {
					return err
				}
				defer passphrase.Close()
			}

			public, err := identity.Generate(stateDir, passphrase)
			if errors.Is(err, identity.ErrKeyExists) {
				return fmt.Errorf("a signing key already exists in %s", stateDir)
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "host id     %s\n", identity.DeriveHostID(public))
			fmt.Fprintf(out, "public key  %s\n", base64.StdEncoding.EncodeToString(public))
			fmt.Fprintf(out, "written to  %s\n", stateDir)
			return nil
		},
	}
}
