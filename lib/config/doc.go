// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the hostlink daemon configuration.
//
// The file is named by the --config flag or the HOSTLINK_CONFIG
// environment variable. There is no search path. The format follows
// the file extension:
//
//   - .yaml / .yml via gopkg.in/yaml.v3
//   - .toml via github.com/BurntSushi/toml
//   - .json / .jsonc via github.com/tidwall/jsonc (comments and trailing
//     commas allowed) and encoding/json
//
// Values missing from the file keep their [Default]. ${HOME} and other
// ${VAR} references in paths are expanded after loading.
//
// [Watch] follows the file with inotify and hands each successfully
// reloaded Config to a callback. The daemon uses it to apply the audio
// input device and default permissions without a restart.
package config
