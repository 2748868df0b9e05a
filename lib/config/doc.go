// Copyright 2026 The Strangers Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for the strangers
// client.
//
// Configuration is loaded from a single file specified by either the
// STRANGERS_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no ~/.config discovery and no automatic
// file search. Running without a file uses [Default], which is enough
// for the in-memory demo but not for joining a real lobby.
//
// The file may contain development and production sections. The
// section matching [Config].Environment is decoded over the base
// values after the file loads, so it only needs to name the fields it
// changes.
//
// ${HOME} and ${VAR:-default} patterns in storage.path are expanded
// after loading. No other environment variables override values.
package config
