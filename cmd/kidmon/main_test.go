// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"testing"

	flag "github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func TestFlagDefaultsMatchServerMode(t *testing.T) {
	fs := flag.NewFlagSet("kidmon", flag.ContinueOnError)
	isAgent := fs.Bool("agent", false, "")
	addr := fs.String("addr", "127.0.0.1:7932", "")
	require.NoError(t, fs.Parse(nil))

	require.False(t, *isAgent)
	require.Equal(t, "127.0.0.1:7932", *addr)
}

func TestAgentFlagSwitchesRole(t *testing.T) {
	fs := flag.NewFlagSet("kidmon", flag.ContinueOnError)
	isAgent := fs.Bool("agent", false, "")
	username := fs.String("username", "", "")
	require.NoError(t, fs.Parse([]string{"--agent", "--username", "alice"}))

	require.True(t, *isAgent)
	require.Equal(t, "alice", *username)
}
