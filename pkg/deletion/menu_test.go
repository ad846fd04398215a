// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package deletion

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKeyMatcherIsCaseInsensitiveSingleChar(t *testing.T) {
	m := Key('i')
	require.True(t, m("i"))
	require.True(t, m("I"))
	require.False(t, m("io"))
	require.False(t, m("x"))
}

func TestRangeMatcherBounds(t *testing.T) {
	m := Range(1, 3)
	require.True(t, m("1"))
	require.True(t, m("3"))
	require.False(t, m("0"))
	require.False(t, m("4"))
	require.False(t, m("abc"))
}

func TestStreamIOBlankLineRepeatsPrevious(t *testing.T) {
	var out bytes.Buffer
	io := NewStreamIO(&out, strings.NewReader("hello\n\nq\n"))

	require.Equal(t, "hello", io.prompt())
	require.Equal(t, "hello", io.prompt()) // blank line repeats
	require.Equal(t, "q", io.prompt())
}

func TestRunMenuDispatchesToMatchingEntry(t *testing.T) {
	var out bytes.Buffer
	io := NewStreamIO(&out, strings.NewReader("i\n"))

	menu := NewMenu("group")
	fired := false
	menu.Add("[i] Ignore", Key('i'), func(io UserIO) Navigation {
		fired = true
		return Done
	})

	nav := RunMenu(io, menu, false)
	require.Equal(t, Done, nav)
	require.True(t, fired)
}

func TestRunMenuQuitsOnBlankInput(t *testing.T) {
	var out bytes.Buffer
	io := NewStreamIO(&out, strings.NewReader(""))

	menu := NewMenu("group")
	nav := RunMenu(io, menu, false)
	require.Equal(t, Quit, nav)
}

func TestRunMenuBackOnlyLegalForChildMenus(t *testing.T) {
	var out bytes.Buffer
	io := NewStreamIO(&out, strings.NewReader("b\n"))

	menu := NewMenu("sub")
	nav := RunMenu(io, menu, true)
	require.Equal(t, Back, nav)
}

func TestRunMenuInvalidInputReprompts(t *testing.T) {
	var out bytes.Buffer
	io := NewStreamIO(&out, strings.NewReader("zzz\nq\n"))

	menu := NewMenu("group")
	nav := RunMenu(io, menu, false)
	require.Equal(t, Quit, nav)
	require.Contains(t, out.String(), "Invalid input.")
}
