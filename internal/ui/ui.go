// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package ui provides the small set of colored-terminal helpers the
// dups and kidmon CLIs use for headers, status lines, and counters,
// built on github.com/fatih/color (the same library pkg/deletion's
// menu already wires for invalid-input messages).
package ui

import (
	"fmt"

	"github.com/fatih/color"
)

// Color set used across command output. Exported as *color.Color so
// callers can chain .Println/.Printf/.Sprint directly, matching the
// teacher's ui.Green.Println(...) call pattern.
var (
	Green  = color.New(color.FgGreen)
	Yellow = color.New(color.FgYellow)
	Red    = color.New(color.FgRed)
	Cyan   = color.New(color.FgCyan)
	Dim    = color.New(color.Faint)
)

// InitColors disables color globally when noColor is true or when
// NO_COLOR/non-tty output makes color inappropriate; fatih/color already
// auto-detects the latter, this only handles the explicit flag.
func InitColors(noColor bool) {
	color.NoColor = color.NoColor || noColor
}

// Header prints a bold section banner.
func Header(title string) {
	bold := color.New(color.Bold)
	bold.Printf("\n=== %s ===\n", title)
}

// SubHeader prints a lighter-weight section label.
func SubHeader(title string) {
	bold := color.New(color.Bold)
	bold.Println(title)
}

// Label dims a field name for "Label: value" lines.
func Label(text string) string {
	return Dim.Sprint(text)
}

// DimText dims arbitrary text, e.g. durations and paths.
func DimText(text string) string {
	return Dim.Sprint(text)
}

// CountText highlights a count in cyan.
func CountText(n any) string {
	return Cyan.Sprint(fmt.Sprint(n))
}

// Success prints a green "✓ message" line.
func Success(msg string) {
	_, _ = Green.Printf("✓ %s\n", msg)
}

// Successf formats then prints a Success line.
func Successf(format string, args ...any) {
	Success(fmt.Sprintf(format, args...))
}

// Warning prints a yellow warning line.
func Warning(msg string) {
	_, _ = Yellow.Printf("! %s\n", msg)
}

// Warningf formats then prints a Warning line.
func Warningf(format string, args ...any) {
	Warning(fmt.Sprintf(format, args...))
}

// Info prints a plain informational line.
func Info(msg string) {
	fmt.Println(msg)
}

// Infof formats then prints an Info line.
func Infof(format string, args ...any) {
	Info(fmt.Sprintf(format, args...))
}
