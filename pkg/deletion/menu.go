// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package deletion

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/fatih/color"
)

// Navigation is the result of running one menu entry's action, telling
// RunMenu what to do next. Mirrors tools::dups::Navigation.
type Navigation int

const (
	// Continue re-prompts the same menu.
	Continue Navigation = iota
	// Back pops one level; only legal when the menu is a sub-menu.
	Back
	// Done means the group (or sub-task) was resolved.
	Done
	// Quit halts the outer iteration entirely.
	Quit
)

// Matcher reports whether raw user input selects a MenuEntry.
type Matcher func(input string) bool

// Action runs when its entry's Matcher accepts the current input. It
// reads the input that triggered it via UserIO.CurrentPrompt.
type Action func(io UserIO) Navigation

// MenuEntry pairs a human label with the predicate and handler that
// fire when a user picks it.
type MenuEntry struct {
	Title   string
	Matcher Matcher
	Action  Action
}

// Menu is an ordered list of entries under one title.
type Menu struct {
	Title   string
	Entries []MenuEntry
}

// NewMenu builds an empty menu titled title.
func NewMenu(title string) *Menu {
	return &Menu{Title: title}
}

// Add appends one entry.
func (m *Menu) Add(title string, matcher Matcher, action Action) {
	m.Entries = append(m.Entries, MenuEntry{Title: title, Matcher: matcher, Action: action})
}

// UserIO is the rendering/input seam RunMenu drives. StreamIO is the
// only production implementation; tests substitute a scripted one.
type UserIO interface {
	PrintText(text string)
	CurrentPrompt() string

	printOptions(m *Menu, isChild bool)
	prompt() string
	invalidInput()
}

// RunMenu drives m to resolution, mirroring UserIO::run: print the
// current menu, read one line of input, handle the built-in "b"/"q"
// shortcuts, then dispatch to whichever entries match. Dispatch stops
// at the first Quit or Done result; unmatched input invokes
// invalidInput and loops.
func RunMenu(io UserIO, m *Menu, isChild bool) Navigation {
	for {
		io.printOptions(m, isChild)
		input := io.prompt()

		if input == "" {
			return Quit
		}
		if isChild && strings.EqualFold(input, "b") {
			return Back
		}
		if strings.EqualFold(input, "q") {
			return Quit
		}

		handled := false
		for _, entry := range m.Entries {
			if !entry.Matcher(input) {
				continue
			}
			handled = true
			if result := entry.Action(io); result == Quit || result == Done {
				return result
			}
		}
		if !handled {
			io.invalidInput()
		}
	}
}

// StreamIO renders menus to out and reads lines from in. A blank line
// repeats the previous non-blank input, matching StreamIO::prompt.
type StreamIO struct {
	out        io.Writer
	scanner    *bufio.Scanner
	prevInput  string
	lastPrompt string
}

// NewStreamIO wraps out/in for interactive use.
func NewStreamIO(out io.Writer, in io.Reader) *StreamIO {
	return &StreamIO{out: out, scanner: bufio.NewScanner(in)}
}

func (s *StreamIO) PrintText(text string) { fmt.Fprint(s.out, text) }

func (s *StreamIO) CurrentPrompt() string { return s.lastPrompt }

func (s *StreamIO) printOptions(m *Menu, isChild bool) {
	header := fmt.Sprintf("> %s <", m.Title)
	fmt.Fprintln(s.out, center(header, 60, '-'))
	for _, e := range m.Entries {
		fmt.Fprintf(s.out, "  %s\n", e.Title)
	}
	if isChild {
		fmt.Fprintln(s.out, "  [b] Back")
	}
	fmt.Fprintln(s.out, "  [q] Quit")
}

func (s *StreamIO) invalidInput() {
	fmt.Fprintln(s.out, color.RedString("Invalid input."))
}

func (s *StreamIO) prompt() string {
	for {
		fmt.Fprint(s.out, "> ")
		if !s.scanner.Scan() {
			s.lastPrompt = ""
			return ""
		}
		line := s.scanner.Text()
		if line == "" {
			line = s.prevInput
		}
		if line != "" {
			s.prevInput = line
			s.lastPrompt = line
			return line
		}
	}
}

func center(s string, width int, pad byte) string {
	if len(s) >= width {
		return s
	}
	total := width - len(s)
	left := total / 2
	right := total - left
	return strings.Repeat(string(pad), left) + s + strings.Repeat(string(pad), right)
}

// Key matches a single case-insensitive letter, e.g. "i" or "I".
func Key(c byte) Matcher {
	return func(input string) bool {
		return len(input) == 1 && lower(input[0]) == lower(c)
	}
}

// Range matches a decimal integer within [min, max] inclusive.
func Range(min, max int) Matcher {
	return func(input string) bool {
		v, err := strconv.Atoi(input)
		if err != nil {
			return false
		}
		return v >= min && v <= max
	}
}

func lower(c byte) byte {
	if c >= 'A' && c <= 'Z' {
		return c + ('a' - 'A')
	}
	return c
}
