// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

package main

import (
	"io"
	"os"
	"time"

	pb "github.com/schollz/progressbar/v3"

	"github.com/kraklabs/kidmon/pkg/progress"
)

// cliProgress renders scan/stat/hash progress ticks with a progress bar per
// phase, throttled by throttle so a fast scan doesn't flood the terminal
// with redraws. Reports are suppressed entirely in JSON mode, matching the
// rest of this command's JSON/human output split.
type cliProgress struct {
	throttle time.Duration
	quiet    bool

	phase    string
	bar      *pb.ProgressBar
	lastDraw time.Time
}

func newCLIProgress(throttle time.Duration, quiet bool) *cliProgress {
	if throttle <= 0 {
		throttle = 100 * time.Millisecond
	}
	return &cliProgress{throttle: throttle, quiet: quiet}
}

func (p *cliProgress) Report(current, total int64, phase string) {
	if p.quiet {
		return
	}
	if phase != p.phase || p.bar == nil {
		p.phase = phase
		p.bar = pb.NewOptions64(total,
			pb.OptionSetDescription(phase),
			pb.OptionSetWriter(cliProgressWriter()),
			pb.OptionShowCount(),
			pb.OptionClearOnFinish(),
		)
		p.lastDraw = time.Time{}
	}
	if total > 0 {
		_ = p.bar.Set64(current)
	}
	now := time.Now()
	if current < total && now.Sub(p.lastDraw) < p.throttle {
		return
	}
	p.lastDraw = now
	if current >= total {
		_ = p.bar.Finish()
	}
}

func cliProgressWriter() io.Writer {
	return os.Stderr
}
