// Copyright 2025 KrakLabs
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package output writes the --json result payloads the dups and kidmon
// CLIs emit instead of their human-readable summaries, grounded on the
// teacher's cmd/cie output.JSON(result) call pattern.
package output

import (
	"encoding/json"
	"fmt"
	"os"
)

// JSON marshals v with indentation and writes it to stdout followed by
// a newline.
func JSON(v any) error {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(b))
	_ = os.Stdout.Sync()
	return nil
}
