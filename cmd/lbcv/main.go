// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package main

import (
	"os"

	"lbcv.dev/verifier/internal/verifycli"
)

func main() {
	os.Exit(verifycli.Main())
}
