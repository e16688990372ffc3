// Copyright 2024 The zb Authors
// SPDX-License-Identifier: MIT

package verifycli

import (
	"context"
	"os/signal"
)

// contextWithSignals returns a context canceled when the process
// receives one of interruptSignals, and a stop function that releases
// the signal handler early.
func contextWithSignals(parent context.Context) (context.Context, func()) {
	return signal.NotifyContext(parent, interruptSignals...)
}
