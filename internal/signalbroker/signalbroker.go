// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

// Package signalbroker turns termination signals into a two-stage stop.
//
// New subscribes a channel to SIGINT, SIGTERM and SIGQUIT. Watch reads it:
// the first signal of a kind asks the running batch to stop cooperatively, so
// the active external process is terminated and given its grace period. A
// repeat of the same signal abandons that and cancels the root context.
package signalbroker

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
)

// stopSignals are delivered when no signals are given to New.
// os.Interrupt is SIGINT on every platform that has it.
var stopSignals = []os.Signal{
	os.Interrupt,
	syscall.SIGTERM,
	syscall.SIGQUIT,
}

// New returns a channel subscribed to sigs, or to the stop signals if none are given.
// Release it with Stop, or let Watch release it after a forced stop.
func New(ctx context.Context, sigs ...os.Signal) chan os.Signal {
	if len(sigs) == 0 {
		sigs = stopSignals
	}

	ch := make(chan os.Signal, len(sigs))
	signal.Notify(ch, sigs...)

	ctxlog.Debug(ctx, "signalbroker", "detail", "subscribed to stop signals", "signals", sigs)

	return ch
}

// Stop unsubscribes ch. No signal is delivered to it after Stop returns.
func Stop(ch chan os.Signal) {
	signal.Stop(ch)
}
