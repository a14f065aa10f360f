// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package signalbroker

import (
	"context"
	"os"

	"github.com/matt-FFFFFF/neurorun/internal/ctxlog"
)

// Watch monitors the signal channel and handles signals.
// The first signal of a given type calls onFirst, which may be nil.
// The second signal of the same type cancels the context and closes the channel.
// Watch returns when the channel is closed or the context is done.
func Watch(ctx context.Context, sigCh chan os.Signal, onFirst func(os.Signal), cancel context.CancelFunc) {
	sigMap := make(map[os.Signal]struct{})

	for {
		select {
		case <-ctx.Done():
			return
		case sig, ok := <-sigCh:
			if !ok {
				return
			}

			if _, seen := sigMap[sig]; seen {
				ctxlog.Info(ctx, "watchdog", "detail", "received second signal of type, forcefully terminating", "signal", sig.String())
				// Unsubscribe first; the runtime must never send on a closed channel.
				Stop(sigCh)
				close(sigCh)
				cancel()

				return
			}

			ctxlog.Info(ctx, "watchdog", "detail", "received first signal of type, requesting stop", "signal", sig.String())

			sigMap[sig] = struct{}{}

			if onFirst != nil {
				onFirst(sig)
			}
		}
	}
}
