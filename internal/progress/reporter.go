// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

import (
	"context"
	"sync"
)

// Reporter is the interface for sending progress events.
type Reporter interface {
	// Report sends a progress event.
	Report(event Event)
	// Close signals that no more events will be sent and cleans up resources.
	Close()
}

// Listener receives progress events.
// TUI implementations and other monitoring systems implement this interface.
type Listener interface {
	// OnEvent is called when a progress event is received.
	OnEvent(event Event)
}

// NullReporter is a no-op implementation of Reporter.
type NullReporter struct{}

// Report implements Reporter.Report by doing nothing.
func (nr *NullReporter) Report(_ Event) {}

// Close implements Reporter.Close by doing nothing.
func (nr *NullReporter) Close() {}

// NewNullReporter creates a new NullReporter.
func NewNullReporter() Reporter {
	return &NullReporter{}
}

// ChannelReporter implements Reporter using a Go channel.
// Report blocks until the event is buffered, so events are never dropped or reordered
// while the reporter's context is live.
type ChannelReporter struct {
	ch     chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	once   sync.Once
}

// NewChannelReporter creates a new ChannelReporter with the specified buffer size.
func NewChannelReporter(ctx context.Context, bufferSize int) *ChannelReporter {
	reporterCtx, cancel := context.WithCancel(ctx)

	return &ChannelReporter{
		ch:     make(chan Event, bufferSize),
		ctx:    reporterCtx,
		cancel: cancel,
	}
}

// Report implements Reporter.Report.
// Events reported after Close or after the context is done are dropped.
func (cr *ChannelReporter) Report(event Event) {
	cr.mu.RLock()
	defer cr.mu.RUnlock()

	if cr.closed || cr.ctx.Err() != nil {
		return
	}

	select {
	case cr.ch <- event:
	case <-cr.ctx.Done():
	}
}

// Close implements Reporter.Close.
// It unblocks pending senders, closes the channel and waits for any listener to drain it.
func (cr *ChannelReporter) Close() {
	cr.once.Do(func() {
		cr.cancel()
		cr.mu.Lock()
		cr.closed = true
		close(cr.ch)
		cr.mu.Unlock()
		cr.wg.Wait()
	})
}

// Listen forwards events to the listener on a new goroutine until the reporter is closed.
// Buffered events are delivered before Close returns.
func (cr *ChannelReporter) Listen(listener Listener) {
	cr.wg.Add(1)

	go func() {
		defer cr.wg.Done()

		for event := range cr.ch {
			listener.OnEvent(event)
		}
	}()
}

// Events returns a read-only channel of progress events.
// Useful when you want to handle events manually instead of using a listener.
func (cr *ChannelReporter) Events() <-chan Event {
	return cr.ch
}

// Context returns the reporter's context.
func (cr *ChannelReporter) Context() context.Context {
	return cr.ctx
}
