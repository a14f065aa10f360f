// Copyright (c) matt-FFFFFF 2025. All rights reserved.
// SPDX-License-Identifier: MIT

package progress

// Funcs is a Reporter and Listener that dispatches each event type to an optional callback.
// Callbacks run synchronously on the reporting goroutine.
type Funcs struct {
	OnProgress        func(percent int)
	OnItemStatus      func(index int, name string, status ItemStatus)
	OnLog             func(level Level, msg string)
	OnEntityCompleted func(entity string)
	OnFinished        func(success bool, outcome Outcome, summary string)
}

var (
	_ Reporter = (*Funcs)(nil)
	_ Listener = (*Funcs)(nil)
)

// Report implements Reporter.
func (f *Funcs) Report(e Event) {
	f.OnEvent(e)
}

// Close implements Reporter.
func (f *Funcs) Close() {}

// OnEvent implements Listener.
func (f *Funcs) OnEvent(e Event) {
	switch e.Type {
	case EventProgress:
		if f.OnProgress != nil {
			f.OnProgress(e.Percent)
		}
	case EventItemStatus:
		if f.OnItemStatus != nil {
			f.OnItemStatus(e.Item, e.ItemName, e.Status)
		}
	case EventLog:
		if f.OnLog != nil {
			f.OnLog(e.Level, e.Message)
		}
	case EventEntityCompleted:
		if f.OnEntityCompleted != nil {
			f.OnEntityCompleted(e.Entity)
		}
	case EventFinished:
		if f.OnFinished != nil {
			f.OnFinished(e.Success, e.Outcome, e.Message)
		}
	}
}

type tee []Reporter

// Tee returns a Reporter that forwards each event to every reporter in order.
// Closing it closes all of them.
func Tee(reporters ...Reporter) Reporter {
	t := make(tee, 0, len(reporters))

	for _, r := range reporters {
		if r != nil {
			t = append(t, r)
		}
	}

	return t
}

func (t tee) Report(e Event) {
	for _, r := range t {
		r.Report(e)
	}
}

func (t tee) Close() {
	for _, r := range t {
		r.Close()
	}
}
