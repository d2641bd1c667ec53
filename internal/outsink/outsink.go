// Package outsink implements alternate consumers of a run's outputs
// channel (spec.md §6 "Outputs channel": "Consumers may persist per-
// label, filter, or aggregate"). It generalizes the teacher's
// single-purpose SMTP email node (nodes/email.go) into three
// interchangeable notification sinks selected by configuration, plus an
// in-process collector for tests/drivers that just want the messages.
package outsink

import (
	"context"
	"fmt"
	"sync"

	"github.com/rakunlabs/loom/internal/wfexternal"
)

// Sink receives every (label, value) emitted on a run's outputs channel.
type Sink interface {
	Send(ctx context.Context, msg wfexternal.OutputMessage) error
}

// Fanout drains a run's Outputs channel and forwards every message to
// each configured Sink, logging (not aborting the run on) delivery
// failures — a notification sink going down must never fail a workflow
// run (spec.md §5 treats Outputs as a side channel, not a correctness
// dependency).
type Fanout struct {
	Sinks  []Sink
	OnErr  func(sink Sink, msg wfexternal.OutputMessage, err error)
}

// Run drains ch until it closes or ctx is cancelled, forwarding every
// message to every configured sink.
func (f *Fanout) Run(ctx context.Context, ch <-chan wfexternal.OutputMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			for _, s := range f.Sinks {
				if err := s.Send(ctx, msg); err != nil && f.OnErr != nil {
					f.OnErr(s, msg, err)
				}
			}
		}
	}
}

// Collector is an in-process Sink that simply records every message,
// keyed by label, for drivers/tests that want the final aggregate
// rather than a live notification.
type Collector struct {
	mu       sync.Mutex
	byLabel  map[string][]wfexternal.OutputMessage
	ordered  []wfexternal.OutputMessage
}

func NewCollector() *Collector {
	return &Collector{byLabel: make(map[string][]wfexternal.OutputMessage)}
}

var _ Sink = (*Collector)(nil)

func (c *Collector) Send(_ context.Context, msg wfexternal.OutputMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.byLabel[msg.Label] = append(c.byLabel[msg.Label], msg)
	c.ordered = append(c.ordered, msg)
	return nil
}

// Ordered returns every message in the order it was received.
func (c *Collector) Ordered() []wfexternal.OutputMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wfexternal.OutputMessage{}, c.ordered...)
}

// ByLabel returns every message received under the given label.
func (c *Collector) ByLabel(label string) []wfexternal.OutputMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]wfexternal.OutputMessage{}, c.byLabel[label]...)
}

// errUnsupportedValue is returned when a sink is asked to render a Value
// kind it has no text projection for (e.g. a raw Chat handle).
var errUnsupportedValue = fmt.Errorf("outsink: value has no text rendering")
