package outsink

import (
	"context"
	"errors"
	"testing"

	"github.com/rakunlabs/loom/internal/wfexternal"
	"github.com/rakunlabs/loom/internal/wfvalue"
)

type failingSink struct{ err error }

func (f failingSink) Send(context.Context, wfexternal.OutputMessage) error { return f.err }

func TestFanoutForwardsToAllSinks(t *testing.T) {
	c1 := NewCollector()
	c2 := NewCollector()
	ch := make(chan wfexternal.OutputMessage, 2)
	ch <- wfexternal.OutputMessage{Label: "a", Value: wfvalue.Text("hello")}
	ch <- wfexternal.OutputMessage{Label: "b", Value: wfvalue.Integer(42)}
	close(ch)

	f := &Fanout{Sinks: []Sink{c1, c2}}
	f.Run(context.Background(), ch)

	for _, c := range []*Collector{c1, c2} {
		if len(c.Ordered()) != 2 {
			t.Fatalf("expected 2 messages, got %d", len(c.Ordered()))
		}
		if len(c.ByLabel("a")) != 1 {
			t.Fatalf("expected 1 message for label a")
		}
	}
}

func TestFanoutCallsOnErrWithoutAborting(t *testing.T) {
	boom := errors.New("boom")
	var gotErr error
	ch := make(chan wfexternal.OutputMessage, 1)
	ch <- wfexternal.OutputMessage{Label: "a", Value: wfvalue.Text("x")}
	close(ch)

	f := &Fanout{
		Sinks: []Sink{failingSink{err: boom}},
		OnErr: func(_ Sink, _ wfexternal.OutputMessage, err error) { gotErr = err },
	}
	f.Run(context.Background(), ch)

	if !errors.Is(gotErr, boom) {
		t.Fatalf("expected OnErr called with boom, got %v", gotErr)
	}
}

func TestRenderTextKinds(t *testing.T) {
	cases := []struct {
		v    wfvalue.Value
		want string
	}{
		{wfvalue.Text("hi"), "hi"},
		{wfvalue.Integer(7), "7"},
	}
	for _, c := range cases {
		got, err := renderText(c.v)
		if err != nil {
			t.Fatalf("renderText: %v", err)
		}
		if got != c.want {
			t.Fatalf("renderText(%v) = %q, want %q", c.v, got, c.want)
		}
	}
}

func TestRenderTextUnsupported(t *testing.T) {
	_, err := renderText(wfvalue.Agent(wfvalue.AgentSpec{}))
	if !errors.Is(err, errUnsupportedValue) {
		t.Fatalf("expected errUnsupportedValue, got %v", err)
	}
}
