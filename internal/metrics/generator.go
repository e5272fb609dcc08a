package metrics

import (
	"context"
	"errors"
	"time"

	"sitecrew/cli/internal/genclient"
)

type instrumented struct {
	next genclient.Generator
	c    *Collector
	now  func() time.Time
}

// InstrumentGenerator counts calls and times how long each takes to start
// answering.
func InstrumentGenerator(next genclient.Generator, c *Collector) genclient.Generator {
	if c == nil {
		return next
	}
	return &instrumented{next: next, c: c, now: time.Now}
}

func (g *instrumented) OpenStream(ctx context.Context, req genclient.Request) (genclient.Stream, error) {
	start := g.now()
	stream, err := g.next.OpenStream(ctx, req)
	g.observe(req.Call, start, err)
	return stream, err
}

func (g *instrumented) Complete(ctx context.Context, req genclient.Request) (*genclient.Response, error) {
	start := g.now()
	resp, err := g.next.Complete(ctx, req)
	g.observe(req.Call, start, err)
	return resp, err
}

func (g *instrumented) observe(call string, start time.Time, err error) {
	if call == "" {
		call = "unknown"
	}
	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		status = "canceled"
	default:
		status = "error"
	}
	g.c.GenerationCalls.WithLabelValues(call, status).Inc()
	g.c.GenerationDuration.WithLabelValues(call).Observe(g.now().Sub(start).Seconds())
}
