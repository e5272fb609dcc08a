package genclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"sitecrew/cli/internal/retry"

	"github.com/sony/gobreaker"
)

type failingGenerator struct {
	calls int
	err   error
}

func (f *failingGenerator) OpenStream(ctx context.Context, req Request) (Stream, error) {
	f.calls++
	return nil, f.err
}

func (f *failingGenerator) Complete(ctx context.Context, req Request) (*Response, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &Response{Text: "ok"}, nil
}

func TestBreakerGenerator_OpensAfterConsecutiveFailures(t *testing.T) {
	next := &failingGenerator{err: errors.New("responses api status 500")}
	b := NewBreakerGenerator(next, BreakerConfig{ConsecutiveFailures: 2, OpenTimeout: time.Minute}, nil)

	for i := 0; i < 2; i++ {
		if _, err := b.OpenStream(context.Background(), Request{}); err == nil {
			t.Fatal("expected upstream error")
		}
	}
	if b.State() != gobreaker.StateOpen {
		t.Fatalf("expected open breaker, got %s", b.State())
	}
	_, err := b.Complete(context.Background(), Request{})
	if !errors.Is(err, gobreaker.ErrOpenState) || !retry.IsTransient(err) {
		t.Fatalf("open breaker must fail fast with a transient error, got %v", err)
	}
	if next.calls != 2 {
		t.Fatalf("open breaker must not reach upstream, calls=%d", next.calls)
	}
}

func TestBreakerGenerator_CancellationDoesNotTrip(t *testing.T) {
	next := &failingGenerator{err: context.Canceled}
	b := NewBreakerGenerator(next, BreakerConfig{ConsecutiveFailures: 1, OpenTimeout: time.Minute}, nil)
	_, _ = b.Complete(context.Background(), Request{})
	_, _ = b.Complete(context.Background(), Request{})
	if b.State() != gobreaker.StateClosed {
		t.Fatalf("cancellation must not open the breaker, got %s", b.State())
	}
}
