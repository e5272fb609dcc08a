package retry

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// SafetyBuffer is added on top of any server-suggested delay.
const SafetyBuffer = 500 * time.Millisecond

type Policy struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, InitialDelay: 2000 * time.Millisecond}
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 1
	}
	if p.InitialDelay < 0 {
		p.InitialDelay = 0
	}
	return p
}

type SleepFunc func(ctx context.Context, d time.Duration) error

// Executor retries fallible calls into upstream services.
type Executor struct {
	Sleep   SleepFunc
	Logger  *slog.Logger
	OnRetry func(call string, attempt int, wait time.Duration, err error)
}

func NewExecutor(logger *slog.Logger) *Executor {
	return &Executor{Sleep: sleepContext, Logger: logger}
}

// Do calls op until it succeeds, a non-retryable error occurs, or the policy's
// attempts are exhausted. The last error is returned unchanged.
func Do[T any](ctx context.Context, ex *Executor, call string, policy Policy, isRetryable func(error) bool, op func(context.Context) (T, error)) (T, error) {
	var zero T
	if ex == nil {
		ex = NewExecutor(nil)
	}
	if isRetryable == nil {
		isRetryable = IsTransient
	}
	sleep := ex.Sleep
	if sleep == nil {
		sleep = sleepContext
	}
	policy = policy.normalized()
	delay := policy.InitialDelay
	for attempt := 1; ; attempt++ {
		out, err := op(ctx)
		if err == nil {
			return out, nil
		}
		if attempt >= policy.MaxAttempts || !isRetryable(err) {
			if ex.Logger != nil {
				ex.Logger.Error("upstream call failed", "call", call, "attempt", attempt, "err", err)
			}
			return zero, err
		}
		wait := delay
		suggested, ok := SuggestedDelay(err)
		if ok {
			if suggested > wait {
				wait = suggested
			}
		} else {
			delay *= 2
		}
		if ex.Logger != nil {
			ex.Logger.Warn("retryable upstream failure", "call", call, "attempt", attempt, "wait_ms", wait.Milliseconds(), "server_delay", ok, "err", err)
		}
		if ex.OnRetry != nil {
			ex.OnRetry(call, attempt, wait, err)
		}
		if err := sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

// IsTransient reports whether err looks like rate limiting or a temporarily
// unavailable upstream.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"503", "overloaded", "unavailable", "429", "resource_exhausted"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// RetryAfterError carries a delay the upstream asked for through response headers.
type RetryAfterError struct {
	Err   error
	After time.Duration
}

func (e *RetryAfterError) Error() string {
	if e == nil || e.Err == nil {
		return "retry after"
	}
	return e.Err.Error()
}

func (e *RetryAfterError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// SuggestedDelay extracts a server-requested wait, buffer included.
func SuggestedDelay(err error) (time.Duration, bool) {
	if err == nil {
		return 0, false
	}
	var after *RetryAfterError
	if errors.As(err, &after) && after.After > 0 {
		return after.After + SafetyBuffer, true
	}
	return retryInfoDelay(err.Error())
}

type rpcStatus struct {
	Details []struct {
		Type       string `json:"@type"`
		RetryDelay string `json:"retryDelay"`
	} `json:"details"`
}

func retryInfoDelay(message string) (time.Duration, bool) {
	for offset := 0; offset < len(message); {
		idx := strings.Index(message[offset:], "{")
		if idx < 0 {
			return 0, false
		}
		start := offset + idx
		offset = start + 1
		var envelope struct {
			Error *rpcStatus `json:"error"`
			rpcStatus
		}
		if err := json.NewDecoder(strings.NewReader(message[start:])).Decode(&envelope); err != nil {
			continue
		}
		status := envelope.rpcStatus
		if envelope.Error != nil {
			status = *envelope.Error
		}
		for _, d := range status.Details {
			if d.Type != "type.googleapis.com/google.rpc.RetryInfo" || d.RetryDelay == "" {
				continue
			}
			seconds, err := strconv.ParseFloat(strings.TrimSuffix(strings.TrimSpace(d.RetryDelay), "s"), 64)
			if err != nil {
				return 0, false
			}
			return time.Duration(seconds*float64(time.Second)) + SafetyBuffer, true
		}
		return 0, false
	}
	return 0, false
}

// ParseRetryAfterHeaders reads retry-after-ms or retry-after (seconds).
func ParseRetryAfterHeaders(get func(string) string) (time.Duration, bool) {
	if get == nil {
		return 0, false
	}
	if raw := strings.TrimSpace(get("retry-after-ms")); raw != "" {
		if ms, err := strconv.ParseFloat(raw, 64); err == nil && ms > 0 {
			return time.Duration(ms * float64(time.Millisecond)), true
		}
	}
	if raw := strings.TrimSpace(get("retry-after")); raw != "" {
		if s, err := strconv.ParseFloat(raw, 64); err == nil && s > 0 {
			return time.Duration(s * float64(time.Second)), true
		}
	}
	return 0, false
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
