package testutil

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when a stream produced nothing within the wait.
var ErrTimeout = errors.New("timed out waiting for event")

// ErrStreamClosed is returned when the channel closed before the wanted
// event arrived.
var ErrStreamClosed = errors.New("event stream closed")

// Next receives one event from ch.
func Next[E any](ch <-chan E, timeout time.Duration) (E, error) {
	var zero E
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case ev, ok := <-ch:
		if !ok {
			return zero, ErrStreamClosed
		}
		return ev, nil
	case <-timer.C:
		return zero, ErrTimeout
	}
}

// Collect receives exactly n events. Each receive gets its own timeout.
func Collect[E any](ch <-chan E, n int, timeout time.Duration) ([]E, error) {
	out := make([]E, 0, n)
	for len(out) < n {
		ev, err := Next(ch, timeout)
		if err != nil {
			return out, fmt.Errorf("after %d of %d events: %w", len(out), n, err)
		}
		out = append(out, ev)
	}
	return out, nil
}

// Until receives events until stop reports true. The stopping event is the
// last element of the result.
func Until[E any](ch <-chan E, timeout time.Duration, stop func(E) bool) ([]E, error) {
	var out []E
	for {
		ev, err := Next(ch, timeout)
		if err != nil {
			return out, fmt.Errorf("after %d events: %w", len(out), err)
		}
		out = append(out, ev)
		if stop(ev) {
			return out, nil
		}
	}
}

// Quiet reports whether ch stays silent for d. A closed channel is not
// quiet.
func Quiet[E any](ch <-chan E, d time.Duration) bool {
	_, err := Next(ch, d)
	return errors.Is(err, ErrTimeout)
}
