// Package retry holds the backoff helpers shared by the outbound HTTP
// clients.
package retry

import (
	"context"
	"errors"
	"io"
	"math/rand"
	"net"
	"time"
)

// Transient reports whether a transport error is worth another attempt:
// timeouts, dial or connection failures and truncated responses.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var nerr net.Error
	if errors.As(err, &nerr) && nerr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF)
}

// Jitter returns d with +/- 20% jitter applied.
func Jitter(d time.Duration) time.Duration {
	f := 0.8 + rand.Float64()*0.4
	out := time.Duration(float64(d) * f)
	if out <= 0 {
		return d
	}
	return out
}

// Sleep waits for d, capped at limit when limit > 0, or until ctx is done.
func Sleep(ctx context.Context, d, limit time.Duration) error {
	if limit > 0 && d > limit {
		d = limit
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
