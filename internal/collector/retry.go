package collector

import (
	"context"
	"database/sql/driver"
	"errors"
	"io"
	"log/slog"
	"net"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/lib/pq"
)

// failureKind decides whether a failed source call is attempted again.
type failureKind int

const (
	failurePermanent failureKind = iota
	failureTransient
	failureAuth
)

// ClickHouse server error codes.
var (
	clickhouseAuthCodes = map[int32]bool{
		193: true, // WRONG_PASSWORD
		194: true, // REQUIRED_PASSWORD
		497: true, // ACCESS_DENIED
		516: true, // AUTHENTICATION_FAILED
	}
	clickhouseTransientCodes = map[int32]bool{
		159: true, // TIMEOUT_EXCEEDED
		202: true, // TOO_MANY_SIMULTANEOUS_QUERIES
		209: true, // SOCKET_TIMEOUT
		210: true, // NETWORK_ERROR
		242: true, // TABLE_IS_READ_ONLY
		425: true, // SYSTEM_ERROR
	}
)

// Fallback markers for errors that only surface as text.
var (
	authMarkers = []string{
		"authentication failed",
		"password authentication failed",
		"invalid password",
		"wrong password",
		"unknown user",
		"role does not exist",
		"access denied",
		"unauthorized",
	}
	transientMarkers = []string{
		"timeout",
		"unexpected eof",
		"broken pipe",
		"connection reset",
		"connection refused",
		"connection closed",
		"use of closed network connection",
		"no route to host",
		"too many connections",
		"too many clients",
	}
)

func classifyFailure(err error) failureKind {
	if err == nil || errors.Is(err, context.Canceled) {
		return failurePermanent
	}

	var chErr *clickhouse.Exception
	if errors.As(err, &chErr) {
		switch {
		case clickhouseAuthCodes[chErr.Code]:
			return failureAuth
		case clickhouseTransientCodes[chErr.Code]:
			return failureTransient
		}
		return failurePermanent
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "28": // invalid authorization specification
			return failureAuth
		case "08", "40", "53", "57": // connection, rollback, resources, operator intervention
			return failureTransient
		}
		return failurePermanent
	}

	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, driver.ErrBadConn) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return failureTransient
	}

	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return failureTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return failureTransient
	}

	text := strings.ToLower(err.Error())
	for _, marker := range authMarkers {
		if strings.Contains(text, marker) {
			return failureAuth
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(text, marker) {
			return failureTransient
		}
	}
	return failurePermanent
}

// retryPolicy retries transient failures with doubling backoff.
type retryPolicy struct {
	attempts int
	base     time.Duration
	ceiling  time.Duration
	sleep    func(context.Context, time.Duration) error
}

func defaultRetryPolicy() retryPolicy {
	return retryPolicy{
		attempts: 4,
		base:     250 * time.Millisecond,
		ceiling:  5 * time.Second,
		sleep:    sleepWithContext,
	}
}

func (p retryPolicy) backoff(attempt int) time.Duration {
	d := p.base
	for i := 1; i < attempt && d < p.ceiling; i++ {
		d *= 2
	}
	return min(d, p.ceiling)
}

// do runs fn until it succeeds, fails permanently or attempts run out.
// op names the call in debug logs.
func (p retryPolicy) do(ctx context.Context, op string, fn func() error) error {
	if p.attempts <= 0 {
		p.attempts = 1
	}
	if p.sleep == nil {
		p.sleep = sleepWithContext
	}

	var err error
	for attempt := 1; attempt <= p.attempts; attempt++ {
		if ctxErr := contextError(ctx); ctxErr != nil {
			return ctxErr
		}

		if err = fn(); err == nil {
			return nil
		}
		if ctxErr := contextError(ctx); ctxErr != nil {
			return ctxErr
		}
		if attempt == p.attempts || classifyFailure(err) != failureTransient {
			return err
		}

		wait := p.backoff(attempt)
		slog.Debug("retrying source call",
			slog.String("op", op),
			slog.Int("attempt", attempt),
			slog.Duration("backoff", wait),
			slog.String("error", err.Error()),
		)
		if sleepErr := p.sleep(ctx, wait); sleepErr != nil {
			if ctxErr := contextError(ctx); ctxErr != nil {
				return ctxErr
			}
			return sleepErr
		}
	}
	return err
}

// withTotalTimeoutContext bounds a whole source operation. Expiry is reported
// as context.DeadlineExceeded through the context cause.
func withTotalTimeoutContext(parent context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return parent, func() {}
	}

	ctx, cancel := context.WithCancelCause(parent)
	timer := time.AfterFunc(timeout, func() {
		cancel(context.DeadlineExceeded)
	})
	return ctx, func() {
		timer.Stop()
		cancel(context.Canceled)
	}
}

func contextError(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != nil && !errors.Is(cause, context.Canceled) {
		return cause
	}
	return ctx.Err()
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return contextError(ctx)
	case <-timer.C:
		return nil
	}
}
