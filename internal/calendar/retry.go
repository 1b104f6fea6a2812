package calendar

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/cenkalti/backoff/v4"

	appLog "commutecal/internal/log"
	"commutecal/internal/model"
)

// dnsRetry retries reads that failed on name resolution. Writes pass
// through unchanged; a failed write surfaces to the loop.
type dnsRetry struct {
	Calendar
	attempts uint64
}

// WithDNSRetry wraps c so ListEvents is retried immediately, up to attempts
// extra times, when the error is a DNS lookup failure.
func WithDNSRetry(c Calendar, attempts uint64) Calendar {
	return &dnsRetry{Calendar: c, attempts: attempts}
}

func (r *dnsRetry) ListEvents(ctx context.Context, calendarID string, day time.Time) ([]model.Event, error) {
	b := backoff.WithContext(backoff.WithMaxRetries(&backoff.ZeroBackOff{}, r.attempts), ctx)

	return backoff.RetryNotifyWithData(
		func() ([]model.Event, error) {
			evs, err := r.Calendar.ListEvents(ctx, calendarID, day)
			if err != nil && !IsDNSError(err) {
				return nil, backoff.Permanent(err)
			}
			return evs, err
		},
		b,
		func(err error, _ time.Duration) {
			appLog.Warn("calendar read hit DNS failure; retrying", "calendar", calendarID, "err", err)
		},
	)
}

// IsDNSError reports whether err is (or wraps) a name resolution failure.
func IsDNSError(err error) bool {
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
