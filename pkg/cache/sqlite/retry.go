package sqlite

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// RetryPolicy is the schedule applied when the database reports lock
// contention. Delays double from InitialInterval up to MaxInterval.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// DefaultRetryPolicy retries five times after 50, 100, 200, 400 and 800ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:      5,
		InitialInterval: 50 * time.Millisecond,
		MaxInterval:     800 * time.Millisecond,
	}
}

func (p RetryPolicy) backOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()

	var bo backoff.BackOff = b
	if p.MaxRetries >= 0 {
		bo = backoff.WithMaxRetries(b, uint64(p.MaxRetries))
	}
	return backoff.WithContext(bo, ctx)
}

// IsBusy reports whether err is SQLite lock contention worth retrying.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "sqlite_busy")
}

// withRetry runs fn, retrying busy failures on the policy schedule. Any
// other error stops immediately.
func (s *Store) withRetry(ctx context.Context, op string, fn func() error) error {
	attempt := func() error {
		err := fn()
		if err != nil && !IsBusy(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, wait time.Duration) {
		s.metrics.Retry(op)
		s.log.WithFields(logrus.Fields{
			"op":   op,
			"wait": wait.String(),
		}).WithError(err).Debug("store busy, retrying")
	}
	return backoff.RetryNotify(attempt, s.retry.backOff(ctx), notify)
}
