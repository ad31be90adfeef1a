// retry.go retries writes that hit transient SQLite contention.
//
// The engine, the HTTP server and ad-hoc `vo` invocations may all write the
// same WAL database. busy_timeout absorbs most SQLITE_BUSY cases, but
// SQLITE_LOCKED and short reads (522) still surface and are safe to retry.
package store

import (
	"math/rand"
	"strings"
	"time"
)

// retryPolicy controls retry behavior for transient SQLite errors.
type retryPolicy struct {
	maxRetries int
	baseDelay  time.Duration
	maxDelay   time.Duration
	sleep      func(time.Duration)
}

// defaultRetryConfig is used for all store write operations.
var defaultRetryConfig = retryPolicy{
	maxRetries: 3,
	baseDelay:  50 * time.Millisecond,
	maxDelay:   500 * time.Millisecond,
	sleep:      time.Sleep,
}

var transientMarkers = []string{
	"SQLITE_BUSY",
	"SQLITE_LOCKED",
	"IOERR_SHORT_READ",
	"database is locked",
	"database table is locked",
	"(5)",   // SQLITE_BUSY
	"(6)",   // SQLITE_LOCKED
	"(517)", // SQLITE_BUSY_SNAPSHOT
	"(522)", // SQLITE_IOERR_SHORT_READ
}

// isTransientSQLiteErr reports whether err is contention that a retry can
// resolve. modernc.org/sqlite embeds both names and numeric codes in its
// messages, so both are matched.
func isTransientSQLiteErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// retryOp runs fn until it succeeds, fails permanently, or the policy's
// retries are exhausted. The last error is returned.
func retryOp(p retryPolicy, fn func() error) error {
	var err error
	for attempt := 0; ; attempt++ {
		if err = fn(); err == nil || !isTransientSQLiteErr(err) {
			return err
		}
		if attempt >= p.maxRetries {
			return err
		}
		if p.sleep != nil {
			p.sleep(p.backoff(attempt))
		}
	}
}

// backoff is baseDelay * 2^attempt capped at maxDelay, plus jitter in
// [0, baseDelay).
func (p retryPolicy) backoff(attempt int) time.Duration {
	delay := p.baseDelay << uint(attempt)
	if delay > p.maxDelay || delay <= 0 {
		delay = p.maxDelay
	}
	if p.baseDelay <= 0 {
		return delay
	}
	return delay + time.Duration(rand.Int63n(int64(p.baseDelay)))
}
