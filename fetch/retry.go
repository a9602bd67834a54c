package fetch

import (
	"time"

	"github.com/sirupsen/logrus"
)

// Retriable reports whether an error is worth another attempt.
type Retriable func(err error) bool

// Retry runs fn up to attempts times, sleeping delay between failed
// attempts. It stops early on success or on an error retriable rejects,
// and returns the last error.
//
// Adapters use this to wrap their transfer calls so that transient
// protocol errors (dropped connections, 4xx FTP replies) get a bounded
// number of reconnect attempts before being promoted to a fatal failure.
func Retry(attempts int, delay time.Duration, retriable Retriable, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for try := 1; ; try++ {
		err = fn()
		if err == nil || try >= attempts || !retriable(err) {
			return err
		}
		logrus.Warnf("Attempt %d/%d failed, retrying in %v: %v", try, attempts, delay, err)
		time.Sleep(delay)
	}
}
