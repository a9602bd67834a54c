// Package fshttp builds the http.Client used for downloads: a connect
// timeout plus an idle read deadline that is nudged along as data
// arrives, so a stalled transfer fails but a slow one does not.
package fshttp

import (
	"context"
	"net"
	"net/http"
	"net/http/cookiejar"
	"time"

	"golang.org/x/net/publicsuffix"
)

// A net.Conn that sets a deadline for every Read or Write operation
type timeoutConn struct {
	net.Conn
	timeout time.Duration
}

// create a timeoutConn using the timeout
func newTimeoutConn(conn net.Conn, timeout time.Duration) (*timeoutConn, error) {
	c := &timeoutConn{
		Conn:    conn,
		timeout: timeout,
	}
	return c, c.nudgeDeadline()
}

// Nudge the deadline for an idle timeout on by c.timeout if non-zero
func (c *timeoutConn) nudgeDeadline() error {
	if c.timeout == 0 {
		return nil
	}
	return c.Conn.SetDeadline(time.Now().Add(c.timeout))
}

// readOrWrite bytes doing idle timeouts
func (c *timeoutConn) readOrWrite(f func([]byte) (int, error), b []byte) (n int, err error) {
	n, err = f(b)
	// Don't nudge if no bytes or an error
	if n == 0 || err != nil {
		return
	}
	err = c.nudgeDeadline()
	return
}

// Read bytes doing idle timeouts
func (c *timeoutConn) Read(b []byte) (n int, err error) {
	return c.readOrWrite(c.Conn.Read, b)
}

// Write bytes doing idle timeouts
func (c *timeoutConn) Write(b []byte) (n int, err error) {
	return c.readOrWrite(c.Conn.Write, b)
}

// NewTransport returns an http.RoundTripper with the given timeouts.
func NewTransport(connectTimeout, idleTimeout time.Duration) http.RoundTripper {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, address string) (net.Conn, error) {
			dialer := &net.Dialer{Timeout: connectTimeout}
			conn, err := dialer.DialContext(ctx, network, address)
			if err != nil {
				return conn, err
			}
			return newTimeoutConn(conn, idleTimeout)
		},
	}
}

// NewClient returns an http.Client with the given timeouts and a cookie
// jar shared across the requests of one trigger.
func NewClient(connectTimeout, idleTimeout time.Duration) *http.Client {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	return &http.Client{
		Transport: NewTransport(connectTimeout, idleTimeout),
		Jar:       jar,
	}
}
