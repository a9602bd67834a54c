// Package rest implements a simple REST wrapper
//
// All methods are safe for concurrent calling.
package rest

import (
	"context"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Client contains the info to sustain the API
type Client struct {
	mu      sync.RWMutex
	c       *http.Client
	headers map[string]string
}

// NewClient takes an http.Client and makes a new api instance
func NewClient(c *http.Client) *Client {
	api := &Client{
		c:       c,
		headers: make(map[string]string),
	}
	return api
}

// checkClose closes the closer, updating err with any error it returns
// if err is unset.
func checkClose(c io.Closer, err *error) {
	cerr := c.Close()
	if *err == nil {
		*err = cerr
	}
}

// ReadBody reads resp.Body into result, closing the body
func ReadBody(resp *http.Response) (result []byte, err error) {
	defer checkClose(resp.Body, &err)
	return ioutil.ReadAll(resp.Body)
}

// statusError doesn't attempt to parse the http body, just returns it in
// the error message closing resp.Body
func statusError(resp *http.Response) (err error) {
	body, err := ReadBody(resp)
	if err != nil {
		return errors.Wrap(err, "error reading error out of body")
	}
	return errors.Errorf("HTTP error %v (%v) returned body: %q", resp.StatusCode, resp.Status, body)
}

// SetHeader sets a header for all requests
func (api *Client) SetHeader(key, value string) *Client {
	api.mu.Lock()
	defer api.mu.Unlock()
	api.headers[key] = value
	return api
}

// SetUserPass creates an Authorization header for all requests with
// the UserName and Password passed in
func (api *Client) SetUserPass(UserName, Password string) *Client {
	req, _ := http.NewRequest("GET", "http://example.com", nil)
	req.SetBasicAuth(UserName, Password)
	api.SetHeader("Authorization", req.Header.Get("Authorization"))
	return api
}

// Opts contains parameters for Call
type Opts struct {
	Method       string // GET, POST, etc.
	Path         string // relative to RootURL
	RootURL      string
	Body         io.Reader
	Parameters   url.Values // any parameters for the final URL
	IgnoreStatus bool       // if set then we don't check error status
}

// Call makes the call and returns the http.Response
//
// if err == nil then resp.Body will need to be closed
//
// if err != nil then resp.Body will have been closed
//
// it will return resp if at all possible, even if err is set
func (api *Client) Call(ctx context.Context, opts *Opts) (resp *http.Response, err error) {
	api.mu.RLock()
	defer api.mu.RUnlock()
	if opts == nil {
		return nil, errors.New("call() called with nil opts")
	}
	if opts.RootURL == "" {
		return nil, errors.New("RootURL not set")
	}
	url := opts.RootURL + opts.Path
	if len(opts.Parameters) > 0 {
		url += "?" + opts.Parameters.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, url, opts.Body)
	if err != nil {
		return
	}
	for k, v := range api.headers {
		if k != "" && v != "" {
			req.Header.Add(k, v)
		}
	}
	api.mu.RUnlock()
	logrus.Debugf("%s %s", opts.Method, url)
	resp, err = api.c.Do(req)
	api.mu.RLock()
	if err != nil {
		return nil, err
	}
	if !opts.IgnoreStatus {
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return resp, statusError(resp)
		}
	}
	return resp, nil
}
