// Package ftp fetches files over FTP: static path lists and directory
// listings.
package ftp

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/textproto"
	"os"
	"path"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/jlaffaye/ftp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/neodata/fetchd/fetch"
)

const (
	defaultSocketTimeoutSecs = 300
	defaultRetries           = 3
	defaultRetryDelaySecs    = 5
)

func init() {
	fetch.Register(&fetch.RegInfo{
		Tag: "!ftp-files",
		New: func(node *yaml.Node) (interface{}, error) {
			s := &Source{}
			if err := fetch.DecodeStrict(node, s, "!ftp-files"); err != nil {
				return nil, err
			}
			return s, nil
		},
	})
	fetch.Register(&fetch.RegInfo{
		Tag: "!ftp-directory",
		New: func(node *yaml.Node) (interface{}, error) {
			s := &ListingSource{}
			if err := fetch.DecodeStrict(node, s, "!ftp-directory"); err != nil {
				return nil, err
			}
			re, err := fetch.CompileMatch(s.NamePattern)
			if err != nil {
				return nil, err
			}
			s.nameRe = re
			return s, nil
		},
	})
}

// baseSource holds the fields common to the FTP source variants.
type baseSource struct {
	Hostname          string               `yaml:"hostname" fetch:"required"`
	TargetDir         string               `yaml:"target_dir" fetch:"required"`
	FilenameTransform *fetch.TransformNode `yaml:"filename_transform"`
	Retries           int                  `yaml:"retries"`
	RetryDelay        int                  `yaml:"retry_delay"`
}

func (b *baseSource) transform() fetch.FilenameTransform {
	if b.FilenameTransform == nil {
		return nil
	}
	return b.FilenameTransform.FilenameTransform
}

func (b *baseSource) retryPolicy() (int, time.Duration) {
	retries := b.Retries
	if retries == 0 {
		retries = defaultRetries
	}
	delay := time.Duration(b.RetryDelay) * time.Second
	if b.RetryDelay == 0 {
		delay = defaultRetryDelaySecs * time.Second
	}
	return retries, delay
}

// fetchFiles connects, asks list for the paths to transfer, then fetches
// each one. Transient errors drop the connection and retry with a fresh
// one; only after exhaustion is the failure promoted to a fatal one.
func (b *baseSource) fetchFiles(ctx context.Context, reporter fetch.ResultHandler, list func(*ftp.ServerConn) ([]string, error)) error {
	c := &conn{hostname: b.Hostname, timeout: defaultSocketTimeoutSecs * time.Second}
	defer c.drop()
	retries, delay := b.retryPolicy()

	var files []string
	err := fetch.Retry(retries, delay, isTransient, func() error {
		sc, err := c.get(ctx)
		if err != nil {
			return err
		}
		files, err = list(sc)
		if err != nil && isTransient(err) {
			c.drop()
		}
		return err
	})
	if err != nil {
		return promote(err)
	}

	for _, filename := range files {
		logrus.Debugf("Next filename: %q", filename)
		filename := filename
		fetchFn := func(target string) (bool, error) {
			err := fetch.Retry(retries, delay, isTransient, func() error {
				sc, err := c.get(ctx)
				if err != nil {
					return err
				}
				err = download(sc, filename, target)
				if err != nil && isTransient(err) {
					c.drop()
				}
				return err
			})
			if err != nil {
				return false, promote(err)
			}
			return true, nil
		}
		err := fetch.FetchFile(
			fmt.Sprintf("ftp://%s%s", b.Hostname, filename),
			fetchFn,
			reporter,
			path.Base(filename),
			b.TargetDir,
			b.transform(),
			true,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// Source downloads specific files from FTP. This is useful for
// unchanging paths that need to be repeatedly updated, so existing files
// are overridden.
type Source struct {
	baseSource `yaml:",inline"`
	Paths      []string `yaml:"paths" fetch:"required"`
}

// Trigger downloads all configured paths.
func (s *Source) Trigger(ctx context.Context, reporter fetch.ResultHandler) error {
	return s.fetchFiles(ctx, reporter, func(*ftp.ServerConn) ([]string, error) {
		return s.Paths, nil
	})
}

// ListingSource downloads files matching a pattern in an FTP directory.
type ListingSource struct {
	baseSource  `yaml:",inline"`
	SourceDir   string `yaml:"source_dir" fetch:"required"`
	NamePattern string `yaml:"name_pattern" fetch:"required"`

	nameRe *regexp.Regexp
}

// Trigger downloads all matching files.
func (s *ListingSource) Trigger(ctx context.Context, reporter fetch.ResultHandler) error {
	return s.fetchFiles(ctx, reporter, s.listFiles)
}

// listFiles returns the matching paths in the source directory. Servers
// answer an empty or missing directory in several dialects; those are an
// empty listing, not an error.
func (s *ListingSource) listFiles(sc *ftp.ServerConn) ([]string, error) {
	files, err := sc.NameList(s.SourceDir)
	if err != nil {
		var proto *textproto.Error
		if errors.As(err, &proto) {
			if proto.Code == 550 && proto.Msg == "No files found" {
				logrus.Info("No files in remote directory")
				return nil, nil
			}
			if proto.Code == 450 {
				logrus.Info("No remote directory")
				return nil, nil
			}
		}
		return nil, err
	}
	logrus.Debugf("File list of length %d", len(files))
	var matched []string
	for _, f := range files {
		if s.nameRe.MatchString(path.Base(f)) {
			matched = append(matched, joinRemote(s.SourceDir, f))
		}
	}
	logrus.Debugf("Filtered list of length %d", len(matched))
	return matched, nil
}

// joinRemote resolves a listing entry against the directory it was
// listed from. Some servers return full paths, others bare names.
func joinRemote(dir, name string) string {
	if strings.HasPrefix(name, "/") {
		return name
	}
	return path.Join(dir, name)
}

// conn is a lazily dialled FTP connection that can be dropped and
// redialled between retries.
type conn struct {
	hostname string
	timeout  time.Duration
	c        *ftp.ServerConn
}

func (c *conn) get(ctx context.Context) (*ftp.ServerConn, error) {
	if c.c != nil {
		return c.c, nil
	}
	addr := c.hostname
	if !strings.Contains(addr, ":") {
		addr += ":21"
	}
	sc, err := ftp.Dial(addr, ftp.DialWithContext(ctx), ftp.DialWithTimeout(c.timeout))
	if err != nil {
		logrus.WithError(err).Error("Error connecting to FTP")
		return nil, &fetch.RemoteFetchError{
			Summary:  "Error connecting to FTP",
			Detailed: fmt.Sprintf("host: %s, timeout: %s", c.hostname, c.timeout),
		}
	}
	if err := sc.Login("anonymous", "anonymous"); err != nil {
		_ = sc.Quit()
		return nil, &fetch.RemoteFetchError{
			Summary:  "Error logging in to FTP",
			Detailed: fmt.Sprintf("host: %s: %s", c.hostname, err),
		}
	}
	c.c = sc
	return sc, nil
}

func (c *conn) drop() {
	if c.c != nil {
		_ = c.c.Quit()
		c.c = nil
	}
}

// download retrieves one remote file into target.
func download(sc *ftp.ServerConn, filename, target string) (err error) {
	logrus.Debugf("Retrieving %q to %q", filename, target)
	resp, err := sc.Retr(filename)
	if err != nil {
		return err
	}
	defer func() {
		cerr := resp.Close()
		if err == nil {
			err = cerr
		}
	}()
	out, err := os.Create(target)
	if err != nil {
		return err
	}
	_, err = io.CopyBuffer(out, resp, make([]byte, 4096))
	closeErr := out.Close()
	if err != nil {
		return err
	}
	return closeErr
}

// isTransient reports whether an error is worth a reconnect and retry:
// dropped connections and temporary (4xx) server replies.
func isTransient(err error) bool {
	var proto *textproto.Error
	if errors.As(err, &proto) {
		return proto.Code >= 400 && proto.Code < 500
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// promote wraps an exhausted or fatal transfer error so the worker
// treats it as a remote failure.
func promote(err error) error {
	if err == nil || fetch.IsRemoteFetch(err) {
		return err
	}
	return &fetch.RemoteFetchError{
		Summary:  "FTP failure",
		Detailed: err.Error(),
	}
}
