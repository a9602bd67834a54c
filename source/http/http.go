// Package http fetches files over HTTP: static URLs, index-page
// listings, and RSS feeds.
package http

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/net/html"
	"gopkg.in/yaml.v3"

	"github.com/neodata/fetchd/fetch"
	"github.com/neodata/fetchd/lib/fshttp"
	"github.com/neodata/fetchd/lib/rest"
)

// Connect timeout used when a source doesn't configure one.
const defaultConnectTimeoutSecs = 100

// Hosts allowed to receive the Authorization header after a redirect.
var defaultAuthHosts = []string{"urs.earthdata.nasa.gov"}

func init() {
	fetch.Register(&fetch.RegInfo{
		Tag: "!http-files",
		New: func(node *yaml.Node) (interface{}, error) {
			s := &Source{}
			if err := fetch.DecodeStrict(node, s, "!http-files"); err != nil {
				return nil, err
			}
			return s, nil
		},
	})
	fetch.Register(&fetch.RegInfo{
		Tag: "!http-directory",
		New: func(node *yaml.Node) (interface{}, error) {
			s := &ListingSource{NamePattern: ".*"}
			if err := fetch.DecodeStrict(node, s, "!http-directory"); err != nil {
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

// baseSource holds the fields common to the HTTP source variants: where
// files land, which URLs to hit, and how the session behaves.
type baseSource struct {
	TargetDir         string               `yaml:"target_dir" fetch:"required"`
	URL               string               `yaml:"url"`
	URLs              []string             `yaml:"urls"`
	FilenameTransform *fetch.TransformNode `yaml:"filename_transform"`
	Beforehand        *ActionNode          `yaml:"beforehand"`
	ConnectionTimeout int                  `yaml:"connection_timeout"`
	AuthHosts         []string             `yaml:"auth_hosts"`
}

func (b *baseSource) allURLs() []string {
	var all []string
	all = append(all, b.URLs...)
	if b.URL != "" {
		all = append(all, b.URL)
	}
	return all
}

func (b *baseSource) transform() fetch.FilenameTransform {
	if b.FilenameTransform == nil {
		return nil
	}
	return b.FilenameTransform.FilenameTransform
}

func (b *baseSource) timeout() time.Duration {
	secs := b.ConnectionTimeout
	if secs == 0 {
		secs = defaultConnectTimeoutSecs
	}
	return time.Duration(secs) * time.Second
}

// run performs the shared trigger sequence: build a session, run the
// beforehand action if any, then hand each URL to fetchURL.
func (b *baseSource) run(ctx context.Context, fetchURL func(ctx context.Context, s *session, url string) error) error {
	urls := b.allURLs()
	if len(urls) == 0 {
		return errors.New("http source requires either 'url' or 'urls'")
	}
	s := b.newSession()
	if b.Beforehand != nil {
		logrus.Debugf("Triggering beforehand action")
		if err := b.Beforehand.Run(ctx, s); err != nil {
			return err
		}
	}
	for _, u := range urls {
		logrus.Debugf("Triggering %q", u)
		if err := fetchURL(ctx, s, u); err != nil {
			return err
		}
	}
	return nil
}

// fetchFile downloads url into targetName under the target directory,
// streaming the body in 4 KiB chunks. A non-200 status is a per-file
// failure: it is reported and the remaining URLs are still attempted.
func (b *baseSource) fetchFile(ctx context.Context, s *session, reporter fetch.ResultHandler, targetName, fileURL string, overrideExisting bool) error {
	fetchFn := func(path string) (bool, error) {
		resp, err := s.rest.Call(ctx, &rest.Opts{
			Method:       "GET",
			RootURL:      fileURL,
			IgnoreStatus: true,
		})
		if err != nil {
			return false, errors.Wrapf(err, "requesting %q", fileURL)
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := rest.ReadBody(resp)
			logrus.Debugf("Received text %q", body)
			reporter.FileError(fileURL, fmt.Sprintf("Status code %d", resp.StatusCode), string(body))
			return false, nil
		}
		out, err := os.Create(path)
		if err != nil {
			_ = resp.Body.Close()
			return false, err
		}
		_, err = io.CopyBuffer(out, resp.Body, make([]byte, 4096))
		closeErr := out.Close()
		_ = resp.Body.Close()
		if err != nil {
			return false, errors.Wrapf(err, "downloading %q", fileURL)
		}
		return true, closeErr
	}
	return fetch.FetchFile(fileURL, fetchFn, reporter, targetName, b.TargetDir, b.transform(), overrideExisting)
}

// Source fetches static HTTP URLs. Useful for unchanging URLs that need
// to be repeatedly updated, so existing files are overridden.
type Source struct {
	baseSource `yaml:",inline"`
}

// Trigger downloads each configured URL, named by its last path segment.
func (s *Source) Trigger(ctx context.Context, reporter fetch.ResultHandler) error {
	return s.run(ctx, func(ctx context.Context, sess *session, fileURL string) error {
		parsed, err := url.Parse(fileURL)
		if err != nil {
			return errors.Wrapf(err, "invalid url %q", fileURL)
		}
		return s.fetchFile(ctx, sess, reporter, path.Base(parsed.Path), fileURL, true)
	})
}

// ListingSource fetches files linked from an HTTP index page. A pattern
// can be supplied to limit files by filename.
type ListingSource struct {
	baseSource  `yaml:",inline"`
	NamePattern string `yaml:"name_pattern"`

	nameRe *regexp.Regexp
}

// Trigger downloads the listing page and any links matching the name
// pattern. A missing listing page (404) is not an error: the listing may
// simply not have been published yet.
func (s *ListingSource) Trigger(ctx context.Context, reporter fetch.ResultHandler) error {
	return s.run(ctx, func(ctx context.Context, sess *session, listURL string) error {
		resp, err := sess.rest.Call(ctx, &rest.Opts{
			Method:       "GET",
			RootURL:      listURL,
			IgnoreStatus: true,
		})
		if err != nil {
			return &fetch.RemoteFetchError{
				Summary:  "Connection failure",
				Detailed: fmt.Sprintf("%s\n\n%s", listURL, err),
			}
		}
		if resp.StatusCode == http.StatusNotFound {
			_ = resp.Body.Close()
			logrus.Debug("Listing page doesn't exist yet. Skipping.")
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := rest.ReadBody(resp)
			return &fetch.RemoteFetchError{
				Summary:  fmt.Sprintf("Status code %d", resp.StatusCode),
				Detailed: fmt.Sprintf("%s\n\n%s", listURL, body),
			}
		}

		// Relative hrefs resolve against the URL the server left us on,
		// not the one we asked for.
		finalURL := resp.Request.URL
		doc, err := html.Parse(resp.Body)
		closeErr := resp.Body.Close()
		if err != nil {
			return errors.Wrapf(err, "parsing listing %q", listURL)
		}
		if closeErr != nil {
			return closeErr
		}

		for _, link := range listingLinks(doc) {
			if link.name == "" {
				logrus.Infof("Skipping empty anchor for %q", link.href)
				continue
			}
			sourceURL, err := finalURL.Parse(link.href)
			if err != nil {
				logrus.Infof("Skipping unparseable href %q", link.href)
				continue
			}
			if !strings.HasSuffix(link.href, link.name) {
				logrus.Infof("Not a filename %q, skipping.", link.name)
				continue
			}
			if !s.nameRe.MatchString(link.name) {
				logrus.Infof("Filename (%q) doesn't match pattern, skipping.", link.name)
				continue
			}
			if err := s.fetchFile(ctx, sess, reporter, link.name, sourceURL.String(), false); err != nil {
				return err
			}
		}
		return nil
	})
}

type anchor struct {
	name string
	href string
}

// listingLinks walks the parsed page and returns every anchor that has
// an href, with its text content.
func listingLinks(doc *html.Node) []anchor {
	var links []anchor
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			href, ok := anchorHref(n)
			if ok {
				links = append(links, anchor{name: anchorText(n), href: href})
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)
	return links
}

func anchorHref(n *html.Node) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == "href" {
			return a.Val, true
		}
	}
	return "", false
}

func anchorText(n *html.Node) string {
	var text string
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.TextNode {
			text += c.Data
		}
	}
	return strings.TrimSpace(text)
}

// session is the shared connection state for one trigger: a cookie jar,
// any credentials set by a beforehand action, and redirect handling that
// keeps the Authorization header for trusted hosts.
type session struct {
	client    *http.Client
	rest      *rest.Client
	authHosts []string
}

func (b *baseSource) newSession() *session {
	timeout := b.timeout()
	s := &session{authHosts: b.AuthHosts}
	if len(s.authHosts) == 0 {
		s.authHosts = defaultAuthHosts
	}
	s.client = fshttp.NewClient(timeout, timeout)
	s.client.CheckRedirect = s.checkRedirect
	s.rest = rest.NewClient(s.client)
	return s
}

// checkRedirect restores the Authorization header when redirected
// between a trusted host and anywhere else. The default client strips it
// whenever the host changes, which breaks URS-style login bounces.
func (s *session) checkRedirect(req *http.Request, via []*http.Request) error {
	if len(via) >= 10 {
		return errors.New("stopped after 10 redirects")
	}
	prev := via[len(via)-1]
	auth := prev.Header.Get("Authorization")
	if auth != "" && req.Header.Get("Authorization") == "" {
		if s.trusted(prev.URL) || s.trusted(req.URL) {
			req.Header.Set("Authorization", auth)
		}
	}
	return nil
}

func (s *session) trusted(u *url.URL) bool {
	for _, host := range s.authHosts {
		if u.Hostname() == host {
			return true
		}
	}
	return false
}
