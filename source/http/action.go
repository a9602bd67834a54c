package http

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/neodata/fetchd/fetch"
	"github.com/neodata/fetchd/lib/rest"
)

func init() {
	fetch.Register(&fetch.RegInfo{
		Tag: "!http-post",
		New: func(node *yaml.Node) (interface{}, error) {
			a := &PostAction{}
			if err := fetch.DecodeStrict(node, a, "!http-post"); err != nil {
				return nil, err
			}
			return a, nil
		},
	})
	fetch.Register(&fetch.RegInfo{
		Tag: "!http-auth",
		New: func(node *yaml.Node) (interface{}, error) {
			a := &AuthAction{}
			if err := fetch.DecodeStrict(node, a, "!http-auth"); err != nil {
				return nil, err
			}
			return a, nil
		},
	})
}

// An Action runs against the session before any files are fetched, such
// as posting login credentials.
type Action interface {
	Run(ctx context.Context, s *session) error
}

// ActionNode resolves a tagged YAML node into an Action.
type ActionNode struct {
	Action
}

// UnmarshalYAML implements yaml.Unmarshaler
func (a *ActionNode) UnmarshalYAML(node *yaml.Node) error {
	v, err := fetch.Construct(node)
	if err != nil {
		return err
	}
	action, ok := v.(Action)
	if !ok {
		return errors.Errorf("'%s' is not a beforehand action", node.Tag)
	}
	a.Action = action
	return nil
}

// PostAction performs a simple HTTP POST, such as posting login
// credentials before retrievals.
type PostAction struct {
	URL    string            `yaml:"url" fetch:"required"`
	Params map[string]string `yaml:"params"`
}

// Run posts the parameters. A rejected post is logged rather than
// failing the run, as some endpoints answer these with junk statuses.
func (a *PostAction) Run(ctx context.Context, s *session) error {
	params := url.Values{}
	for k, v := range a.Params {
		params.Set(k, v)
	}
	resp, err := s.rest.Call(ctx, &rest.Opts{
		Method:       "POST",
		RootURL:      a.URL,
		Parameters:   params,
		IgnoreStatus: true,
	})
	if err != nil {
		return errors.Wrapf(err, "posting to %q", a.URL)
	}
	body, _ := rest.ReadBody(resp)
	if resp.StatusCode != http.StatusOK {
		logrus.Errorf("Status code %d received for post to %q.", resp.StatusCode, a.URL)
		logrus.Debugf("Error received text: %q", body)
	}
	return nil
}

// AuthAction performs authentication for the session: it follows the
// configured URL to the login page and submits basic credentials, which
// the session then carries for the rest of the run.
type AuthAction struct {
	URL      string `yaml:"url" fetch:"required"`
	Username string `yaml:"username" fetch:"required"`
	Password string `yaml:"password" fetch:"required"`
}

// Run authenticates the session. Failure here is critical, so a rejected
// login raises rather than reporting a per-file error.
func (a *AuthAction) Run(ctx context.Context, s *session) error {
	resp, err := s.rest.Call(ctx, &rest.Opts{
		Method:       "GET",
		RootURL:      a.URL,
		IgnoreStatus: true,
	})
	if err != nil {
		return errors.Wrapf(err, "requesting %q", a.URL)
	}
	// The server may have bounced us to its real login page.
	loginURL := resp.Request.URL.String()
	if _, err := rest.ReadBody(resp); err != nil {
		return err
	}

	s.rest.SetUserPass(a.Username, a.Password)

	resp, err = s.rest.Call(ctx, &rest.Opts{
		Method:       "GET",
		RootURL:      loginURL,
		IgnoreStatus: true,
	})
	if err != nil {
		return errors.Wrapf(err, "authenticating against %q", loginURL)
	}
	body, _ := rest.ReadBody(resp)
	if resp.StatusCode != http.StatusOK {
		return &fetch.RemoteFetchError{
			Summary:  fmt.Sprintf("Status code %d", resp.StatusCode),
			Detailed: fmt.Sprintf("%s\n\n%s", loginURL, body),
		}
	}
	return nil
}
