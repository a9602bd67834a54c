package http

import (
	"context"
	"fmt"
	"net/http"

	"github.com/mmcdole/gofeed"
	"gopkg.in/yaml.v3"

	"github.com/neodata/fetchd/fetch"
	"github.com/neodata/fetchd/lib/rest"
)

func init() {
	fetch.Register(&fetch.RegInfo{
		Tag: "!rss",
		New: func(node *yaml.Node) (interface{}, error) {
			s := &RSSSource{}
			if err := fetch.DecodeStrict(node, s, "!rss"); err != nil {
				return nil, err
			}
			return s, nil
		},
	})
}

// RSSSource fetches any files linked from the given RSS feed. The title
// of a feed entry is assumed to be the filename.
type RSSSource struct {
	baseSource `yaml:",inline"`
}

// Trigger downloads the feed and fetches missing files.
func (s *RSSSource) Trigger(ctx context.Context, reporter fetch.ResultHandler) error {
	return s.run(ctx, func(ctx context.Context, sess *session, feedURL string) error {
		resp, err := sess.rest.Call(ctx, &rest.Opts{
			Method:       "GET",
			RootURL:      feedURL,
			IgnoreStatus: true,
		})
		if err != nil {
			return &fetch.RemoteFetchError{
				Summary:  "Connection failure",
				Detailed: fmt.Sprintf("%s\n\n%s", feedURL, err),
			}
		}
		if resp.StatusCode != http.StatusOK {
			body, _ := rest.ReadBody(resp)
			return &fetch.RemoteFetchError{
				Summary:  fmt.Sprintf("Status code %d", resp.StatusCode),
				Detailed: fmt.Sprintf("%s\n\n%s", feedURL, body),
			}
		}

		feed, err := gofeed.NewParser().Parse(resp.Body)
		closeErr := resp.Body.Close()
		if err != nil {
			return &fetch.RemoteFetchError{
				Summary:  "Unparseable feed",
				Detailed: fmt.Sprintf("%s\n\n%s", feedURL, err),
			}
		}
		if closeErr != nil {
			return closeErr
		}

		for _, entry := range feed.Items {
			if err := s.fetchFile(ctx, sess, reporter, entry.Title, entry.Link, false); err != nil {
				return err
			}
		}
		return nil
	})
}
