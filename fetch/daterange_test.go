package fetch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubSource records the URL value each triggered clone carried.
type stubSource struct {
	URL string `yaml:"url"`

	seen *[]string
}

func (s *stubSource) Trigger(ctx context.Context, reporter ResultHandler) error {
	*s.seen = append(*s.seen, s.URL)
	return nil
}

func TestDateRangeTriggersEachDay(t *testing.T) {
	var seen []string
	inner := &stubSource{URL: "unset", seen: &seen}

	src := &DateRangeSource{
		Using: &SourceNode{Source: inner},
		OverriddenProperties: map[string]string{
			"url": "http://example.com/{year}/{month}/{day}/",
		},
		StartDay: -1,
		EndDay:   1,
		now: func() time.Time {
			return time.Date(2004, 6, 1, 12, 0, 0, 0, time.UTC)
		},
	}

	require.NoError(t, src.Trigger(context.Background(), &recordingHandler{}))

	assert.Equal(t, []string{
		"http://example.com/2004/05/31/",
		"http://example.com/2004/06/01/",
		"http://example.com/2004/06/02/",
	}, seen)

	// The prototype itself is never mutated.
	assert.Equal(t, "unset", inner.URL)
}

func TestDateRangeSingleDay(t *testing.T) {
	var seen []string
	src := &DateRangeSource{
		Using:                &SourceNode{Source: &stubSource{seen: &seen}},
		OverriddenProperties: map[string]string{"url": "{year}-{julday}"},
		StartDay:             0,
		EndDay:               0,
		now: func() time.Time {
			return time.Date(2014, 1, 9, 0, 0, 0, 0, time.UTC)
		},
	}

	require.NoError(t, src.Trigger(context.Background(), &recordingHandler{}))
	assert.Equal(t, []string{"2014-009"}, seen)
}

func TestDateRangeRejectsUnknownField(t *testing.T) {
	var seen []string
	src := &DateRangeSource{
		Using:                &SourceNode{Source: &stubSource{seen: &seen}},
		OverriddenProperties: map[string]string{"no_such_field": "{year}"},
		now: func() time.Time {
			return time.Date(2014, 1, 9, 0, 0, 0, 0, time.UTC)
		},
	}

	err := src.Trigger(context.Background(), &recordingHandler{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_field")
}
