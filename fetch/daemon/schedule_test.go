package daemon

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neodata/fetchd/fetch"
	"github.com/neodata/fetchd/fetch/load"
)

func mustRule(t *testing.T, name, pattern string) *load.Rule {
	t.Helper()
	rule, err := load.NewRule(name, pattern, &fetch.EmptySource{}, nil)
	require.NoError(t, err)
	return rule
}

func TestScheduleOrdering(t *testing.T) {
	base := time.Date(2014, 11, 18, 4, 36, 10, 0, time.UTC)

	hourly := mustRule(t, "hourly", "0 * * * *")
	minutely := mustRule(t, "minutely", "* * * * *")

	s := NewSchedule([]*load.Rule{hourly, minutely}, base)
	require.Equal(t, 2, s.Len())

	// The every-minute rule fires first.
	first := s.Pop()
	assert.Equal(t, "minutely", first.Rule.Name)
	assert.Equal(t, time.Date(2014, 11, 18, 4, 37, 0, 0, time.UTC), first.When)

	second := s.Pop()
	assert.Equal(t, "hourly", second.Rule.Name)
	assert.Equal(t, time.Date(2014, 11, 18, 5, 0, 0, 0, time.UTC), second.When)

	assert.Nil(t, s.Pop())
	assert.Nil(t, s.Peek())
}

func TestScheduleAddIsMonotonic(t *testing.T) {
	base := time.Date(2014, 11, 18, 4, 36, 0, 0, time.UTC)
	rule := mustRule(t, "minutely", "* * * * *")

	s := NewSchedule(nil, base)
	at := base
	for i := 0; i < 5; i++ {
		next := s.Add(rule, at)
		assert.True(t, next.After(at), "fire time must advance past its base")
		at = next
	}
	assert.Equal(t, 5, s.Len())
}

func TestSchedulePeekDoesNotRemove(t *testing.T) {
	base := time.Date(2014, 11, 18, 4, 36, 0, 0, time.UTC)
	s := NewSchedule([]*load.Rule{mustRule(t, "a", "* * * * *")}, base)

	peeked := s.Peek()
	require.NotNil(t, peeked)
	assert.Equal(t, 1, s.Len())
	assert.Equal(t, peeked, s.Pop())
	assert.Equal(t, 0, s.Len())
}

func TestScheduleTieBreaksByInsertion(t *testing.T) {
	base := time.Date(2014, 11, 18, 4, 36, 0, 0, time.UTC)

	s := NewSchedule([]*load.Rule{
		mustRule(t, "first", "* * * * *"),
		mustRule(t, "second", "* * * * *"),
		mustRule(t, "third", "* * * * *"),
	}, base)

	assert.Equal(t, "first", s.Pop().Rule.Name)
	assert.Equal(t, "second", s.Pop().Rule.Name)
	assert.Equal(t, "third", s.Pop().Rule.Name)
}
