// Package daemon runs the scheduler: a supervisor loop that spawns an
// isolated worker process for each due rule and reaps the results.
package daemon

import (
	"container/heap"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/neodata/fetchd/fetch/load"
)

// An Entry is one pending firing of a rule.
type Entry struct {
	When time.Time
	Rule *load.Rule

	seq int
}

// Schedule keeps rules ordered by next fire time so the soonest can be
// easily retrieved.
type Schedule struct {
	entries entryHeap
	seq     int
}

// NewSchedule schedules every rule from its first firing after base.
func NewSchedule(rules []*load.Rule, base time.Time) *Schedule {
	s := &Schedule{}
	for _, rule := range rules {
		s.Add(rule, base)
	}
	return s
}

// Len is the number of pending entries.
func (s *Schedule) Len() int {
	return len(s.entries)
}

// Peek returns the soonest entry without removing it, or nil when empty.
func (s *Schedule) Peek() *Entry {
	if len(s.entries) == 0 {
		return nil
	}
	return s.entries[0]
}

// Pop removes and returns the soonest entry, or nil when empty.
func (s *Schedule) Pop() *Entry {
	if len(s.entries) == 0 {
		return nil
	}
	return heap.Pop(&s.entries).(*Entry)
}

// Add schedules the rule's first firing after base and returns that
// time.
func (s *Schedule) Add(rule *load.Rule, base time.Time) time.Time {
	next := rule.Next(base)
	logrus.Debugf("Scheduled action %q at %s", rule.Name, next)
	s.seq++
	heap.Push(&s.entries, &Entry{When: next, Rule: rule, seq: s.seq})
	return next
}

// entryHeap orders by fire time, breaking ties by insertion order.
type entryHeap []*Entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].When.Equal(h[j].When) {
		return h[i].seq < h[j].seq
	}
	return h[i].When.Before(h[j].When)
}

func (h entryHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *entryHeap) Push(x interface{}) {
	*h = append(*h, x.(*Entry))
}

func (h *entryHeap) Pop() interface{} {
	old := *h
	n := len(old)
	entry := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return entry
}
