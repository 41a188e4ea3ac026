// Package recurrence computes when a recurring transaction falls due.
//
// A recurrence value is either a preset name (daily, weekly, monthly, yearly)
// anchored on the rule's start date, or a cron expression with an optional
// seconds field. Descriptors such as @monthly are accepted too.
package recurrence

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Preset names.
const (
	Daily   = "daily"
	Weekly  = "weekly"
	Monthly = "monthly"
	Yearly  = "yearly"
)

// DefaultLimit caps how many occurrences Occurrences returns in one call.
const DefaultLimit = 1000

var ErrInvalidRecurrence = errors.New("invalid recurrence")

// Schedule yields successive occurrences.
type Schedule interface {
	// Next returns the first occurrence strictly after t, or the zero time
	// when there is none.
	Next(t time.Time) time.Time
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// presets maps preset names to their anchored schedule constructors.
var presets = map[string]func(anchor time.Time) Schedule{
	Daily:   func(a time.Time) Schedule { return dayStep{anchor: a, days: 1} },
	Weekly:  func(a time.Time) Schedule { return dayStep{anchor: a, days: 7} },
	Monthly: func(a time.Time) Schedule { return monthStep{anchor: a, months: 1} },
	Yearly:  func(a time.Time) Schedule { return monthStep{anchor: a, months: 12} },
}

// Parse returns the schedule for value. Presets are anchored on anchor; cron
// expressions are evaluated in anchor's location.
func Parse(value string, anchor time.Time) (Schedule, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return nil, fmt.Errorf("%w: empty", ErrInvalidRecurrence)
	}
	if newPreset, ok := presets[strings.ToLower(v)]; ok {
		if anchor.IsZero() {
			return nil, fmt.Errorf("%w: %s needs a start date", ErrInvalidRecurrence, v)
		}
		return newPreset(anchor), nil
	}

	s, err := parser.Parse(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidRecurrence, v, err)
	}
	return cronSchedule{s: s, loc: anchor.Location()}, nil
}

// Validate reports whether value is a preset or a parseable cron expression.
func Validate(value string) error {
	_, err := Parse(value, time.Unix(0, 0).UTC())
	return err
}

// Occurrences returns every occurrence strictly after after and not after
// until, at most limit of them. A non-positive limit means DefaultLimit.
func Occurrences(s Schedule, after, until time.Time, limit int) []time.Time {
	if limit <= 0 {
		limit = DefaultLimit
	}
	var out []time.Time
	for t := s.Next(after); !t.IsZero() && !t.After(until) && len(out) < limit; t = s.Next(t) {
		out = append(out, t)
	}
	return out
}

type cronSchedule struct {
	s   cron.Schedule
	loc *time.Location
}

func (c cronSchedule) Next(t time.Time) time.Time {
	loc := c.loc
	if loc == nil {
		loc = time.UTC
	}
	return c.s.Next(t.In(loc))
}

// dayStep fires every days days at the anchor's wall-clock time.
type dayStep struct {
	anchor time.Time
	days   int
}

func (d dayStep) at(n int) time.Time {
	return d.anchor.AddDate(0, 0, n*d.days)
}

func (d dayStep) Next(t time.Time) time.Time {
	n := 1
	if t.After(d.anchor) {
		// Estimate low and walk forward; DST shifts make hours inexact.
		n = max(1, int(t.Sub(d.anchor).Hours()/24)/d.days-1)
	}
	for !d.at(n).After(t) {
		n++
	}
	return d.at(n)
}

// monthStep fires every months months on the anchor's day of month, clamped
// to the last day of shorter months.
type monthStep struct {
	anchor time.Time
	months int
}

func (m monthStep) at(n int) time.Time {
	a := m.anchor
	first := time.Date(a.Year(), a.Month()+time.Month(n*m.months), 1,
		a.Hour(), a.Minute(), a.Second(), a.Nanosecond(), a.Location())
	day := min(a.Day(), daysIn(first.Year(), first.Month(), a.Location()))
	return first.AddDate(0, 0, day-1)
}

func (m monthStep) Next(t time.Time) time.Time {
	n := 1
	if t.After(m.anchor) {
		ta := t.In(m.anchor.Location())
		elapsed := (ta.Year()-m.anchor.Year())*12 + int(ta.Month()) - int(m.anchor.Month())
		n = max(1, elapsed/m.months-1)
	}
	for !m.at(n).After(t) {
		n++
	}
	return m.at(n)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

// IsPreset reports whether value names a preset.
func IsPreset(value string) bool {
	_, ok := presets[strings.ToLower(strings.TrimSpace(value))]
	return ok
}
