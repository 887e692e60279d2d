// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cron

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression. Use Parse to create one from a
// string, then call Next to compute the next matching time. The zero
// Schedule matches nothing; Next on it always fails.
type Schedule struct {
	minute     set
	hour       set
	dayOfMonth set
	month      set
	dayOfWeek  set
	expression string
}

// set is a compact bitset over the integers 0-63, enough for every
// cron field range.
type set uint64

func (s set) has(value int) bool { return s&(1<<uint(value)) != 0 }
func (s *set) add(value int)     { *s |= 1 << uint(value) }

// fieldBounds describes one of the five cron fields for parsing.
type fieldBounds struct {
	name string
	min  int
	max  int
}

var bounds = [5]fieldBounds{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day-of-month", 1, 31},
	{"month", 1, 12},
	{"day-of-week", 0, 6},
}

// Parse parses a standard 5-field cron expression. Returns an error if
// the expression is malformed or contains out-of-range values.
func Parse(expression string) (Schedule, error) {
	fields := strings.Fields(expression)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}

	var sets [5]set
	for i, field := range fields {
		parsed, err := parseField(field, bounds[i])
		if err != nil {
			return Schedule{}, fmt.Errorf("cron: %s field: %w", bounds[i].name, err)
		}
		sets[i] = parsed
	}

	return Schedule{
		minute:     sets[0],
		hour:       sets[1],
		dayOfMonth: sets[2],
		month:      sets[3],
		dayOfWeek:  sets[4],
		expression: expression,
	}, nil
}

// String returns the expression the schedule was parsed from.
func (s Schedule) String() string { return s.expression }

// Next returns the earliest time strictly after t that matches the
// schedule. All computation is in UTC.
//
// Returns an error if no matching time exists within 4 years of t,
// which prevents an unbounded search on impossible schedules such as
// February 31st. The zero Schedule always returns this error.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	// Start at the next whole minute after t.
	t = t.UTC().Truncate(time.Minute).Add(time.Minute)

	// Four years covers the full leap-year cycle.
	limit := t.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !s.month.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, time.UTC)
			continue
		}

		// The day matches when both the day-of-month and day-of-week
		// sets contain it. A wildcard field has every bit set, so a
		// plain AND of both constraints gives standard cron behavior
		// for the wildcard cases.
		if !s.dayOfMonth.has(t.Day()) || !s.dayOfWeek.has(int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, time.UTC)
			continue
		}

		if !s.hour.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, time.UTC)
			continue
		}

		if !s.minute.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}

		return t, nil
	}

	return time.Time{}, fmt.Errorf("cron: no matching time within 4 years of %s", t.Format(time.RFC3339))
}

// parseField parses one comma-separated cron field into a bitset.
func parseField(field string, b fieldBounds) (set, error) {
	var result set
	for _, term := range strings.Split(field, ",") {
		bits, err := parseTerm(term, b)
		if err != nil {
			return 0, err
		}
		result |= bits
	}
	if result == 0 {
		return 0, fmt.Errorf("field %q produces empty set", field)
	}
	return result, nil
}

// parseTerm parses a single term: *, */N, V, V-V, or V-V/N.
func parseTerm(term string, b fieldBounds) (set, error) {
	rangePart, stepPart, hasStep := strings.Cut(term, "/")

	step := 1
	if hasStep {
		parsed, err := strconv.Atoi(stepPart)
		if err != nil {
			return 0, fmt.Errorf("invalid step %q: %w", stepPart, err)
		}
		if parsed <= 0 {
			return 0, fmt.Errorf("step must be positive, got %d", parsed)
		}
		step = parsed
	}

	first, last, err := parseRange(rangePart, b)
	if err != nil {
		return 0, err
	}

	var result set
	for value := first; value <= last; value += step {
		result.add(value)
	}
	return result, nil
}

// parseRange resolves the range portion of a term to inclusive bounds.
func parseRange(expression string, b fieldBounds) (first, last int, err error) {
	if expression == "*" {
		return b.min, b.max, nil
	}

	if start, end, isRange := strings.Cut(expression, "-"); isRange {
		first, err = strconv.Atoi(start)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid range start %q: %w", start, err)
		}
		last, err = strconv.Atoi(end)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid range end %q: %w", end, err)
		}
		if first > last {
			return 0, 0, fmt.Errorf("range start %d > end %d", first, last)
		}
	} else {
		value, err := strconv.Atoi(expression)
		if err != nil {
			return 0, 0, fmt.Errorf("invalid value %q: %w", expression, err)
		}
		first, last = value, value
	}

	if first < b.min || last > b.max {
		return 0, 0, fmt.Errorf("value out of range [%d-%d]: got %d-%d", b.min, b.max, first, last)
	}
	return first, last, nil
}
