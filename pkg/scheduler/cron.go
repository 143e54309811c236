package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/cs-shadowbq/falcon-policy-scoring/pkg/models/domain"
)

// searchLimit bounds Next; a schedule such as "0 0 30 2 *" never fires.
const searchLimit = 4 * 366 * 24 * time.Hour

type field struct {
	name     string
	min, max int
}

var fields = [5]field{
	{"minute", 0, 59},
	{"hour", 0, 23},
	{"day of month", 1, 31},
	{"month", 1, 12},
	{"day of week", 0, 6},
}

// Schedule is a parsed five field cron expression. A time matches only when
// every field matches, day of month and day of week included.
type Schedule struct {
	expr string
	sets [5]uint64
}

// ParseCron supports *, lists, ranges a-b and steps */n, a-b/n and a/n in
// each field. Day of week runs 0-6 from Sunday; 7 is accepted as Sunday.
func ParseCron(expr string) (*Schedule, error) {
	parts := strings.Fields(expr)
	if len(parts) != len(fields) {
		return nil, domain.NewConfigError("cron", "expression %q must have 5 fields, got %d", expr, len(parts))
	}

	s := &Schedule{expr: strings.Join(parts, " ")}
	for i, part := range parts {
		f := fields[i]
		upper := f.max
		if i == 4 {
			upper = 7
		}
		set, err := parseField(part, f.min, upper)
		if err != nil {
			return nil, domain.NewConfigError("cron", "expression %q: %s field: %v", expr, f.name, err)
		}
		if i == 4 && set&(1<<7) != 0 {
			set = set&^(1<<7) | 1
		}
		s.sets[i] = set
	}
	return s, nil
}

func parseField(expr string, lower, upper int) (uint64, error) {
	var set uint64
	for _, item := range strings.Split(expr, ",") {
		if item == "" {
			return 0, fmt.Errorf("empty list item in %q", expr)
		}

		rangePart, step := item, 1
		base, stepStr, stepped := strings.Cut(item, "/")
		if stepped {
			n, err := strconv.Atoi(stepStr)
			if err != nil || n <= 0 {
				return 0, fmt.Errorf("invalid step %q", stepStr)
			}
			rangePart, step = base, n
		}

		lo, hi := lower, upper
		switch {
		case rangePart == "*":
		case strings.Contains(rangePart, "-"):
			a, b, _ := strings.Cut(rangePart, "-")
			var err error
			if lo, err = bound(a, lower, upper); err != nil {
				return 0, err
			}
			if hi, err = bound(b, lower, upper); err != nil {
				return 0, err
			}
			if lo > hi {
				return 0, fmt.Errorf("range %q is reversed", rangePart)
			}
		default:
			v, err := bound(rangePart, lower, upper)
			if err != nil {
				return 0, err
			}
			lo = v
			// a bare value is a single point; a/n runs to the end of the field
			if !stepped {
				hi = v
			}
		}

		for v := lo; v <= hi; v += step {
			set |= 1 << uint(v)
		}
	}
	return set, nil
}

func bound(s string, lower, upper int) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q", s)
	}
	if v < lower || v > upper {
		return 0, fmt.Errorf("value %d out of range %d-%d", v, lower, upper)
	}
	return v, nil
}

func (s *Schedule) String() string {
	return s.expr
}

// Matches reports whether t, truncated to the minute, satisfies every field.
func (s *Schedule) Matches(t time.Time) bool {
	return s.sets[0]&(1<<uint(t.Minute())) != 0 &&
		s.sets[1]&(1<<uint(t.Hour())) != 0 &&
		s.sets[2]&(1<<uint(t.Day())) != 0 &&
		s.sets[3]&(1<<uint(t.Month())) != 0 &&
		s.sets[4]&(1<<uint(t.Weekday())) != 0
}

// Next returns the first matching minute strictly after t, or the zero time
// when nothing matches within four years.
func (s *Schedule) Next(t time.Time) time.Time {
	candidate := t.Truncate(time.Minute).Add(time.Minute)
	limit := candidate.Add(searchLimit)

	for candidate.Before(limit) {
		switch {
		case s.sets[3]&(1<<uint(candidate.Month())) == 0:
			candidate = time.Date(candidate.Year(), candidate.Month()+1, 1, 0, 0, 0, 0, candidate.Location())
		case s.sets[2]&(1<<uint(candidate.Day())) == 0 || s.sets[4]&(1<<uint(candidate.Weekday())) == 0:
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day()+1, 0, 0, 0, 0, candidate.Location())
		case s.sets[1]&(1<<uint(candidate.Hour())) == 0:
			candidate = time.Date(candidate.Year(), candidate.Month(), candidate.Day(), candidate.Hour()+1, 0, 0, 0, candidate.Location())
		case s.sets[0]&(1<<uint(candidate.Minute())) == 0:
			candidate = candidate.Add(time.Minute)
		default:
			return candidate
		}
	}
	return time.Time{}
}

// Interval estimates the spacing between two consecutive runs after t.
func (s *Schedule) Interval(t time.Time) time.Duration {
	first := s.Next(t)
	if first.IsZero() {
		return 0
	}
	second := s.Next(first)
	if second.IsZero() {
		return 0
	}
	return second.Sub(first)
}
