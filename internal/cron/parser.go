// Package cron validates recurrence expressions and computes fire times.
//
// Expressions use the standard five fields (minute hour day-of-month month
// day-of-week) with an optional leading seconds field. When both
// day-of-month and day-of-week are restricted, an instant must satisfy both.
package cron

import (
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/djlord-it/cronhook/internal/errors"
)

const parseOptions = cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow

// starBit mirrors the marker robfig/cron sets on fields written as * or ?.
const starBit = 1 << 63

// intersection search limits. 28 years is one full Gregorian weekday cycle.
const (
	maxSearchYears = 29
	maxSearchSteps = 100000
)

var defaultParser = NewParser()

// Validate returns nil if expr is a well-formed recurrence expression.
func Validate(expr string) error {
	_, err := defaultParser.parseSpec(expr)
	return err
}

// IsValid reports whether expr is a well-formed recurrence expression.
func IsValid(expr string) bool {
	return Validate(expr) == nil
}

type Parser struct {
	parser cron.Parser
}

func NewParser() *Parser {
	return &Parser{
		parser: cron.NewParser(parseOptions),
	}
}

// Parse returns the schedule for expression evaluated in timezone. An empty
// timezone means UTC.
func (p *Parser) Parse(expression string, timezone string) (Schedule, error) {
	spec, err := p.parseSpec(expression)
	if err != nil {
		return nil, err
	}

	if timezone == "" {
		timezone = "UTC"
	}
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "load timezone %q", timezone)
	}

	return &schedule{spec: spec, loc: loc}, nil
}

func (p *Parser) parseSpec(expression string) (*cron.SpecSchedule, error) {
	expr := strings.TrimSpace(expression)
	if expr == "" {
		return nil, errors.Wrap(errors.ErrInvalidSchedule, "empty expression")
	}
	if strings.HasPrefix(expr, "TZ=") || strings.HasPrefix(expr, "CRON_TZ=") {
		return nil, errors.WithHint(
			errors.Wrapf(errors.ErrInvalidSchedule, "%q: inline timezone not supported", expression),
			"the timezone is configured for the whole service")
	}

	expr, err := normalizeFields(expr)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidSchedule, "%q: %v", expression, err)
	}

	sched, err := p.parser.Parse(expr)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidSchedule, "%q: %v", expression, err)
	}
	spec, ok := sched.(*cron.SpecSchedule)
	if !ok {
		return nil, errors.Wrapf(errors.ErrInvalidSchedule, "%q: unsupported schedule form", expression)
	}
	return spec, nil
}

// normalizeFields rejects empty list items, which robfig/cron drops
// silently, and rewrites day-of-week 7 as 0. Day-of-week is always the last
// field whether or not seconds are present.
func normalizeFields(expr string) (string, error) {
	fields := strings.Fields(expr)
	for i, f := range fields {
		for _, item := range strings.Split(f, ",") {
			if item == "" {
				return "", errors.Newf("empty list item in field %q", f)
			}
		}
		if i == len(fields)-1 {
			fields[i] = sundayAsZero(f)
		}
	}
	return strings.Join(fields, " "), nil
}

// sundayAsZero maps the day-of-week forms "7" and "a-7" onto 0..6. Stepped
// items are left alone and still fail range checks if they name 7.
func sundayAsZero(field string) string {
	items := strings.Split(field, ",")
	for i, item := range items {
		if strings.Contains(item, "/") {
			continue
		}
		switch {
		case item == "7":
			items[i] = "0"
		case strings.HasSuffix(item, "-7"):
			lo := strings.TrimSuffix(item, "-7")
			switch lo {
			case "7":
				items[i] = "0"
			case "6":
				items[i] = "6,0"
			default:
				items[i] = lo + "-6,0"
			}
		}
	}
	return strings.Join(items, ",")
}

type Schedule interface {
	// Next returns the first matching instant strictly after the given time,
	// or the zero time if the expression can never match.
	Next(after time.Time) time.Time
}

type schedule struct {
	spec *cron.SpecSchedule
	loc  *time.Location
}

func (s *schedule) Next(after time.Time) time.Time {
	t := s.spec.Next(after.In(s.loc))
	if t.IsZero() || !s.bothDaysRestricted() {
		return t
	}

	horizon := after.AddDate(maxSearchYears, 0, 0)
	for i := 0; i < maxSearchSteps; i++ {
		if t.IsZero() || t.After(horizon) {
			return time.Time{}
		}
		if s.dayMatches(t) {
			return t
		}
		// Skip the rest of a day that only matched one of the two day fields.
		endOfDay := time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, s.loc).Add(-time.Second)
		t = s.spec.Next(endOfDay)
	}
	return time.Time{}
}

func (s *schedule) bothDaysRestricted() bool {
	return s.spec.Dom&starBit == 0 && s.spec.Dow&starBit == 0
}

func (s *schedule) dayMatches(t time.Time) bool {
	return s.spec.Dom&(1<<uint(t.Day())) > 0 && s.spec.Dow&(1<<uint(t.Weekday())) > 0
}
