package scheduler

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

var cronParser = cron.NewParser(
	cron.SecondOptional |
		cron.Minute |
		cron.Hour |
		cron.Dom |
		cron.Month |
		cron.Dow |
		cron.Descriptor,
)

// ScheduleSpec is the wire form of a schedule as supplied by tool arguments.
// Exactly one of At, Every, or Cron must be set.
type ScheduleSpec struct {
	At       string `json:"at,omitempty"`
	Every    string `json:"every,omitempty"`
	Cron     string `json:"cron,omitempty"`
	Timezone string `json:"timezone,omitempty"`
}

// Schedule is a parsed, validated schedule.
type Schedule struct {
	Kind     string        `json:"kind"`
	At       time.Time     `json:"at,omitempty"`
	Every    time.Duration `json:"every,omitempty"`
	CronExpr string        `json:"cron,omitempty"`
	Timezone string        `json:"timezone,omitempty"`
}

// ParseSchedule validates a spec and resolves it into a Schedule.
func ParseSchedule(spec ScheduleSpec) (Schedule, error) {
	at := strings.TrimSpace(spec.At)
	every := strings.TrimSpace(spec.Every)
	expr := strings.TrimSpace(spec.Cron)

	set := 0
	for _, v := range []string{at, every, expr} {
		if v != "" {
			set++
		}
	}
	if set == 0 {
		return Schedule{}, fmt.Errorf("schedule requires one of at, every, or cron")
	}
	if set > 1 {
		return Schedule{}, fmt.Errorf("schedule accepts only one of at, every, or cron")
	}

	sched := Schedule{Timezone: strings.TrimSpace(spec.Timezone)}
	switch {
	case at != "":
		parsed, err := parseAt(at, sched.Timezone)
		if err != nil {
			return Schedule{}, err
		}
		sched.Kind = "at"
		sched.At = parsed
	case every != "":
		d, err := time.ParseDuration(every)
		if err != nil {
			return Schedule{}, fmt.Errorf("invalid every duration %q: %w", every, err)
		}
		if d <= 0 {
			return Schedule{}, fmt.Errorf("every duration must be positive")
		}
		sched.Kind = "every"
		sched.Every = d
	default:
		if _, err := cronParser.Parse(expr); err != nil {
			return Schedule{}, fmt.Errorf("invalid cron expression: %w", err)
		}
		sched.Kind = "cron"
		sched.CronExpr = expr
	}
	return sched, nil
}

// Next returns the next run time strictly after now, or false when the
// schedule has no further runs.
func (s Schedule) Next(now time.Time) (time.Time, bool, error) {
	switch s.Kind {
	case "at":
		if s.At.IsZero() {
			return time.Time{}, false, fmt.Errorf("at schedule missing timestamp")
		}
		if now.After(s.At) {
			return time.Time{}, false, nil
		}
		return s.At, true, nil
	case "every":
		if s.Every <= 0 {
			return time.Time{}, false, fmt.Errorf("every schedule missing duration")
		}
		return now.Add(s.Every), true, nil
	case "cron":
		if s.CronExpr == "" {
			return time.Time{}, false, fmt.Errorf("cron schedule missing expression")
		}
		loc := now.Location()
		if s.Timezone != "" {
			if tz, err := time.LoadLocation(s.Timezone); err == nil {
				loc = tz
			}
		}
		parsed, err := cronParser.Parse(s.CronExpr)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse cron expression: %w", err)
		}
		next := parsed.Next(now.In(loc))
		return next, !next.IsZero(), nil
	default:
		return time.Time{}, false, fmt.Errorf("unknown schedule kind %q", s.Kind)
	}
}

// Recurring reports whether the schedule fires more than once.
func (s Schedule) Recurring() bool {
	return s.Kind == "every" || s.Kind == "cron"
}

func parseAt(value, tz string) (time.Time, error) {
	if tz != "" {
		if loc, err := time.LoadLocation(tz); err == nil {
			if parsed, err := time.ParseInLocation(time.RFC3339, value, loc); err == nil {
				return parsed, nil
			}
			if parsed, err := time.ParseInLocation("2006-01-02 15:04", value, loc); err == nil {
				return parsed, nil
			}
		}
	}
	if parsed, err := time.Parse(time.RFC3339, value); err == nil {
		return parsed, nil
	}
	if parsed, err := time.Parse("2006-01-02 15:04", value); err == nil {
		return parsed, nil
	}
	return time.Time{}, fmt.Errorf("invalid at timestamp: %s", value)
}
