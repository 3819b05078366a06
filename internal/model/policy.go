package model

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// cronParser accepts standard 5-field specs plus descriptors ("@hourly").
// Seconds are deliberately not allowed: the worker cycle granularity is the
// scheduler sleep interval, so sub-minute cron firing would never be observed.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// RefreshPolicy decides when a plugin instance's content is stale.
//
// Any combination of the three kinds may be set; the instance is due when at
// least one kind says so. An empty policy never fires on its own (the
// instance still renders once, because a missing last-refresh timestamp is
// always due).
type RefreshPolicy struct {
	// Interval is the minimum age, in seconds, before the content is stale.
	Interval int `json:"interval,omitempty"`

	// Scheduled is a local time of day ("HH:MM"). The instance is due if it
	// has not refreshed at or after that time today.
	Scheduled string `json:"scheduled,omitempty"`

	// Cron is a 5-field cron spec. The instance is due when an activation
	// has passed since the last refresh.
	Cron string `json:"cron,omitempty"`
}

func (p RefreshPolicy) IsZero() bool {
	return p.Interval == 0 && strings.TrimSpace(p.Scheduled) == "" && strings.TrimSpace(p.Cron) == ""
}

// Validate rejects malformed policies early (config save time), so the
// worker loop never has to deal with them.
func (p RefreshPolicy) Validate() error {
	if p.Interval < 0 {
		return fmt.Errorf("refresh.interval must be >= 0, got %d", p.Interval)
	}
	if s := strings.TrimSpace(p.Scheduled); s != "" {
		if _, _, err := ParseHHMM(s); err != nil {
			return fmt.Errorf("refresh.scheduled: %w", err)
		}
	}
	if c := strings.TrimSpace(p.Cron); c != "" {
		if _, err := cronParser.Parse(c); err != nil {
			return fmt.Errorf("refresh.cron: invalid spec %q: %w", c, err)
		}
	}
	return nil
}

// Due reports whether content last refreshed at last is stale at now.
// A nil last means the instance has never rendered and is always due.
func (p RefreshPolicy) Due(last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}

	if p.Interval > 0 {
		if now.Sub(*last) >= time.Duration(p.Interval)*time.Second {
			return true
		}
	}

	if s := strings.TrimSpace(p.Scheduled); s != "" {
		// "Hasn't fired yet today": the last refresh's time-of-day string is
		// lexicographically before the scheduled HH:MM. Fixed-width HH:MM
		// makes the string compare equivalent to a time compare.
		if last.Format("15:04") < s {
			return true
		}
	}

	if c := strings.TrimSpace(p.Cron); c != "" {
		sched, err := cronParser.Parse(c)
		if err == nil && !sched.Next(*last).After(now) {
			return true
		}
	}

	return false
}

// ParseHHMM parses a wall-clock "HH:MM" string (00:00 .. 23:59).
func ParseHHMM(s string) (hour int, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time %q, expected HH:MM", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil || h < 0 || h > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return h, m, nil
}

// parseWindowTime is ParseHHMM extended with the "24:00" end-of-day marker
// used by playlist windows.
func parseWindowTime(s string, allowEndOfDay bool) (minutes int, err error) {
	s = strings.TrimSpace(s)
	if allowEndOfDay && s == EndOfDay {
		return 24 * 60, nil
	}
	h, m, err := ParseHHMM(s)
	if err != nil {
		return 0, err
	}
	return h*60 + m, nil
}
