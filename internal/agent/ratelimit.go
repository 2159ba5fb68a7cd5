package agent

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Defaults for rate-limit waits.
const (
	DefaultFallbackWait = 15 * time.Minute
	DefaultMaxWait      = 6 * time.Hour
	DefaultResetBuffer  = time.Minute
)

var rateLimitPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:usage|session|weekly|opus|5-hour|hourly|daily)\s+limit\s+reached\b`),
	regexp.MustCompile(`(?i)\blimit\s+reached\b.*\bresets?\b`),
	regexp.MustCompile(`(?i)\brate[\s_-]?limit(?:ed|_error|\s+exceeded)\b`),
	regexp.MustCompile(`(?i)\btoo many requests\b`),
	regexp.MustCompile(`(?i)\bhit\s+your\s+(?:\w+\s+)?limit\b`),
}

// looksRateLimited reports whether text carries provider rate-limit wording.
func looksRateLimited(text string) bool {
	if text == "" {
		return false
	}
	for _, re := range rateLimitPatterns {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// isRateLimitNotice is looksRateLimited restricted to short text, so prose
// that merely discusses rate limiting is not mistaken for a notice.
func isRateLimitNotice(text string) bool {
	text = strings.TrimSpace(text)
	return len(text) <= rateLimitTextMax && looksRateLimited(text)
}

// ResetOptions bounds the wait computed from a rate-limit message.
type ResetOptions struct {
	// Buffer is added past the reset time.
	Buffer time.Duration
	// MaxWait caps the result.
	MaxWait time.Duration
	// FallbackWait is used when no reset time can be parsed.
	FallbackWait time.Duration
}

func (o ResetOptions) withDefaults() ResetOptions {
	if o.Buffer < 0 {
		o.Buffer = 0
	}
	if o.MaxWait <= 0 {
		o.MaxWait = DefaultMaxWait
	}
	if o.FallbackWait <= 0 {
		o.FallbackWait = DefaultFallbackWait
	}
	if o.FallbackWait > o.MaxWait {
		o.FallbackWait = o.MaxWait
	}
	return o
}

var (
	epochSuffix = regexp.MustCompile(`\|\s*(\d{10,13})\s*$`)
	resetClock  = regexp.MustCompile(`(?i)\bresets?\s+(?:at\s+)?(\d{1,2})(?::(\d{2}))?\s*(am|pm)?(?:\s*\(([^)]+)\))?`)
)

// ParseResetWait computes how long to wait before retrying after a
// rate-limit message. It understands an epoch suffix ("...|1760000000") and
// clock times ("resets 3pm (America/New_York)", "resets at 14:30"). A clock
// time is taken as its next occurrence after now. The returned bool is false
// when the message had no usable reset time and FallbackWait was used.
func ParseResetWait(msg string, now time.Time, opts ResetOptions) (time.Duration, bool) {
	opts = opts.withDefaults()

	target, ok := parseResetTime(msg, now)
	if !ok {
		return opts.FallbackWait, false
	}
	wait := target.Sub(now)
	if wait < 0 {
		wait = 0
	}
	wait += opts.Buffer
	if wait > opts.MaxWait {
		wait = opts.MaxWait
	}
	return wait, true
}

func parseResetTime(msg string, now time.Time) (time.Time, bool) {
	if m := epochSuffix.FindStringSubmatch(strings.TrimSpace(msg)); m != nil {
		n, err := strconv.ParseInt(m[1], 10, 64)
		if err == nil {
			if len(m[1]) == 13 {
				return time.UnixMilli(n), true
			}
			return time.Unix(n, 0), true
		}
	}

	m := resetClock.FindStringSubmatch(msg)
	if m == nil {
		return time.Time{}, false
	}
	hour, err := strconv.Atoi(m[1])
	if err != nil {
		return time.Time{}, false
	}
	minute := 0
	if m[2] != "" {
		minute, _ = strconv.Atoi(m[2])
	}
	if minute > 59 {
		return time.Time{}, false
	}
	switch strings.ToLower(m[3]) {
	case "am":
		if hour < 1 || hour > 12 {
			return time.Time{}, false
		}
		if hour == 12 {
			hour = 0
		}
	case "pm":
		if hour < 1 || hour > 12 {
			return time.Time{}, false
		}
		if hour != 12 {
			hour += 12
		}
	default:
		if hour > 23 {
			return time.Time{}, false
		}
	}

	loc := now.Location()
	if zone := strings.TrimSpace(m[4]); zone != "" {
		if l, err := time.LoadLocation(zone); err == nil {
			loc = l
		}
	}
	local := now.In(loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !target.After(local) {
		target = target.AddDate(0, 0, 1)
	}
	return target, true
}
