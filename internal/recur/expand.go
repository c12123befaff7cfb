// Package recur turns a time-boxed template and a cadence into the concrete
// occurrences of a recurring event.
package recur

import (
	"errors"
	"fmt"
	"time"

	"github.com/teambition/rrule-go"

	appLog "reccal/internal/log"
	"reccal/internal/model"
)

const (
	defaultMaxOccurrences = 10000
)

// ErrTooManyOccurrences is returned instead of a truncated series.
var ErrTooManyOccurrences = errors.New("recur: too many occurrences")

// Options controls expansion.
type Options struct {
	// MaxOccurrences bounds the size of one series. If zero,
	// defaultMaxOccurrences is used.
	MaxOccurrences int
}

// Expand returns the occurrences of the template [start, stop) repeated at
// the given cadence. An occurrence is produced only while its stop date is
// on or before until; the first pair is subject to the same bound, so an
// until earlier than the start date yields no occurrences.
//
// Stepping is calendar-aware and DST-naive. Monthly steps keep the
// template's day of month and fall back to the last day of shorter months
// (Jan 31 -> Feb 29 -> Mar 31).
func Expand(start, stop time.Time, until model.Date, cadence model.Cadence, opts Options) ([]model.Span, error) {
	start, stop = model.Naive(start), model.Naive(stop)
	if !start.Before(stop) {
		return nil, model.ErrInvalidSpan
	}
	if opts.MaxOccurrences <= 0 {
		opts.MaxOccurrences = defaultMaxOccurrences
	}

	out := make([]model.Span, 0)
	if model.DateOf(stop) > until {
		return out, nil
	}

	r, err := buildRule(start, until, cadence)
	if err != nil {
		return nil, err
	}

	dur := stop.Sub(start)
	next := r.Iterator()
	for {
		occStart, ok := next()
		if !ok {
			break
		}
		occStart = model.Naive(occStart)
		occStop := occStart.Add(dur)
		// Stop dates grow with every step, so the first miss ends the series.
		if model.DateOf(occStop) > until {
			break
		}
		if len(out) == opts.MaxOccurrences {
			appLog.Warn("recur: expansion exceeds cap",
				"start", start.Format(time.DateTime),
				"until", until.String(),
				"cadence", cadence.String(),
				"cap", opts.MaxOccurrences,
			)
			return nil, fmt.Errorf("%w: more than %d", ErrTooManyOccurrences, opts.MaxOccurrences)
		}
		out = append(out, model.Span{Start: occStart, Stop: occStop})
	}

	appLog.Debug("recur: expanded",
		"cadence", cadence.String(),
		"until", until.String(),
		"count", len(out),
	)
	return out, nil
}

// buildRule maps a cadence onto an RRULE anchored at start. The UNTIL bound
// is the end of the until day; callers apply the stricter stop-date check.
func buildRule(start time.Time, until model.Date, cadence model.Cadence) (*rrule.RRule, error) {
	opt := rrule.ROption{
		Dtstart: start,
		Until:   until.Time().Add(24*time.Hour - time.Second),
	}

	switch cadence {
	case model.Hourly:
		opt.Freq = rrule.HOURLY
	case model.Daily:
		opt.Freq = rrule.DAILY
	case model.Weekly:
		opt.Freq = rrule.WEEKLY
	case model.Monthly:
		opt.Freq = rrule.MONTHLY
		if day := start.Day(); day > 28 {
			// BYMONTHDAY=28..day;BYSETPOS=-1 picks the template's day, or the
			// last day of a month that is too short for it.
			for d := 28; d <= day; d++ {
				opt.Bymonthday = append(opt.Bymonthday, d)
			}
			opt.Bysetpos = []int{-1}
		}
	default:
		return nil, fmt.Errorf("recur: unsupported cadence %s", cadence)
	}

	r, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("recur: build rule: %w", err)
	}
	return r, nil
}
