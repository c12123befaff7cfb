package ics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	appLog "reccal/internal/log"
	"reccal/internal/model"
	"reccal/internal/recur"
)

const (
	defaultMaxOccurrencesPerEvent = 5000
)

// ErrUnbounded is returned for a recurring VEVENT whose rule has neither
// COUNT nor UNTIL when no import horizon was given.
var ErrUnbounded = errors.New("ics: recurrence has no end")

// ExpandConfig controls how VEVENTs become occurrences.
type ExpandConfig struct {
	// Until, if set, is the last day an occurrence may end on. It also
	// bounds rules that never end.
	Until model.Date

	// MaxOccurrencesPerEvent is a safety cap for a single VEVENT. If zero,
	// defaultMaxOccurrencesPerEvent is used.
	MaxOccurrencesPerEvent int
}

// Occurrences returns the naive spans of ev: one for a plain event, one per
// rule instance (minus EXDATEs) for a recurring one. Zoned times are read
// in time.Local.
func Occurrences(ev VEvent, cfg ExpandConfig) ([]model.Span, error) {
	if cfg.MaxOccurrencesPerEvent <= 0 {
		cfg.MaxOccurrencesPerEvent = defaultMaxOccurrencesPerEvent
	}

	start := model.Naive(ev.Start.In(time.Local))
	stop := model.Naive(ev.Stop.In(time.Local))
	if !start.Before(stop) {
		return nil, fmt.Errorf("%w: %s", model.ErrInvalidSpan, ev.UID)
	}
	dur := stop.Sub(start)

	within := func(s model.Span) bool {
		return cfg.Until == 0 || model.DateOf(s.Stop) <= cfg.Until
	}

	if ev.RawRRule == "" {
		s := model.Span{Start: start, Stop: stop}
		if !within(s) {
			return nil, nil
		}
		return []model.Span{s}, nil
	}

	opt, err := rrule.StrToROptionInLocation(ev.RawRRule, time.Local)
	if err != nil {
		return nil, fmt.Errorf("ics: %s: RRULE: %w", ev.UID, err)
	}
	opt.Dtstart = start
	if !opt.Until.IsZero() {
		opt.Until = model.Naive(opt.Until.In(time.Local))
		if untilIsDate(ev.RawRRule) {
			// A DATE until includes the whole day.
			opt.Until = opt.Until.Add(24*time.Hour - time.Minute)
		}
	}
	if cfg.Until != 0 {
		horizon := cfg.Until.Time().Add(24*time.Hour - time.Second)
		if opt.Until.IsZero() || opt.Until.After(horizon) {
			opt.Until = horizon
		}
	}
	if opt.Count == 0 && opt.Until.IsZero() {
		return nil, fmt.Errorf("%w: %s", ErrUnbounded, ev.UID)
	}

	r, err := rrule.NewRRule(*opt)
	if err != nil {
		return nil, fmt.Errorf("ics: %s: RRULE: %w", ev.UID, err)
	}

	excluded := make(map[time.Time]struct{}, len(ev.ExDates))
	for _, ex := range ev.ExDates {
		excluded[model.Naive(ex.In(time.Local))] = struct{}{}
	}

	out := make([]model.Span, 0)
	next := r.Iterator()
	for {
		occStart, ok := next()
		if !ok {
			break
		}
		occStart = model.Naive(occStart)
		if _, skip := excluded[occStart]; skip {
			continue
		}
		s := model.Span{Start: occStart, Stop: occStart.Add(dur)}
		if !within(s) {
			break
		}
		if len(out) == cfg.MaxOccurrencesPerEvent {
			appLog.Warn("ics: expansion exceeds cap", "uid", ev.UID, "cap", cfg.MaxOccurrencesPerEvent)
			return nil, fmt.Errorf("%w: %s: more than %d", recur.ErrTooManyOccurrences, ev.UID, cfg.MaxOccurrencesPerEvent)
		}
		out = append(out, s)
	}

	appLog.Debug("ics: expanded", "uid", ev.UID, "count", len(out))
	return out, nil
}

func untilIsDate(raw string) bool {
	for _, part := range strings.Split(raw, ";") {
		if v, ok := strings.CutPrefix(strings.ToUpper(strings.TrimSpace(part)), "UNTIL="); ok {
			return len(v) == len("20060102")
		}
	}
	return false
}

// Events expands every VEVENT into standalone schedule events. A VEVENT
// that fails is reported in the error slice and contributes nothing.
func Events(vevents []VEvent, cfg ExpandConfig) ([]*model.Event, []error) {
	events := make([]*model.Event, 0, len(vevents))
	errs := make([]error, 0)

	for _, ve := range vevents {
		spans, err := Occurrences(ve, cfg)
		if err != nil {
			appLog.Error("ics: expand failed", err, "uid", ve.UID)
			errs = append(errs, err)
			continue
		}
		for _, s := range spans {
			ev, err := model.NewEvent(s.Start, s.Stop)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			events = append(events, ev)
		}
	}
	return events, errs
}
