// Package ics reads iCalendar files and turns their timed VEVENTs into
// schedule events.
package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "reccal/internal/log"
)

var (
	ErrEmpty  = errors.New("ics: empty calendar")
	ErrAllDay = errors.New("ics: all-day event")
)

// VEvent is the part of a calendar VEVENT the schedule cares about.
type VEvent struct {
	UID     string
	Summary string

	// Start and Stop are in the event's own zone; floating values are in
	// time.Local.
	Start time.Time
	Stop  time.Time

	RawRRule string
	ExDates  []time.Time
}

// Parse decodes an iCalendar payload. A VEVENT that cannot be used is
// logged, reported in the error slice and skipped; the others are returned.
func Parse(body []byte) ([]VEvent, []error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, []error{ErrEmpty}
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err)
		return nil, []error{fmt.Errorf("ics: %w", err)}
	}

	events := make([]VEvent, 0)
	errs := make([]error, 0)
	for _, comp := range cal.Events() {
		ev, perr := parseVEvent(comp)
		if perr != nil {
			appLog.Warn("ics vevent skipped", "uid", comp.Id(), "reason", perr.Error())
			errs = append(errs, perr)
			continue
		}
		events = append(events, ev)
	}

	appLog.Info("ics parse completed", "event_count", len(events), "skipped", len(errs))
	return events, errs
}

func parseVEvent(ve *ical.VEvent) (VEvent, error) {
	var out VEvent
	out.UID = ve.Id()
	if p := ve.GetProperty(ical.ComponentPropertySummary); p != nil {
		out.Summary = p.Value
	}

	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return out, fmt.Errorf("ics: %s: missing DTSTART", out.UID)
	}
	if isDate(dtStart) {
		return out, fmt.Errorf("%w: %s", ErrAllDay, out.UID)
	}

	start, err := ve.GetStartAt()
	if err != nil {
		return out, fmt.Errorf("ics: %s: DTSTART: %w", out.UID, err)
	}
	stop, err := ve.GetEndAt()
	if err != nil {
		return out, fmt.Errorf("ics: %s: DTEND: %w", out.UID, err)
	}
	out.Start, out.Stop = start, stop

	if p := ve.GetProperty(ical.ComponentPropertyRrule); p != nil {
		out.RawRRule = p.Value
	}

	// EXDATE may repeat and may carry a comma separated list.
	for _, p := range ve.GetProperties(ical.ComponentPropertyExdate) {
		for _, part := range strings.Split(p.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := parseTime(part)
			if err != nil {
				return out, fmt.Errorf("ics: %s: EXDATE %q: %w", out.UID, part, err)
			}
			out.ExDates = append(out.ExDates, t)
		}
	}

	return out, nil
}

func isDate(p *ical.IANAProperty) bool {
	if vs, ok := p.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(p.Value, "T")
}

// parseTime handles the UTC and floating DATE-TIME forms.
func parseTime(v string) (time.Time, error) {
	if strings.HasSuffix(v, "Z") {
		return time.Parse("20060102T150405Z", v)
	}
	return time.ParseInLocation("20060102T150405", v, time.Local)
}
