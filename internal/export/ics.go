package export

import (
	"time"

	ical "github.com/arran4/golang-ical"

	"reccal/internal/schedule"
)

// floatingLayout is an iCalendar DATE-TIME without zone, which is how naive
// local times are expressed.
const floatingLayout = "20060102T150405"

// ICSOptions controls calendar export.
type ICSOptions struct {
	// ProductID is written as PRODID. Defaults to "-//reccal//schedule//EN".
	ProductID string
	// Summary is the title given to every event.
	Summary string
	// Stamp is written as DTSTAMP on every event. Zero means time.Now().
	Stamp time.Time
}

// ICS renders the schedule as an iCalendar document. Children of a series
// carry a RELATED-TO property naming the series id.
func ICS(src *schedule.Store, opts ICSOptions) (string, error) {
	if src.Len() == 0 {
		return "", ErrEmptySchedule
	}
	if opts.ProductID == "" {
		opts.ProductID = "-//reccal//schedule//EN"
	}
	if opts.Summary == "" {
		opts.Summary = "Recording"
	}
	if opts.Stamp.IsZero() {
		opts.Stamp = time.Now()
	}

	cal := ical.NewCalendar()
	cal.SetProductId(opts.ProductID)
	cal.SetMethod(ical.MethodPublish)

	for _, date := range src.Dates() {
		for _, ev := range src.Query(date) {
			ve := cal.AddEvent(ev.ID)
			ve.SetDtStampTime(opts.Stamp.UTC())
			ve.SetProperty(ical.ComponentPropertyDtStart, ev.Start.Format(floatingLayout))
			ve.SetProperty(ical.ComponentPropertyDtEnd, ev.Stop.Format(floatingLayout))
			ve.SetSummary(opts.Summary)
			if ev.ParentID != "" {
				ve.AddProperty(ical.ComponentProperty("RELATED-TO"), ev.ParentID)
			}
		}
	}

	return cal.Serialize(), nil
}
