package model

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidSpan is returned when an occurrence does not satisfy start < stop.
	ErrInvalidSpan = errors.New("model: start must be before stop")
	// ErrEmptySeries is returned when a series would own no occurrences.
	ErrEmptySeries = errors.New("model: series has no occurrences")
)

// Naive strips the location and everything below the minute, returning the
// same wall-clock reading carried in UTC. All schedule timestamps are naive
// local times; carrying them in UTC keeps arithmetic free of DST shifts.
func Naive(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), 0, 0, time.UTC)
}

// Span is a start/stop pair with minute resolution.
type Span struct {
	Start time.Time
	Stop  time.Time
}

// Overlaps reports whether two spans conflict. The test is closed on both
// ends: spans that touch at an endpoint overlap.
func (s Span) Overlaps(o Span) bool {
	return !s.Start.After(o.Stop) && !s.Stop.Before(o.Start)
}

// Event is a single concrete occurrence. ParentID is empty for standalone
// events and names the owning Series otherwise.
type Event struct {
	ID       string
	Start    time.Time
	Stop     time.Time
	ParentID string
}

// NewEvent builds a standalone event with a fresh id.
func NewEvent(start, stop time.Time) (*Event, error) {
	start, stop = Naive(start), Naive(stop)
	if !start.Before(stop) {
		return nil, fmt.Errorf("%w: %s >= %s", ErrInvalidSpan, start.Format(time.DateTime), stop.Format(time.DateTime))
	}
	return &Event{
		ID:    uuid.NewString(),
		Start: start,
		Stop:  stop,
	}, nil
}

func (e Event) Span() Span {
	return Span{Start: e.Start, Stop: e.Stop}
}

// Date is the calendar day an event's start falls on.
func (e Event) Date() Date {
	return DateOf(e.Start)
}

func (e Event) String() string {
	return e.Start.Format("2006-01-02 15:04") + " -> " + e.Stop.Format("2006-01-02 15:04")
}

// Series is a recurrence template. It owns its children by id, in
// generation order.
type Series struct {
	ID       string
	Start    time.Time
	Stop     time.Time
	Until    Date
	Cadence  Cadence
	ChildIDs []string
}

// NewSeries creates a series and one child event per span. The children
// point back at the series through ParentID.
func NewSeries(start, stop time.Time, until Date, cadence Cadence, spans []Span) (*Series, []*Event, error) {
	if len(spans) == 0 {
		return nil, nil, ErrEmptySeries
	}
	s := &Series{
		ID:       uuid.NewString(),
		Start:    Naive(start),
		Stop:     Naive(stop),
		Until:    until,
		Cadence:  cadence,
		ChildIDs: make([]string, 0, len(spans)),
	}

	children := make([]*Event, 0, len(spans))
	for _, sp := range spans {
		ev, err := NewEvent(sp.Start, sp.Stop)
		if err != nil {
			return nil, nil, err
		}
		ev.ParentID = s.ID
		s.ChildIDs = append(s.ChildIDs, ev.ID)
		children = append(children, ev)
	}
	return s, children, nil
}

// HasChild reports whether id is listed among the series' children.
func (s *Series) HasChild(id string) bool {
	for _, c := range s.ChildIDs {
		if c == id {
			return true
		}
	}
	return false
}

// DetachChild drops id from the child list. It reports whether the list is
// now empty.
func (s *Series) DetachChild(id string) bool {
	out := s.ChildIDs[:0]
	for _, c := range s.ChildIDs {
		if c != id {
			out = append(out, c)
		}
	}
	s.ChildIDs = out
	return len(s.ChildIDs) == 0
}

// Cadence is the recurrence step unit.
type Cadence int

const (
	Hourly Cadence = iota + 1
	Daily
	Weekly
	Monthly
)

func (c Cadence) String() string {
	switch c {
	case Hourly:
		return "hourly"
	case Daily:
		return "daily"
	case Weekly:
		return "weekly"
	case Monthly:
		return "monthly"
	default:
		return fmt.Sprintf("cadence(%d)", int(c))
	}
}

// ParseCadence accepts the lower-case names produced by String.
func ParseCadence(s string) (Cadence, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "hourly":
		return Hourly, nil
	case "daily":
		return Daily, nil
	case "weekly":
		return Weekly, nil
	case "monthly":
		return Monthly, nil
	default:
		return 0, fmt.Errorf("model: unknown cadence %q", s)
	}
}
