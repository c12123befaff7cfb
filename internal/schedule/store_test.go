package schedule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reccal/internal/model"
	"reccal/internal/recur"
)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func newEvent(t *testing.T, start, stop time.Time) *model.Event {
	t.Helper()
	ev, err := model.NewEvent(start, stop)
	require.NoError(t, err)
	return ev
}

func newSeries(t *testing.T, start, stop time.Time, until string, c model.Cadence) (*model.Series, []*model.Event) {
	t.Helper()
	u, err := model.ParseDate(until)
	require.NoError(t, err)
	spans, err := recur.Expand(start, stop, u, c, recur.Options{})
	require.NoError(t, err)
	sr, children, err := model.NewSeries(start, stop, u, c, spans)
	require.NoError(t, err)
	return sr, children
}

// assertNoOverlaps checks the store invariant on every bucket.
func assertNoOverlaps(t *testing.T, s *Store) {
	t.Helper()
	for _, d := range s.Dates() {
		evs := s.Query(d)
		for i := range evs {
			for j := i + 1; j < len(evs); j++ {
				assert.False(t, evs[i].Span().Overlaps(evs[j].Span()), "%s overlaps %s", evs[i], evs[j])
			}
		}
	}
}

func TestSaveSingleRejectsOverlap(t *testing.T) {
	s := New()
	first := newEvent(t, at(2024, 6, 1, 9, 0), at(2024, 6, 1, 10, 0))
	require.NoError(t, s.SaveSingle(first))

	second := newEvent(t, at(2024, 6, 1, 9, 30), at(2024, 6, 1, 10, 30))
	err := s.SaveSingle(second)

	var overlap *OverlapError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, model.Date(20240601), overlap.Date)
	assert.Equal(t, first.ID, overlap.Existing.ID)
	assert.Equal(t, second.ID, overlap.Candidate.ID)

	evs := s.Query(model.Date(20240601))
	require.Len(t, evs, 1)
	assert.Equal(t, first.ID, evs[0].ID)
	assert.Equal(t, 1, s.Len())
}

func TestSaveSingleTouchingEndpointsConflict(t *testing.T) {
	s := New()
	require.NoError(t, s.SaveSingle(newEvent(t, at(2024, 6, 1, 9, 0), at(2024, 6, 1, 10, 0))))

	err := s.SaveSingle(newEvent(t, at(2024, 6, 1, 10, 0), at(2024, 6, 1, 11, 0)))
	var overlap *OverlapError
	require.ErrorAs(t, err, &overlap)

	require.NoError(t, s.SaveSingle(newEvent(t, at(2024, 6, 1, 10, 1), at(2024, 6, 1, 11, 0))))
}

func TestBucketsAreKeyedByStartDateOnly(t *testing.T) {
	s := New()
	// Crosses midnight into 06-02 but lives in the 06-01 bucket.
	late := newEvent(t, at(2024, 6, 1, 23, 0), at(2024, 6, 2, 1, 0))
	require.NoError(t, s.SaveSingle(late))

	early := newEvent(t, at(2024, 6, 2, 0, 30), at(2024, 6, 2, 2, 0))
	require.NoError(t, s.SaveSingle(early))

	assert.Len(t, s.Query(model.Date(20240601)), 1)
	assert.Len(t, s.Query(model.Date(20240602)), 1)
}

func TestQueryOrderedByStart(t *testing.T) {
	s := New()
	c := newEvent(t, at(2024, 6, 1, 15, 0), at(2024, 6, 1, 16, 0))
	a := newEvent(t, at(2024, 6, 1, 8, 0), at(2024, 6, 1, 9, 0))
	b := newEvent(t, at(2024, 6, 1, 11, 0), at(2024, 6, 1, 12, 0))
	require.NoError(t, s.SaveBatch([]*model.Event{c, a}))
	require.NoError(t, s.SaveSingle(b))

	var ids []string
	for _, ev := range s.QueryTime(at(2024, 6, 1, 0, 0)) {
		ids = append(ids, ev.ID)
	}
	assert.Equal(t, []string{a.ID, b.ID, c.ID}, ids)
	assert.Empty(t, s.Query(model.Date(20240602)))
}

func TestSaveBatchIsAtomic(t *testing.T) {
	s := New()
	blocker := newEvent(t, at(2024, 6, 17, 8, 15), at(2024, 6, 17, 8, 45))
	require.NoError(t, s.SaveSingle(blocker))
	before := s.Snapshot()

	sr, children := newSeries(t, at(2024, 6, 3, 8, 0), at(2024, 6, 3, 8, 30), "2024-06-17", model.Weekly)
	err := s.SaveSeries(sr, children)

	var overlap *OverlapError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, model.Date(20240617), overlap.Date)
	assert.Equal(t, blocker.ID, overlap.Existing.ID)
	assert.Equal(t, children[2].ID, overlap.Candidate.ID)

	assert.Equal(t, before, s.Snapshot())
	_, ok := s.Series(sr.ID)
	assert.False(t, ok)
}

func TestSaveBatchDetectsCoBatchConflict(t *testing.T) {
	s := New()
	a := newEvent(t, at(2024, 6, 1, 9, 0), at(2024, 6, 1, 10, 0))
	b := newEvent(t, at(2024, 6, 2, 9, 0), at(2024, 6, 2, 10, 0))
	c := newEvent(t, at(2024, 6, 1, 9, 45), at(2024, 6, 1, 11, 0))

	err := s.SaveBatch([]*model.Event{a, b, c})
	var overlap *OverlapError
	require.ErrorAs(t, err, &overlap)
	assert.Equal(t, a.ID, overlap.Existing.ID)
	assert.Equal(t, c.ID, overlap.Candidate.ID)

	assert.Zero(t, s.Len())
	assert.Empty(t, s.Dates())
}

func TestSaveRejectsDuplicatesAndUnknownParents(t *testing.T) {
	s := New()
	ev := newEvent(t, at(2024, 6, 1, 9, 0), at(2024, 6, 1, 10, 0))
	require.NoError(t, s.SaveSingle(ev))
	require.ErrorIs(t, s.SaveSingle(ev), ErrDuplicateID)

	orphan := newEvent(t, at(2024, 6, 5, 9, 0), at(2024, 6, 5, 10, 0))
	orphan.ParentID = "missing"
	require.ErrorIs(t, s.SaveSingle(orphan), ErrUnknownSeries)

	dup := newEvent(t, at(2024, 6, 6, 9, 0), at(2024, 6, 6, 10, 0))
	require.ErrorIs(t, s.SaveBatch([]*model.Event{dup, dup}), ErrDuplicateID)
	assert.Equal(t, 1, s.Len())
}

func TestSaveSeriesAndInvariant(t *testing.T) {
	s := New()
	sr, children := newSeries(t, at(2024, 6, 3, 8, 0), at(2024, 6, 3, 8, 30), "2024-06-17", model.Weekly)
	require.NoError(t, s.SaveSeries(sr, children))
	require.NoError(t, s.SaveSingle(newEvent(t, at(2024, 6, 10, 9, 0), at(2024, 6, 10, 10, 0))))

	daily, dailyChildren := newSeries(t, at(2024, 6, 1, 12, 0), at(2024, 6, 1, 13, 0), "2024-06-20", model.Daily)
	require.NoError(t, s.SaveSeries(daily, dailyChildren))

	assert.Equal(t, 3+1+20, s.Len())
	assertNoOverlaps(t, s)

	got, ok := s.Series(sr.ID)
	require.True(t, ok)
	assert.Equal(t, sr.ChildIDs, got.ChildIDs)
	assert.ElementsMatch(t, []string{sr.ID, daily.ID}, s.SeriesIDs())
}

func TestSaveSeriesRejectsMismatchedChildren(t *testing.T) {
	s := New()
	sr, children := newSeries(t, at(2024, 6, 3, 8, 0), at(2024, 6, 3, 8, 30), "2024-06-17", model.Weekly)

	require.Error(t, s.SaveSeries(sr, children[:2]))
	require.Error(t, s.SaveSeries(sr, []*model.Event{children[1], children[0], children[2]}))
	require.ErrorIs(t, s.SaveSeries(sr, nil), model.ErrEmptySeries)
	assert.Zero(t, s.Len())

	require.NoError(t, s.SaveSeries(sr, children))
	require.ErrorIs(t, s.SaveSeries(sr, children), ErrDuplicateID)
}

func TestRemoveChildDetachesAndDropsEmptyParent(t *testing.T) {
	s := New()
	sr, children := newSeries(t, at(2024, 6, 3, 8, 0), at(2024, 6, 3, 8, 30), "2024-06-10", model.Weekly)
	require.NoError(t, s.SaveSeries(sr, children))

	require.NoError(t, s.Remove(children[0].ID))
	got, ok := s.Series(sr.ID)
	require.True(t, ok)
	assert.Equal(t, []string{children[1].ID}, got.ChildIDs)
	assert.Empty(t, s.Query(model.Date(20240603)))

	require.NoError(t, s.Remove(children[1].ID))
	_, ok = s.Series(sr.ID)
	assert.False(t, ok)
	assert.Zero(t, s.Len())
	assert.Empty(t, s.Dates())

	require.ErrorIs(t, s.Remove(children[1].ID), ErrNotFound)
}

func TestRemoveStandalone(t *testing.T) {
	s := New()
	ev := newEvent(t, at(2024, 6, 1, 9, 0), at(2024, 6, 1, 10, 0))
	require.NoError(t, s.SaveSingle(ev))
	require.NoError(t, s.Remove(ev.ID))
	_, ok := s.Event(ev.ID)
	assert.False(t, ok)
}

func TestRemoveSeries(t *testing.T) {
	s := New()
	sr, children := newSeries(t, at(2024, 6, 1, 8, 0), at(2024, 6, 1, 8, 30), "2024-06-05", model.Daily)
	require.NoError(t, s.SaveSeries(sr, children))
	keep := newEvent(t, at(2024, 6, 2, 12, 0), at(2024, 6, 2, 13, 0))
	require.NoError(t, s.SaveSingle(keep))

	require.NoError(t, s.Remove(children[1].ID))
	require.NoError(t, s.RemoveSeries(sr.ID))

	assert.Equal(t, 1, s.Len())
	_, ok := s.Event(keep.ID)
	assert.True(t, ok)
	assert.Empty(t, s.SeriesIDs())
	require.ErrorIs(t, s.RemoveSeries(sr.ID), ErrNotFound)

	// Freed slots accept new events.
	require.NoError(t, s.SaveSingle(newEvent(t, at(2024, 6, 3, 8, 0), at(2024, 6, 3, 8, 30))))
}

func TestChildReaddedToKnownSeries(t *testing.T) {
	s := New()
	sr, children := newSeries(t, at(2024, 6, 3, 8, 0), at(2024, 6, 3, 8, 30), "2024-06-10", model.Weekly)
	require.NoError(t, s.SaveSeries(sr, children))

	moved := newEvent(t, at(2024, 6, 4, 8, 0), at(2024, 6, 4, 8, 30))
	moved.ParentID = sr.ID
	require.NoError(t, s.SaveSingle(moved))

	got, _ := s.Series(sr.ID)
	assert.Equal(t, []string{children[0].ID, children[1].ID, moved.ID}, got.ChildIDs)

	require.NoError(t, s.RemoveSeries(sr.ID))
	assert.Zero(t, s.Len())
}

func TestReturnedValuesAreCopies(t *testing.T) {
	s := New()
	sr, children := newSeries(t, at(2024, 6, 3, 8, 0), at(2024, 6, 3, 8, 30), "2024-06-10", model.Weekly)
	require.NoError(t, s.SaveSeries(sr, children))

	evs := s.Query(model.Date(20240603))
	evs[0].Start = at(2000, 1, 1, 0, 0)
	got, _ := s.Series(sr.ID)
	got.ChildIDs[0] = "mutated"

	ev, _ := s.Event(children[0].ID)
	assert.Equal(t, at(2024, 6, 3, 8, 0), ev.Start)
	again, _ := s.Series(sr.ID)
	assert.Equal(t, children[0].ID, again.ChildIDs[0])
}

func TestOverlapErrorMessage(t *testing.T) {
	err := error(&OverlapError{
		Date:      model.Date(20240601),
		Existing:  model.Event{Start: at(2024, 6, 1, 9, 0), Stop: at(2024, 6, 1, 10, 0)},
		Candidate: model.Event{Start: at(2024, 6, 1, 9, 30), Stop: at(2024, 6, 1, 10, 30)},
	})
	assert.Equal(t, "schedule: 2024-06-01 09:30 -> 2024-06-01 10:30 overlaps 2024-06-01 09:00 -> 2024-06-01 10:00 on 2024-06-01", err.Error())
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestStoreOwnsSavedValues(t *testing.T) {
	s := New()
	a := newEvent(t, at(2024, 6, 1, 9, 0), at(2024, 6, 1, 10, 0))
	b := newEvent(t, at(2024, 6, 1, 11, 0), at(2024, 6, 1, 12, 0))
	require.NoError(t, s.SaveBatch([]*model.Event{a, b}))

	sr, children := newSeries(t, at(2024, 6, 3, 8, 0), at(2024, 6, 3, 8, 30), "2024-06-10", model.Weekly)
	require.NoError(t, s.SaveSeries(sr, children))

	// Changes through the caller's pointers stay outside the store.
	b.Start = at(2024, 6, 1, 9, 30)
	children[0].Stop = at(2024, 6, 3, 23, 0)
	sr.ChildIDs[0] = "mutated"

	evs := s.Query(model.Date(20240601))
	require.Len(t, evs, 2)
	assert.Equal(t, at(2024, 6, 1, 11, 0), evs[1].Start)
	assertNoOverlaps(t, s)

	ev, _ := s.Event(children[0].ID)
	assert.Equal(t, at(2024, 6, 3, 8, 30), ev.Stop)
	got, _ := s.Series(sr.ID)
	assert.Equal(t, []string{children[0].ID, children[1].ID}, got.ChildIDs)

	// Detaching inside the store leaves the caller's series alone.
	require.NoError(t, s.Remove(children[1].ID))
	assert.Equal(t, []string{"mutated", children[1].ID}, sr.ChildIDs)
}
