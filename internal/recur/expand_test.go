package recur

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reccal/internal/model"
)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func date(t *testing.T, s string) model.Date {
	t.Helper()
	d, err := model.ParseDate(s)
	require.NoError(t, err)
	return d
}

func TestExpandWeeklyScenario(t *testing.T) {
	spans, err := Expand(at(2024, 6, 3, 8, 0), at(2024, 6, 3, 8, 30), date(t, "2024-06-17"), model.Weekly, Options{})
	require.NoError(t, err)

	want := []model.Span{
		{Start: at(2024, 6, 3, 8, 0), Stop: at(2024, 6, 3, 8, 30)},
		{Start: at(2024, 6, 10, 8, 0), Stop: at(2024, 6, 10, 8, 30)},
		{Start: at(2024, 6, 17, 8, 0), Stop: at(2024, 6, 17, 8, 30)},
	}
	assert.Equal(t, want, spans)
}

func TestExpandUntilBeforeStartIsEmpty(t *testing.T) {
	spans, err := Expand(at(2024, 6, 3, 8, 0), at(2024, 6, 3, 9, 0), date(t, "2024-06-02"), model.Daily, Options{})
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestExpandExcludesTrailingPartialOccurrence(t *testing.T) {
	// 23:00 -> 01:00 crosses midnight; the occurrence starting on the until
	// day would stop the day after, so it is dropped.
	spans, err := Expand(at(2024, 6, 1, 23, 0), at(2024, 6, 2, 1, 0), date(t, "2024-06-03"), model.Daily, Options{})
	require.NoError(t, err)
	require.Len(t, spans, 2)
	assert.Equal(t, at(2024, 6, 2, 23, 0), spans[1].Start)
	assert.Equal(t, at(2024, 6, 3, 1, 0), spans[1].Stop)

	// Same for the first pair.
	spans, err = Expand(at(2024, 6, 1, 23, 0), at(2024, 6, 2, 1, 0), date(t, "2024-06-01"), model.Daily, Options{})
	require.NoError(t, err)
	assert.Empty(t, spans)
}

func TestExpandHourly(t *testing.T) {
	spans, err := Expand(at(2024, 6, 1, 21, 15), at(2024, 6, 1, 21, 45), date(t, "2024-06-01"), model.Hourly, Options{})
	require.NoError(t, err)
	require.Len(t, spans, 3)
	assert.Equal(t, at(2024, 6, 1, 23, 15), spans[2].Start)
}

func TestExpandMonthlyClampsToMonthEnd(t *testing.T) {
	spans, err := Expand(at(2024, 1, 31, 10, 0), at(2024, 1, 31, 11, 0), date(t, "2024-05-31"), model.Monthly, Options{})
	require.NoError(t, err)

	var starts []time.Time
	for _, sp := range spans {
		starts = append(starts, sp.Start)
		assert.Equal(t, time.Hour, sp.Stop.Sub(sp.Start))
	}
	assert.Equal(t, []time.Time{
		at(2024, 1, 31, 10, 0),
		at(2024, 2, 29, 10, 0),
		at(2024, 3, 31, 10, 0),
		at(2024, 4, 30, 10, 0),
		at(2024, 5, 31, 10, 0),
	}, starts)
}

func TestExpandMonthlyOrdinaryDay(t *testing.T) {
	spans, err := Expand(at(2024, 11, 15, 9, 0), at(2024, 11, 15, 9, 30), date(t, "2025-02-14"), model.Monthly, Options{})
	require.NoError(t, err)
	require.Len(t, spans, 3)
	assert.Equal(t, at(2025, 1, 15, 9, 0), spans[2].Start)
}

func TestExpandStepsAreExact(t *testing.T) {
	steps := map[model.Cadence]time.Duration{
		model.Hourly: time.Hour,
		model.Daily:  24 * time.Hour,
		model.Weekly: 7 * 24 * time.Hour,
	}
	until := date(t, "2024-12-31")
	for cadence, step := range steps {
		spans, err := Expand(at(2024, 3, 30, 1, 30), at(2024, 3, 30, 2, 0), until, cadence, Options{})
		require.NoError(t, err, cadence.String())
		require.NotEmpty(t, spans)
		for i := 1; i < len(spans); i++ {
			assert.Equal(t, step, spans[i].Start.Sub(spans[i-1].Start), cadence.String())
			assert.Equal(t, step, spans[i].Stop.Sub(spans[i-1].Stop), cadence.String())
		}
		for _, sp := range spans {
			assert.LessOrEqual(t, int(model.DateOf(sp.Stop)), int(until))
		}
	}
}

func TestExpandRejectsInvalidSpan(t *testing.T) {
	_, err := Expand(at(2024, 6, 1, 10, 0), at(2024, 6, 1, 9, 0), date(t, "2024-06-30"), model.Daily, Options{})
	require.ErrorIs(t, err, model.ErrInvalidSpan)
}

func TestExpandRejectsUnknownCadence(t *testing.T) {
	_, err := Expand(at(2024, 6, 1, 9, 0), at(2024, 6, 1, 10, 0), date(t, "2024-06-30"), model.Cadence(42), Options{})
	require.Error(t, err)
}

func TestExpandCapFailsInsteadOfTruncating(t *testing.T) {
	_, err := Expand(at(2024, 6, 1, 9, 0), at(2024, 6, 1, 9, 30), date(t, "2024-06-30"), model.Daily, Options{MaxOccurrences: 10})
	require.ErrorIs(t, err, ErrTooManyOccurrences)

	spans, err := Expand(at(2024, 6, 1, 9, 0), at(2024, 6, 1, 9, 30), date(t, "2024-06-10"), model.Daily, Options{MaxOccurrences: 10})
	require.NoError(t, err)
	assert.Len(t, spans, 10)
}
