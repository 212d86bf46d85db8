package zicklaabot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimeExpression_Durations(t *testing.T) {
	testCases := []struct {
		input    string
		expected time.Duration
	}{
		{"in 10 sekunden", 10 * time.Second},
		{"in 1 sekunde", time.Second},
		{"in 5 minuten", 5 * time.Minute},
		{"in 2 stunden", 2 * time.Hour},
		{"in 3 tagen", 3 * 24 * time.Hour},
		{"in 1 tag", 24 * time.Hour},
		{"in 2 wochen", 14 * 24 * time.Hour},
		{"in 1 monat", 30 * 24 * time.Hour},
		{"in 1 jahr", 365 * 24 * time.Hour},
		{"IN 10 Minuten", 10 * time.Minute},
		{"  in 10 minuten  ", 10 * time.Minute},
	}
	for _, tc := range testCases {
		t.Run(
			tc.input, func(t *testing.T) {
				spec, err := ParseTimeExpression(tc.input)
				require.NoError(t, err)
				require.True(t, spec.IsDuration())
				require.NotNil(t, spec.Duration)
				assert.Equal(t, tc.expected, *spec.Duration)
			},
		)
	}
}

func TestParseTimeExpression_Clock(t *testing.T) {
	spec, err := ParseTimeExpression("15:30")
	require.NoError(t, err)
	require.False(t, spec.IsDuration())
	require.NotNil(t, spec.Fields)

	fields := spec.Fields
	require.NotNil(t, fields.Hour)
	require.NotNil(t, fields.Minute)
	assert.Equal(t, 15, *fields.Hour)
	assert.Equal(t, 30, *fields.Minute)

	// fields absent from the input stay unset
	assert.Nil(t, fields.Year)
	assert.Nil(t, fields.Month)
	assert.Nil(t, fields.Day)
	assert.Nil(t, fields.Second)
}

func TestParseTimeExpression_ClockWithSeconds(t *testing.T) {
	spec, err := ParseTimeExpression("15:30:45")
	require.NoError(t, err)
	require.NotNil(t, spec.Fields)
	require.NotNil(t, spec.Fields.Second)
	assert.Equal(t, 45, *spec.Fields.Second)
}

func TestParseTimeExpression_Dates(t *testing.T) {
	testCases := []struct {
		name  string
		input string
		year  *int
		month int
		day   int
		hour  *int
	}{
		{
			name:  "dotted day and month",
			input: "01.09",
			month: 9,
			day:   1,
		},
		{
			name:  "dotted full date",
			input: "01.09.2026",
			year:  intPtr(2026),
			month: 9,
			day:   1,
		},
		{
			name:  "dotted date with time",
			input: "01.09.2026 15:30",
			year:  intPtr(2026),
			month: 9,
			day:   1,
			hour:  intPtr(15),
		},
		{
			name:  "dashed day and month",
			input: "01-09",
			month: 9,
			day:   1,
		},
		{
			name:  "dashed ISO date",
			input: "2026-09-01",
			year:  intPtr(2026),
			month: 9,
			day:   1,
		},
		{
			name:  "clock before midnight",
			input: "24.12 23:59",
			month: 12,
			day:   24,
			hour:  intPtr(23),
		},
	}
	for _, tc := range testCases {
		t.Run(
			tc.name, func(t *testing.T) {
				spec, err := ParseTimeExpression(tc.input)
				require.NoError(t, err)
				require.False(t, spec.IsDuration())
				fields := spec.Fields
				require.NotNil(t, fields)

				require.NotNil(t, fields.Month)
				require.NotNil(t, fields.Day)
				assert.Equal(t, tc.month, *fields.Month)
				assert.Equal(t, tc.day, *fields.Day)

				if tc.year == nil {
					assert.Nil(t, fields.Year)
				} else {
					require.NotNil(t, fields.Year)
					assert.Equal(t, *tc.year, *fields.Year)
				}
				if tc.hour == nil {
					assert.Nil(t, fields.Hour)
				} else {
					require.NotNil(t, fields.Hour)
					assert.Equal(t, *tc.hour, *fields.Hour)
				}
			},
		)
	}
}

func TestParseTimeExpression_Rejects(t *testing.T) {
	testCases := []string{
		"",
		"   ",
		"foo",
		"morgen vielleicht",
		"in zehn minuten",
		"in 10 parsecs",
		"25:99",
		"32.13",
		"0.0",
	}
	for _, input := range testCases {
		t.Run(
			input, func(t *testing.T) {
				spec, err := ParseTimeExpression(input)
				require.Error(t, err)
				assert.Nil(t, spec)

				var parseErr *ParseError
				require.ErrorAs(t, err, &parseErr)
			},
		)
	}
}

func TestTimeFieldsResolve(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Berlin")
	require.NoError(t, err)
	now := time.Date(2026, 8, 31, 10, 15, 42, 0, loc)

	t.Run(
		"clock only fills date from now", func(t *testing.T) {
			fields := &TimeFields{Hour: intPtr(15), Minute: intPtr(30)}
			resolved := fields.Resolve(now)
			assert.Equal(
				t,
				time.Date(2026, 8, 31, 15, 30, 0, 0, loc),
				resolved,
			)
		},
	)

	t.Run(
		"date only fills hour and minute from now", func(t *testing.T) {
			fields := &TimeFields{Month: intPtr(12), Day: intPtr(24)}
			resolved := fields.Resolve(now)
			assert.Equal(
				t,
				time.Date(2026, 12, 24, 10, 15, 0, 0, loc),
				resolved,
			)
		},
	)

	t.Run(
		"absent seconds resolve to zero", func(t *testing.T) {
			fields := &TimeFields{Day: intPtr(1)}
			resolved := fields.Resolve(now)
			assert.Zero(t, resolved.Second())
		},
	)

	t.Run(
		"explicit seconds are kept", func(t *testing.T) {
			fields := &TimeFields{
				Hour:   intPtr(8),
				Minute: intPtr(0),
				Second: intPtr(30),
			}
			resolved := fields.Resolve(now)
			assert.Equal(t, 30, resolved.Second())
		},
	)
}
