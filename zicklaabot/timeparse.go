package zicklaabot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

// ParseError indicates user input matched no recognized time expression.
type ParseError struct {
	Input string
	cause error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("unrecognized time expression: %q", e.Input)
}

func (e *ParseError) Unwrap() error {
	return e.cause
}

// TimeFields holds the fields recognized in an absolute time expression.
// Fields absent from the input remain nil and are filled in from "now"
// by [TimeFields.Resolve] - never by the grammar itself.
type TimeFields struct {
	Year   *int
	Month  *int
	Day    *int
	Hour   *int
	Minute *int
	Second *int
}

// Resolve fills unset date and clock fields from now and returns the
// resolved time in now's location. An absent seconds field always
// resolves to :00, never to now's seconds, so "14:30" and a bare date
// land on a whole minute.
func (f *TimeFields) Resolve(now time.Time) time.Time {
	year := now.Year()
	month := int(now.Month())
	day := now.Day()
	hour := now.Hour()
	minute := now.Minute()
	second := 0

	if f.Year != nil {
		year = *f.Year
	}
	if f.Month != nil {
		month = *f.Month
	}
	if f.Day != nil {
		day = *f.Day
	}
	if f.Hour != nil {
		hour = *f.Hour
	}
	if f.Minute != nil {
		minute = *f.Minute
	}
	if f.Second != nil {
		second = *f.Second
	}

	return time.Date(
		year, time.Month(month), day, hour, minute, second, 0, now.Location(),
	)
}

// TimeSpec is the result of parsing a time expression: exactly one of
// Duration or Fields is set.
type TimeSpec struct {
	// Duration is set for relative expressions ("in 10 minuten").
	Duration *time.Duration

	// Fields is set for absolute expressions ("15:30",
	// "01.09.2025 15:30", "01-09").
	Fields *TimeFields
}

// IsDuration reports whether the parsed expression denoted a duration
// rather than an absolute point in time.
func (ts *TimeSpec) IsDuration() bool {
	return ts.Duration != nil
}

// durationUnits maps lowercase German unit word stems to their length.
// Plural and inflected forms ("tagen", "wochen") match by prefix.
var durationUnits = map[string]time.Duration{
	"sekunde": time.Second,
	"minute":  time.Minute,
	"stunde":  time.Hour,
	"tag":     24 * time.Hour,
	"woche":   7 * 24 * time.Hour,
	"monat":   30 * 24 * time.Hour,
	"jahr":    365 * 24 * time.Hour,
}

func unitDuration(word string) (time.Duration, bool) {
	for stem, d := range durationUnits {
		if strings.HasPrefix(word, stem) {
			return d, true
		}
	}
	return 0, false
}

// Grammar. The lexer feeds numbers, unit words and the separators the
// date/clock notations use; everything is matched case-insensitively
// by lowercasing the input first.
var timeLexer = lexer.MustSimple(
	[]lexer.SimpleRule{
		{Name: "Number", Pattern: `\d+`},
		{Name: "Word", Pattern: `[a-zäöüß]+`},
		{Name: "Punct", Pattern: `[.:\-]`},
		{Name: "whitespace", Pattern: `\s+`},
	},
)

type timeExpr struct {
	Duration *durationExpr `parser:"  @@"`
	DateTime *dateTimeExpr `parser:"| @@"`
	Clock    *clockExpr    `parser:"| @@"`
}

type durationExpr struct {
	Amount int    `parser:"'in' @Number"`
	Unit   string `parser:"@Word"`
}

type dateTimeExpr struct {
	Date  dateExpr   `parser:"@@"`
	Clock *clockExpr `parser:"@@?"`
}

type dateExpr struct {
	Dotted *dottedDate `parser:"  @@"`
	Dashed *dashedDate `parser:"| @@"`
}

// dottedDate is day-first: "01.09" or "01.09.2025".
type dottedDate struct {
	Day   int  `parser:"@Number '.'"`
	Month int  `parser:"@Number"`
	Year  *int `parser:"('.' @Number)?"`
}

// dashedDate keeps its parts as strings: a four-digit first part means
// ISO year-month-day ordering, anything else is day-month(-year).
type dashedDate struct {
	First  string  `parser:"@Number '-'"`
	Second string  `parser:"@Number"`
	Third  *string `parser:"('-' @Number)?"`
}

type clockExpr struct {
	Hour   int  `parser:"@Number ':'"`
	Minute int  `parser:"@Number"`
	Second *int `parser:"(':' @Number)?"`
}

var timeParser = participle.MustBuild[timeExpr](
	participle.Lexer(timeLexer),
	participle.UseLookahead(4),
)

func intPtr(v int) *int {
	return &v
}

func (d *dateExpr) fields() (*TimeFields, error) {
	f := &TimeFields{}
	switch {
	case d.Dotted != nil:
		f.Day = intPtr(d.Dotted.Day)
		f.Month = intPtr(d.Dotted.Month)
		if d.Dotted.Year != nil {
			f.Year = d.Dotted.Year
		}
	case d.Dashed != nil:
		first, err := strconv.Atoi(d.Dashed.First)
		if err != nil {
			return nil, err
		}
		second, err := strconv.Atoi(d.Dashed.Second)
		if err != nil {
			return nil, err
		}
		if len(d.Dashed.First) == 4 {
			f.Year = intPtr(first)
			f.Month = intPtr(second)
			if d.Dashed.Third != nil {
				day, convErr := strconv.Atoi(*d.Dashed.Third)
				if convErr != nil {
					return nil, convErr
				}
				f.Day = intPtr(day)
			}
		} else {
			f.Day = intPtr(first)
			f.Month = intPtr(second)
			if d.Dashed.Third != nil {
				year, convErr := strconv.Atoi(*d.Dashed.Third)
				if convErr != nil {
					return nil, convErr
				}
				f.Year = intPtr(year)
			}
		}
	}
	return f, nil
}

func validFields(f *TimeFields) bool {
	if f.Month != nil && (*f.Month < 1 || *f.Month > 12) {
		return false
	}
	if f.Day != nil && (*f.Day < 1 || *f.Day > 31) {
		return false
	}
	if f.Hour != nil && *f.Hour > 23 {
		return false
	}
	if f.Minute != nil && *f.Minute > 59 {
		return false
	}
	if f.Second != nil && *f.Second > 59 {
		return false
	}
	return true
}

// ParseTimeExpression parses free-form user input into a [TimeSpec],
// returning a [*ParseError] when the input matches no recognized
// duration, date or clock notation.
func ParseTimeExpression(input string) (*TimeSpec, error) {
	normalized := strings.ToLower(strings.TrimSpace(input))
	if normalized == "" {
		return nil, &ParseError{Input: input}
	}

	expr, err := timeParser.ParseString("", normalized)
	if err != nil {
		return nil, &ParseError{Input: input, cause: err}
	}

	switch {
	case expr.Duration != nil:
		unit, ok := unitDuration(expr.Duration.Unit)
		if !ok {
			return nil, &ParseError{Input: input}
		}
		d := time.Duration(expr.Duration.Amount) * unit
		return &TimeSpec{Duration: &d}, nil
	case expr.DateTime != nil:
		fields, fieldsErr := expr.DateTime.Date.fields()
		if fieldsErr != nil {
			return nil, &ParseError{Input: input, cause: fieldsErr}
		}
		if c := expr.DateTime.Clock; c != nil {
			fields.Hour = intPtr(c.Hour)
			fields.Minute = intPtr(c.Minute)
			if c.Second != nil {
				fields.Second = c.Second
			}
		}
		if !validFields(fields) {
			return nil, &ParseError{Input: input}
		}
		return &TimeSpec{Fields: fields}, nil
	case expr.Clock != nil:
		fields := &TimeFields{
			Hour:   intPtr(expr.Clock.Hour),
			Minute: intPtr(expr.Clock.Minute),
		}
		if expr.Clock.Second != nil {
			fields.Second = expr.Clock.Second
		}
		if !validFields(fields) {
			return nil, &ParseError{Input: input}
		}
		return &TimeSpec{Fields: fields}, nil
	default:
		return nil, &ParseError{Input: input}
	}
}
