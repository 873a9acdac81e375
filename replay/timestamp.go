package replay

import (
	"strconv"
	"strings"
	"time"

	"github.com/robsok/dt-replay-demo/errors"
)

// Layouts tried by the tolerant parser, most specific first. Zoned layouts
// honor the value's own offset; naive layouts are interpreted in the
// parser's location.
var fallbackLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"2006/01/02 15:04:05",
	time.RFC1123Z,
	time.RFC1123,
	time.UnixDate,
	time.ANSIC,
}

// TimestampParser converts raw timestamp strings to UTC instants.
//
// With an explicit layout (Go reference layout) parsing is strict and a
// mismatch yields the zero time, never an error. Without one the parser is
// tolerant: ISO-8601 variants, numeric Unix epochs (values at or above
// 1e12 are taken as milliseconds, below as seconds), then a sweep of
// common layouts. Values without zone information are interpreted in the
// configured location (default UTC); zoned values keep their own offset.
// Every successful parse is returned in UTC.
type TimestampParser struct {
	layout string
	loc    *time.Location
}

// ParseBound parses a replay window bound (replay.start / replay.end)
// with the tolerant parser. An empty value means the bound is unset and
// yields the zero time.
func ParseBound(raw string) (time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return time.Time{}, nil
	}
	p, err := NewTimestampParser("", "")
	if err != nil {
		return time.Time{}, err
	}
	ts, ok := p.Parse(raw)
	if !ok {
		return time.Time{}, errors.WrapInvalid(errors.ErrUnparseableTime,
			"TimestampParser", "ParseBound", "parse window bound "+strconv.Quote(raw))
	}
	return ts, nil
}

// NewTimestampParser builds a parser for one stream's timestamp column.
// Layout and tzName may be empty. An unknown timezone name is a
// configuration error.
func NewTimestampParser(layout, tzName string) (*TimestampParser, error) {
	loc := time.UTC
	if tzName != "" {
		var err error
		loc, err = time.LoadLocation(tzName)
		if err != nil {
			return nil, errors.WrapInvalid(err, "TimestampParser", "NewTimestampParser",
				"unknown timezone "+tzName)
		}
	}
	return &TimestampParser{layout: layout, loc: loc}, nil
}

// Parse converts one raw value. The second return is false when the value
// could not be parsed; the caller decides whether that drops the row.
func (p *TimestampParser) Parse(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}

	if p.layout != "" {
		t, err := time.ParseInLocation(p.layout, raw, p.loc)
		if err != nil {
			return time.Time{}, false
		}
		return t.UTC(), true
	}

	if t, ok := p.parseEpoch(raw); ok {
		return t, true
	}

	for _, layout := range fallbackLayouts {
		if t, err := time.ParseInLocation(layout, raw, p.loc); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// parseEpoch handles numeric Unix timestamps. Values at or above 1e12 are
// milliseconds (1e12 seconds would be the year 33658), below are seconds;
// fractions are kept either way.
func (p *TimestampParser) parseEpoch(raw string) (time.Time, bool) {
	f, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return time.Time{}, false
	}
	if f >= 1e12 {
		f /= 1000
	}
	sec := int64(f)
	nsec := int64((f - float64(sec)) * 1e9)
	return time.Unix(sec, nsec).UTC(), true
}
