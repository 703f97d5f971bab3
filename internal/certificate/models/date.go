package models

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Precision records how much of a partial ISO date was present in the source.
type Precision int

const (
	PrecisionYear Precision = iota + 1
	PrecisionMonth
	PrecisionDay
)

func (p Precision) String() string {
	switch p {
	case PrecisionYear:
		return "year"
	case PrecisionMonth:
		return "month"
	case PrecisionDay:
		return "day"
	}
	return "unknown"
}

// PartialDate is a calendar date that may have been given as YYYY or YYYY-MM.
// Missing parts default to January and the 1st.
type PartialDate struct {
	Time      time.Time
	Precision Precision
	Raw       string
}

// ParsePartialDate accepts YYYY, YYYY-MM and YYYY-MM-DD. A time part after the date,
// as produced by some issuers for date of birth, is ignored.
func ParsePartialDate(s string) (PartialDate, error) {
	raw := s
	if i := strings.IndexAny(s, "T "); i >= 0 {
		s = s[:i]
	}
	parts := strings.Split(s, "-")
	if len(parts) == 0 || len(parts) > 3 || len(parts[0]) != 4 {
		return PartialDate{}, fmt.Errorf("invalid partial date %q", raw)
	}
	nums := []int{0, 1, 1}
	for i, p := range parts {
		if (i > 0 && len(p) != 2) || !allDigits(p) {
			return PartialDate{}, fmt.Errorf("invalid partial date %q", raw)
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return PartialDate{}, fmt.Errorf("invalid partial date %q", raw)
		}
		nums[i] = n
	}
	year, month, day := nums[0], nums[1], nums[2]
	if month < 1 || month > 12 {
		return PartialDate{}, fmt.Errorf("invalid month in %q", raw)
	}
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day {
		return PartialDate{}, fmt.Errorf("invalid day in %q", raw)
	}
	return PartialDate{Time: t, Precision: Precision(len(parts)), Raw: raw}, nil
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// String renders the date at its source precision.
func (d PartialDate) String() string {
	switch d.Precision {
	case PrecisionYear:
		return d.Time.Format("2006")
	case PrecisionMonth:
		return d.Time.Format("2006-01")
	case PrecisionDay:
		return d.Time.Format(time.DateOnly)
	}
	return ""
}

// IsZero reports whether the date was never set.
func (d PartialDate) IsZero() bool { return d.Precision == 0 }

func (d PartialDate) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON reads the form written by MarshalJSON. An empty string is the zero date.
func (d *PartialDate) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		*d = PartialDate{}
		return nil
	}
	parsed, err := ParsePartialDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
