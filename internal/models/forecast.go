package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// Date is a calendar date without time of day, serialized as YYYY-MM-DD.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the calendar date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, fmt.Errorf("parse date %q: %w", s, err)
	}
	return DateOf(t), nil
}

// AddDays returns the date n days after d, normalizing across month and year boundaries.
func (d Date) AddDays(n int) Date {
	return DateOf(time.Date(d.Year, d.Month, d.Day+n, 0, 0, 0, 0, time.UTC))
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	return d.midnight().Before(other.midnight())
}

func (d Date) midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, time.UTC)
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// ForecastEntry is one generated day of the dummy forecast. Never cached or persisted.
type ForecastEntry struct {
	Date         Date   `json:"date"`
	TemperatureC int    `json:"temperatureC"`
	TemperatureF int    `json:"temperatureF"`
	Summary      string `json:"summary"`
}

// NewForecastEntry builds an entry, deriving TemperatureF from TemperatureC.
func NewForecastEntry(date Date, temperatureC int, summary string) ForecastEntry {
	return ForecastEntry{
		Date:         date,
		TemperatureC: temperatureC,
		TemperatureF: FahrenheitFromCelsius(temperatureC),
		Summary:      summary,
	}
}

// FahrenheitFromCelsius returns 32 + floor(c / 0.5556).
func FahrenheitFromCelsius(c int) int {
	return 32 + int(math.Floor(float64(c)/0.5556))
}
