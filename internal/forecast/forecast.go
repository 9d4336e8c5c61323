// Package forecast generates the dummy five-day weather forecast.
package forecast

import (
	"math/rand/v2"
	"time"

	"github.com/kjstillabower/forecast-auth-service/internal/models"
)

const (
	// Days is the number of entries per forecast, starting tomorrow.
	Days = 5
	// MinTemperatureC and MaxTemperatureC bound the generated temperature, both inclusive.
	MinTemperatureC = -20
	MaxTemperatureC = 54
)

// Summaries is the ordered lookup table summaries are drawn from.
var Summaries = [...]string{
	"Freezing",
	"Bracing",
	"Chilly",
	"Cool",
	"Mild",
	"Warm",
	"Balmy",
	"Hot",
	"Sweltering",
	"Scorching",
}

// Source draws uniform integers in [0, n). *rand.Rand from math/rand/v2 satisfies it.
type Source interface {
	IntN(n int) int
}

// sharedSource uses the math/rand/v2 top-level generator, which is safe for concurrent use.
type sharedSource struct{}

func (sharedSource) IntN(n int) int { return rand.IntN(n) }

// Generator produces forecasts. The zero value is not usable; use NewGenerator.
type Generator struct {
	now    func() time.Time
	source Source
}

// Option configures a Generator.
type Option func(*Generator)

// WithClock overrides the clock used to determine "tomorrow".
func WithClock(now func() time.Time) Option {
	return func(g *Generator) { g.now = now }
}

// WithSource overrides the random source. The source must be safe for concurrent use
// if the Generator is shared across requests.
func WithSource(src Source) Option {
	return func(g *Generator) { g.source = src }
}

// NewGenerator returns a Generator using the wall clock and the shared random source.
func NewGenerator(opts ...Option) *Generator {
	g := &Generator{now: time.Now, source: sharedSource{}}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Generate returns Days entries for consecutive calendar days starting tomorrow,
// each with an independently drawn temperature and summary.
func (g *Generator) Generate() []models.ForecastEntry {
	today := models.DateOf(g.now())
	entries := make([]models.ForecastEntry, 0, Days)
	for i := 1; i <= Days; i++ {
		c := MinTemperatureC + g.source.IntN(MaxTemperatureC-MinTemperatureC+1)
		summary := Summaries[g.source.IntN(len(Summaries))]
		entries = append(entries, models.NewForecastEntry(today.AddDays(i), c, summary))
	}
	return entries
}

// IsSummary reports whether s is one of Summaries.
func IsSummary(s string) bool {
	for _, known := range Summaries {
		if known == s {
			return true
		}
	}
	return false
}
