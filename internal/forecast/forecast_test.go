package forecast

import (
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kjstillabower/forecast-auth-service/internal/models"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fixedSource always returns the same offset from the top of the range.
type fixedSource struct{ fromTop int }

func (f fixedSource) IntN(n int) int {
	v := n - 1 - f.fromTop
	if v < 0 {
		return 0
	}
	return v
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestGenerate_FiveConsecutiveDaysStartingTomorrow(t *testing.T) {
	now := time.Date(2026, time.February, 26, 23, 30, 0, 0, time.UTC)
	g := NewGenerator(WithClock(fixedClock(now)))

	entries := g.Generate()

	require.Len(t, entries, Days)
	want := []string{"2026-02-27", "2026-02-28", "2026-03-01", "2026-03-02", "2026-03-03"}
	for i, e := range entries {
		assert.Equal(t, want[i], e.Date.String(), "entry %d", i)
		if i > 0 {
			assert.True(t, entries[i-1].Date.Before(e.Date), "dates must strictly increase")
		}
	}
}

func TestGenerate_UpperBoundIsInclusive54(t *testing.T) {
	g := NewGenerator(WithSource(fixedSource{fromTop: 0}))

	for _, e := range g.Generate() {
		assert.Equal(t, MaxTemperatureC, e.TemperatureC)
		assert.Equal(t, "Scorching", e.Summary)
		assert.Equal(t, 129, e.TemperatureF)
	}
}

func TestGenerate_LowerBoundIsMinus20(t *testing.T) {
	g := NewGenerator(WithSource(fixedSource{fromTop: 1 << 20}))

	for _, e := range g.Generate() {
		assert.Equal(t, MinTemperatureC, e.TemperatureC)
		assert.Equal(t, "Freezing", e.Summary)
		assert.Equal(t, -4, e.TemperatureF)
	}
}

func TestGenerate_ValuesStayInRange(t *testing.T) {
	g := NewGenerator(WithSource(rand.New(rand.NewPCG(7, 11))))
	seen := map[int]bool{}

	for i := 0; i < 2000; i++ {
		for _, e := range g.Generate() {
			require.GreaterOrEqual(t, e.TemperatureC, MinTemperatureC)
			require.LessOrEqual(t, e.TemperatureC, MaxTemperatureC)
			require.Equal(t, models.FahrenheitFromCelsius(e.TemperatureC), e.TemperatureF)
			require.True(t, IsSummary(e.Summary), "unexpected summary %q", e.Summary)
			seen[e.TemperatureC] = true
		}
	}
	assert.True(t, seen[MinTemperatureC], "lower bound never drawn")
	assert.True(t, seen[MaxTemperatureC], "upper bound never drawn")
	assert.False(t, seen[MaxTemperatureC+1])
}

func TestGenerate_FreshOnEveryCall(t *testing.T) {
	g := NewGenerator(WithSource(rand.New(rand.NewPCG(1, 2))))

	first := g.Generate()
	second := g.Generate()

	assert.NotEqual(t, first, second)
}
