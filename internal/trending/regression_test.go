package trending_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ZanzyTHEbar/trendmeter/internal/fixtures"
	"github.com/ZanzyTHEbar/trendmeter/internal/trending"
)

func scoreAt(t *testing.T, id string, halfLife float64) float64 {
	t.Helper()
	p, err := fixtures.Get(id)
	require.NoError(t, err)
	return trending.ComputeScore(p.TrendedAt, p.Snapshot, halfLife)
}

// Orderings observed on captured pages. Each pair reads "higher outranks lower".
func TestComputeScore_FixtureOrderings(t *testing.T) {
	tests := []struct {
		higher   string
		higherHL float64
		lower    string
		lowerHL  float64
	}{
		{"page", 2, "page2", 2},
		{"page3", 10, "page4", 10},
		{"Hoboken", 24, "ShimonPeres", 24},
		{"ShimonPeres", 84, "Hoboken", 84},
		{"PacificTyphoon", 84, "Liliuokalani", 84},
		{"CascadeMall", 84, "PacificTyphoon", 84},
		{"DavidHamilton", 84, "DearZindagi", 12},
		{"Women", 24, "RashaanSalaam", 24},
		{"ItalianReferendum", 72, "Jayalalithaa", 72},
		{"OaklandWarehouse", 72, "Jayalalithaa", 72},
		{"Jayalalithaa", 84, "OaklandWarehouse", 84},
		{"OaklandWarehouse", 72, "TrumpNovember", 72},
		{"OaklandWarehouse", 72, "Deaths2016Nov", 72},
		{"OaklandWarehouse", 72, "TLC", 72},
	}

	for _, tt := range tests {
		t.Run(tt.higher+"_over_"+tt.lower, func(t *testing.T) {
			assert.Greater(t, scoreAt(t, tt.higher, tt.higherHL), scoreAt(t, tt.lower, tt.lowerHL))
		})
	}
}

func TestComputeScore_FixturesAreTrending(t *testing.T) {
	assert.Greater(t, scoreAt(t, "PeteBurns2", 84), 0.0)
	assert.Greater(t, scoreAt(t, "Women", 1), 0.0)
}

func TestComputeScore_FixturesStayFinite(t *testing.T) {
	pages, err := fixtures.All()
	require.NoError(t, err)
	require.NotEmpty(t, pages)

	for _, p := range pages {
		for _, hl := range []float64{1.5, 24, 84} {
			score := trending.ComputeScore(p.TrendedAt, p.Snapshot, hl)
			assert.False(t, math.IsNaN(score), "%s at %v", p.ID, hl)
			assert.False(t, math.IsInf(score, 0), "%s at %v", p.ID, hl)
		}
	}
}

func TestEstimateBias_Fixtures(t *testing.T) {
	women := fixtures.MustGet("Women")
	assert.Greater(t, trending.EstimateBias(women.Snapshot.Distribution), 0.0)

	dear := fixtures.MustGet("DearZindagi")
	assert.Equal(t, 0.0, trending.EstimateBias(dear.Snapshot.Distribution))
	assert.False(t, math.IsNaN(scoreAt(t, "DearZindagi", 12)))
}
