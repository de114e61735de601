package ranking

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestExpectedScore(t *testing.T) {
	// Equal ratings are a coin flip.
	assert.InDelta(t, 0.5, ExpectedScore(1200, 1200), 1e-9)

	// A 400 point gap is a 10:1 favorite.
	assert.InDelta(t, 10.0/11.0, ExpectedScore(1600, 1200), 1e-9)
	assert.InDelta(t, 1.0/11.0, ExpectedScore(1200, 1600), 1e-9)

	// Complementary probabilities.
	sum := ExpectedScore(1350, 1180) + ExpectedScore(1180, 1350)
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestDuel_EqualRatings(t *testing.T) {
	dw, dl := Duel(1200, 1200)

	assert.InDelta(t, 16.0, dw, 1e-9)
	assert.InDelta(t, -16.0, dl, 1e-9)
}

func TestDuel_UpsetMovesMore(t *testing.T) {
	// Underdog win pays more than a favorite win.
	upsetGain, favoriteLoss := Duel(1200, 1600)
	favoriteGain, underdogLoss := Duel(1600, 1200)

	assert.Greater(t, upsetGain, favoriteGain)
	assert.Less(t, favoriteLoss, underdogLoss)

	// Zero sum within one pairing.
	assert.InDelta(t, 0.0, upsetGain+favoriteLoss, 1e-9)
}

func TestSquad_OrderedFinish(t *testing.T) {
	ratings := []float64{1200, 1200, 1200, 1200}
	positions := []int{1, 2, 3, 4}

	deltas := Squad(ratings, positions)

	// Winner gains the most, last place loses the most.
	assert.Greater(t, deltas[0], deltas[1])
	assert.Greater(t, deltas[1], deltas[2])
	assert.Greater(t, deltas[2], deltas[3])

	// Equal ratings make the middle symmetric and the battle zero sum.
	var sum float64
	for _, d := range deltas {
		sum += d
	}
	assert.InDelta(t, 0.0, sum, 1e-9)
	assert.InDelta(t, deltas[0], -deltas[3], 1e-9)
}

func TestSquad_SharedLastPlace(t *testing.T) {
	// Two non-finishers both carry position 3 and both lose rating.
	ratings := []float64{1200, 1200, 1200, 1200}
	positions := []int{1, 2, 3, 3}

	deltas := Squad(ratings, positions)
	assert.Greater(t, deltas[0], 0.0)
	assert.Less(t, deltas[2], 0.0)
	assert.InDelta(t, deltas[2], deltas[3], 1e-9)
}

func TestSquad_DegenerateSizes(t *testing.T) {
	assert.Equal(t, []float64{0}, Squad([]float64{1200}, []int{1}))
	assert.Equal(t, []float64{0, 0}, Squad([]float64{1200, 1300}, []int{1}))
}

func TestTeams(t *testing.T) {
	teams := [][]float64{
		{1300, 1100}, // mean 1200
		{1250, 1150}, // mean 1200
	}
	deltas := Teams(teams, []int{1, 2})

	assert.InDelta(t, 16.0, deltas[0], 1e-9)
	assert.InDelta(t, -16.0, deltas[1], 1e-9)
}

func TestNextSeasonName(t *testing.T) {
	assert.Equal(t, "Season 2", NextSeasonName("Season 1"))
	assert.Equal(t, "Season 13", NextSeasonName("Season 12"))
	assert.Equal(t, "Season 1", NextSeasonName(""))
	assert.Equal(t, "Season 1", NextSeasonName("Preseason"))
	assert.Equal(t, "Season 1", NextSeasonName("Season zero"))
}

func TestSeasonExpired(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	assert.False(t, SeasonExpired(start, start.Add(29*24*time.Hour)))
	assert.True(t, SeasonExpired(start, start.Add(30*24*time.Hour)))
	assert.True(t, SeasonExpired(start, start.Add(31*24*time.Hour)))
}
