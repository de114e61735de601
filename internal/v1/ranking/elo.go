// Package ranking implements the Elo rating engine for ranked battles.
// All functions are pure; persistence happens in the store layer inside
// the same transaction that assigns finishing positions.
package ranking

import "math"

// KFactor scales how much a single battle moves a rating.
const KFactor = 32.0

// ExpectedScore is the probability of rating beating opponent.
func ExpectedScore(rating, opponent float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (opponent-rating)/400.0))
}

// Duel returns the rating deltas for a decided 1v1.
func Duel(winner, loser float64) (dWinner, dLoser float64) {
	ew := ExpectedScore(winner, loser)
	el := ExpectedScore(loser, winner)
	return KFactor * (1.0 - ew), KFactor * (0.0 - el)
}

// Squad returns per-player deltas for a free-for-all battle.
//
// positions[i] is player i's finishing position, 1 = first. Players who never
// finished share the last place. The actual score is (N-pos)/(N-1) and the
// expected score is the mean pairwise win probability, so deltas of a battle
// sum to ~0.
func Squad(ratings []float64, positions []int) []float64 {
	n := len(ratings)
	deltas := make([]float64, n)
	if n < 2 || len(positions) != n {
		return deltas
	}

	for i := 0; i < n; i++ {
		var expected float64
		for j := 0; j < n; j++ {
			if i == j {
				continue
			}
			expected += ExpectedScore(ratings[i], ratings[j])
		}
		expected /= float64(n - 1)

		actual := float64(n-positions[i]) / float64(n-1)
		deltas[i] = KFactor * (actual - expected)
	}
	return deltas
}

// Teams returns per-team deltas for a team battle. Each team plays as its
// members' mean rating and every member takes the team's full delta.
func Teams(teamRatings [][]float64, positions []int) []float64 {
	n := len(teamRatings)
	if n < 2 || len(positions) != n {
		return make([]float64, n)
	}

	means := make([]float64, n)
	for i, members := range teamRatings {
		if len(members) == 0 {
			continue
		}
		var sum float64
		for _, r := range members {
			sum += r
		}
		means[i] = sum / float64(len(members))
	}

	return Squad(means, positions)
}
