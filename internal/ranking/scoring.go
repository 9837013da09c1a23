package ranking

import "math"

// Weights are the coefficients of the venue scoring formula:
//
//	score = stars*Rating + log10(max(reviewCount,1))*Popularity + openBonus
//
// where openBonus is OpenBonus for open venues and 0 otherwise.
type Weights struct {
	Rating     float64
	Popularity float64
	OpenBonus  float64
}

// DefaultWeights returns the production coefficients.
func DefaultWeights() Weights {
	return Weights{Rating: 100, Popularity: 10, OpenBonus: 5}
}

// Score computes the ranking score for a venue. It is pure and total: the
// review count is clamped to 1 before the logarithm so zero-popularity
// venues still score finitely, and a zero rating simply contributes zero.
func (w Weights) Score(v *Venue) float64 {
	popularity := v.ReviewCount
	if popularity < 1 {
		popularity = 1
	}
	score := v.Stars*w.Rating + math.Log10(float64(popularity))*w.Popularity
	if v.IsOpen {
		score += w.OpenBonus
	}
	return score
}
