package memory

import (
	"math"
	"time"
)

// Weights blends the three retrieval signals. They must be non-negative and
// sum to 1.
type Weights struct {
	Relevance  float64
	Recency    float64
	Importance float64
}

// blendedScore ranks a candidate record for retrieval:
// wRel*similarity + wRec*decay + wImp*importance.
func blendedScore(w Weights, similarity, decayed, importance float64) float64 {
	return w.Relevance*similarity + w.Recency*decayed + w.Importance*importance
}

// recencyDecay maps elapsed time to (0,1] with an exponential half-life: a
// record one full half-life old scores 0.5, two half-lives 0.25, and so on.
// The function is strictly decreasing in elapsed time.
func recencyDecay(elapsed, halfLife time.Duration) float64 {
	if elapsed <= 0 {
		return 1
	}
	if halfLife <= 0 {
		halfLife = 24 * time.Hour
	}
	return math.Pow(0.5, float64(elapsed)/float64(halfLife))
}
