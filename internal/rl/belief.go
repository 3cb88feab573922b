package rl

// Beliefs returns the believed probability that option 1 is rewarded as it
// stands when each trial is decided. probOpt1[0] is startingProb; every later
// entry is the belief after learning from the previous trial's outcome, so a
// trial never sees its own outcome.
func Beliefs(rewarded1 []float64, alpha, startingProb float64) []float64 {
	probOpt1, _ := BeliefsWithSensitivity(rewarded1, alpha, startingProb)
	return probOpt1
}

// BeliefsWithSensitivity also returns d probOpt1[t] / d alpha, carried
// forward through the same recurrence.
func BeliefsWithSensitivity(rewarded1 []float64, alpha, startingProb float64) (probOpt1, dAlpha []float64) {
	n := len(rewarded1)
	probOpt1 = make([]float64, n)
	dAlpha = make([]float64, n)

	belief := startingProb
	sens := 0.0
	for t := 0; t < n; t++ {
		probOpt1[t] = belief
		dAlpha[t] = sens

		delta := rewarded1[t] - belief
		sens = (1-alpha)*sens + delta
		belief += alpha * delta
	}
	return probOpt1, dAlpha
}
