// Package learning implements the Learning Controller (C6): daily
// incremental fine-tune and weekly full retrain timers, model version
// registration, A/B split routing and promotion. Orchestration follows the
// teacher's cron scheduling discipline (internal/infra/scheduler.go); the
// statistics (two-proportion significance test) have no teacher
// equivalent and are built fresh in the same plain, unexported-helper
// style the teacher uses for its PnL/fee math.
package learning

import "math"

// TwoProportionPValue runs a two-tailed two-proportion z-test on realized
// win-rates of two independent samples, per spec.md §4.6 ("computes a
// two-proportion significance test on realized win-rate"). Returns 1.0 if
// either sample is empty (cannot reject the null of no difference).
func TwoProportionPValue(winsA, totalA, winsB, totalB int) float64 {
	if totalA == 0 || totalB == 0 {
		return 1.0
	}
	p1 := float64(winsA) / float64(totalA)
	p2 := float64(winsB) / float64(totalB)
	pooled := float64(winsA+winsB) / float64(totalA+totalB)

	se := math.Sqrt(pooled * (1 - pooled) * (1/float64(totalA) + 1/float64(totalB)))
	if se == 0 {
		if p1 == p2 {
			return 1.0
		}
		return 0.0
	}
	z := (p1 - p2) / se
	return 2 * (1 - normalCDF(math.Abs(z)))
}

func normalCDF(x float64) float64 {
	return 0.5 * (1 + math.Erf(x/math.Sqrt2))
}
