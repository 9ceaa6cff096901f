package positionmonitor

import "fxadvisor/internal/domain"

// DefaultStaleHoldHours mirrors spec.md §6's staleHoldHours (24).
const DefaultStaleHoldHours = 24

// DecisionInput bundles the recommendation decision table's inputs
// (spec.md §4.5).
type DecisionInput struct {
	UnrealizedPct  float64
	HoldMinutes    float64
	ReversalProb   float64
	CounterPosition bool // true if pred.Signal opposes the position's direction
	TrailingFired  bool
	StaleHoldHours float64
}

// Decide applies the recommendation decision table in the order spec.md
// §4.5 lists it: the first matching row wins.
func Decide(in DecisionInput) domain.Recommendation {
	staleHours := in.StaleHoldHours
	if staleHours <= 0 {
		staleHours = DefaultStaleHoldHours
	}

	if in.ReversalProb >= 0.70 && in.CounterPosition {
		return domain.RecExit
	}
	if in.UnrealizedPct >= 0.5 && in.ReversalProb >= 0.4 && in.ReversalProb < 0.7 {
		return domain.RecTakePartial
	}
	if in.UnrealizedPct >= 0.3 && in.TrailingFired {
		return domain.RecAdjustSL
	}
	absPct := in.UnrealizedPct
	if absPct < 0 {
		absPct = -absPct
	}
	if in.HoldMinutes > staleHours*60 && absPct < 0.3 {
		return domain.RecExit
	}
	return domain.RecHold
}

// ReversalProbability derives the probability the market is reversing
// against an open position from the predictor's directional confidence:
// the predictor RPC contract (§4.2) has no explicit reversalProb field, so
// the monitor treats a prediction opposing the position's own direction as
// the reversal signal and uses its confidence as the probability; a
// same-direction or hold prediction carries no reversal signal.
func ReversalProbability(positionDirection, predictedDirection domain.Direction, confidence float64) float64 {
	if positionDirection.Opposes(predictedDirection) {
		return confidence
	}
	return 0
}
