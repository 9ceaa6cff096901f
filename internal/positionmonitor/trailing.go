// Package positionmonitor implements the Position Monitor (C5): a
// periodic driver that recomputes unrealized P&L, derives an
// ML-assisted recommendation, applies trailing-stop rules, and escalates
// notification urgency. Adapted from the teacher's
// internal/service/bodyguard_service.go (fast SL/TP + trailing check) and
// internal/service/virtual_broker_service.go (batch price fetch, net PnL
// on close).
package positionmonitor

import "fxadvisor/internal/domain"

// TrailingStage names which trailing-stop threshold fired, for metrics.
type TrailingStage string

const (
	TrailingNone      TrailingStage = "none"
	TrailingBreakeven TrailingStage = "breakeven"
	TrailingLock      TrailingStage = "lock"
)

// DefaultBreakevenPct and DefaultLockPct mirror spec.md §6's
// trailingBreakevenPct (0.5) / trailingLockPct (0.8).
const (
	DefaultBreakevenPct = 0.5
	DefaultLockPct      = 0.8
)

// ComputeTrailingStop evaluates spec.md §4.5 step 5 against pos at
// currentPrice: it never widens SL, and prefers the tighter (lock) stage
// when both thresholds are satisfied simultaneously. Returns the new SL
// and whether it is actually an improvement over pos.StopLoss.
func ComputeTrailingStop(pos domain.Position, currentPrice, breakevenPct, lockPct float64) (newSL float64, moved bool, stage TrailingStage) {
	progress := pos.ProgressToTakeProfit(currentPrice)

	var candidate float64
	var candidateStage TrailingStage
	switch {
	case progress >= lockPct:
		candidate = pos.Entry + 0.5*(pos.TakeProfit-pos.Entry)
		candidateStage = TrailingLock
	case progress >= breakevenPct:
		candidate = pos.Entry
		candidateStage = TrailingBreakeven
	default:
		return pos.StopLoss, false, TrailingNone
	}

	if isBetterSL(pos, candidate, pos.StopLoss) {
		return candidate, true, candidateStage
	}
	return pos.StopLoss, false, TrailingNone
}

// isBetterSL reports whether candidate is strictly closer to the
// take-profit side than current, direction-aware — the invariant that SL
// never widens.
func isBetterSL(pos domain.Position, candidate, current float64) bool {
	if pos.IsLong() {
		return candidate > current
	}
	return candidate < current
}
