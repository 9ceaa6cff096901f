package domain

import "time"

// ModelType distinguishes a from-scratch weekly retrain from a daily
// incremental fine-tune.
type ModelType string

const (
	ModelTypeFull        ModelType = "full"
	ModelTypeIncremental ModelType = "incremental"
)

// ModelMetrics is the closed set of backtest/validation metrics attached
// to a ModelVersion.
type ModelMetrics struct {
	WinRate     float64
	Sharpe      float64
	AvgPnL      float64
	MaxDrawdown float64
}

// ModelVersion is a registered, versioned model artifact. Exactly one row
// has Active == true at any time, unless an ABTest is running, in which
// case exactly two (the A and B) are routable — enforced by the routing
// table in internal/predictor, not by this struct.
type ModelVersion struct {
	Version       string
	Parent        *string
	Type          ModelType
	TrainedAt     time.Time
	Active        bool
	Metrics       ModelMetrics
	ArtifactPaths []string
}

// ABTestStatus is the lifecycle state of an A/B test.
type ABTestStatus string

const (
	ABTestRunning   ABTestStatus = "running"
	ABTestCompleted ABTestStatus = "completed"
	ABTestStopped   ABTestStatus = "stopped"
)

// ArmStats accumulates realized win/loss counts for one arm of a running
// A/B test.
type ArmStats struct {
	Wins  int
	Total int
}

// WinRate returns Wins/Total, or 0 if Total is 0.
func (s ArmStats) WinRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Wins) / float64(s.Total)
}

// ABTest is a concurrent split-routing comparison between two model
// versions, resolved by a two-proportion significance test on realized
// outcomes.
type ABTest struct {
	ID           string
	A            string
	B            string
	TrafficSplit float64
	Status       ABTestStatus
	AStats       ArmStats
	BStats       ArmStats
	StartedAt    time.Time
	PValue       *float64
	Winner       *string
}

// TrainingLog records one daily/weekly training run outcome, for
// operability and the Learning Controller's "log and retry next cycle"
// failure policy.
type TrainingLog struct {
	ID          string
	RunAt       time.Time
	Type        ModelType
	Succeeded   bool
	ResultNote  string
	ModelVersion *string
}
