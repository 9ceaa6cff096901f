package learning

import (
	"context"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"fxadvisor/internal/domain"
	"fxadvisor/internal/eventbus"
	"fxadvisor/internal/metrics"
	"fxadvisor/internal/predictor"
	"fxadvisor/internal/scheduler"
)

// Config tunes the Learning Controller's timers and promotion thresholds,
// per spec.md §4.6/§6.
type Config struct {
	DailyTrainCron    string
	WeeklyTrainCron   string
	ABTestDuration    time.Duration
	ABTestSplit       float64
	PromotionEpsilon  float64
	ValidationWindow  time.Duration
	IncrementalWindow time.Duration
	FullTrainWindow   time.Duration
}

// DefaultConfig returns spec.md's named defaults: daily 02:00 UTC, weekly
// Sunday 01:00 UTC, 7-day A/B window, 0.5 split.
func DefaultConfig() Config {
	return Config{
		DailyTrainCron:    "0 0 2 * * *",
		WeeklyTrainCron:   "0 0 1 * * 0",
		ABTestDuration:    7 * 24 * time.Hour,
		ABTestSplit:       0.5,
		PromotionEpsilon:  0.02,
		ValidationWindow:  7 * 24 * time.Hour,
		IncrementalWindow: 24 * time.Hour,
		FullTrainWindow:   90 * 24 * time.Hour,
	}
}

// Controller is C6.
type Controller struct {
	data      domain.TrainingDataSource
	signals   domain.SignalStore
	models    domain.ModelStore
	abtests   domain.ABTestStore
	trainlogs domain.TrainingLogStore
	trainer   domain.Trainer
	router    *predictor.Router
	bus       *eventbus.Bus

	cron       *scheduler.CronDriver
	trainingMu sync.Mutex // resource guard: one training job per node
	cfg        Config
	metrics    *metrics.Metrics
	now        func() time.Time
}

// New builds a Controller.
func New(data domain.TrainingDataSource, signals domain.SignalStore, models domain.ModelStore, abtests domain.ABTestStore, trainlogs domain.TrainingLogStore, trainer domain.Trainer, router *predictor.Router, bus *eventbus.Bus, cfg Config) *Controller {
	return &Controller{
		data: data, signals: signals, models: models, abtests: abtests, trainlogs: trainlogs,
		trainer: trainer, router: router, bus: bus,
		cron: scheduler.NewCronDriver(), cfg: cfg, metrics: metrics.Default(), now: time.Now,
	}
}

// Start registers the daily/weekly timers and begins the cron driver.
func (c *Controller) Start(ctx context.Context) error {
	if _, err := c.cron.Schedule(c.cfg.DailyTrainCron, func() {
		c.RunDailyIncremental(ctx)
		c.EvaluateRunningTests(ctx)
	}); err != nil {
		return fmt.Errorf("schedule daily train: %w", err)
	}
	if _, err := c.cron.Schedule(c.cfg.WeeklyTrainCron, func() {
		c.RunWeeklyFull(ctx)
	}); err != nil {
		return fmt.Errorf("schedule weekly train: %w", err)
	}
	c.cron.Start()
	return nil
}

// Stop halts the cron driver.
func (c *Controller) Stop() {
	c.cron.Stop()
}

// RunDailyIncremental fine-tunes the active model on the last 24h of data,
// validates on the previous 7 days, and promotes only if the candidate
// beats the active model by at least PromotionEpsilon. Failures are logged
// and retried next cycle; they never disturb the active model.
func (c *Controller) RunDailyIncremental(ctx context.Context) {
	if !c.trainingMu.TryLock() {
		log.Println("[ML] incremental train skipped: another training job is running")
		return
	}
	defer c.trainingMu.Unlock()

	now := c.now()
	since := now.Add(-c.cfg.IncrementalWindow)
	candles, err := c.data.CandlesSince(ctx, since)
	if err != nil {
		c.failTrain(ctx, domain.ModelTypeIncremental, fmt.Errorf("load candles: %w", err))
		return
	}
	signals, err := c.signals.SignalsWithOutcomesSince(ctx, since)
	if err != nil {
		c.failTrain(ctx, domain.ModelTypeIncremental, fmt.Errorf("load signals: %w", err))
		return
	}

	activeVersion := c.router.Active()
	activeModel, err := c.models.Get(ctx, activeVersion)
	if err != nil {
		c.failTrain(ctx, domain.ModelTypeIncremental, fmt.Errorf("load active model %s: %w", activeVersion, err))
		return
	}

	child, err := c.trainer.IncrementalTrain(ctx, activeVersion, candles, signals)
	if err != nil {
		c.failTrain(ctx, domain.ModelTypeIncremental, fmt.Errorf("train: %w", err))
		return
	}

	valSince := now.Add(-c.cfg.ValidationWindow)
	valCandles, err := c.data.CandlesSince(ctx, valSince)
	if err != nil {
		c.failTrain(ctx, domain.ModelTypeIncremental, fmt.Errorf("load validation candles: %w", err))
		return
	}
	valSignals, err := c.signals.SignalsWithOutcomesSince(ctx, valSince)
	if err != nil {
		c.failTrain(ctx, domain.ModelTypeIncremental, fmt.Errorf("load validation signals: %w", err))
		return
	}
	valMetrics, err := c.trainer.Validate(ctx, child.Version, valCandles, valSignals)
	if err != nil {
		c.failTrain(ctx, domain.ModelTypeIncremental, fmt.Errorf("validate: %w", err))
		return
	}

	child.Type = domain.ModelTypeIncremental
	parent := activeVersion
	child.Parent = &parent
	child.TrainedAt = now
	child.Metrics = valMetrics

	if valMetrics.WinRate >= activeModel.Metrics.WinRate+c.cfg.PromotionEpsilon {
		child.Active = true
		if err := c.models.Save(ctx, child); err != nil {
			c.failTrain(ctx, domain.ModelTypeIncremental, fmt.Errorf("save candidate: %w", err))
			return
		}
		_ = c.models.SetActive(ctx, activeVersion, false)
		_ = c.models.SetActive(ctx, child.Version, true)
		c.router.SetActive(child.Version)
		c.metrics.ModelPromotions.WithLabelValues("promoted").Inc()
		c.bus.PublishModelPromoted(eventbus.ModelPromoted{NewActive: child.Version, Replaced: activeVersion})
		log.Printf("[ML] promoted incremental model %s (win-rate %.3f >= %.3f + eps)", child.Version, valMetrics.WinRate, activeModel.Metrics.WinRate)
	} else {
		child.Active = false
		if err := c.models.Save(ctx, child); err != nil {
			c.failTrain(ctx, domain.ModelTypeIncremental, fmt.Errorf("save dormant candidate: %w", err))
			return
		}
		c.metrics.ModelPromotions.WithLabelValues("retained_dormant").Inc()
		log.Printf("[ML] incremental model %s retained dormant (win-rate %.3f < %.3f + eps)", child.Version, valMetrics.WinRate, activeModel.Metrics.WinRate)
	}

	c.metrics.TrainingRuns.WithLabelValues("incremental", "success").Inc()
	_ = c.trainlogs.Save(ctx, domain.TrainingLog{ID: uuid.NewString(), RunAt: now, Type: domain.ModelTypeIncremental, Succeeded: true, ModelVersion: &child.Version})
}

// RunWeeklyFull trains a new model version from scratch on the last 90
// days, registers it, and opens an ABTest against the current active
// version with the configured traffic split.
func (c *Controller) RunWeeklyFull(ctx context.Context) {
	if !c.trainingMu.TryLock() {
		log.Println("[ML] full train skipped: another training job is running")
		return
	}
	defer c.trainingMu.Unlock()

	now := c.now()
	since := now.Add(-c.cfg.FullTrainWindow)
	candles, err := c.data.CandlesSince(ctx, since)
	if err != nil {
		c.failTrain(ctx, domain.ModelTypeFull, fmt.Errorf("load candles: %w", err))
		return
	}
	signals, err := c.signals.SignalsWithOutcomesSince(ctx, since)
	if err != nil {
		c.failTrain(ctx, domain.ModelTypeFull, fmt.Errorf("load signals: %w", err))
		return
	}

	activeVersion := c.router.Active()
	challenger, err := c.trainer.FullTrain(ctx, candles, signals)
	if err != nil {
		c.failTrain(ctx, domain.ModelTypeFull, fmt.Errorf("train: %w", err))
		return
	}
	challenger.Version = nextVersion(activeVersion)
	challenger.Parent = &activeVersion
	challenger.Type = domain.ModelTypeFull
	challenger.TrainedAt = now
	challenger.Active = false

	if err := c.models.Save(ctx, challenger); err != nil {
		c.failTrain(ctx, domain.ModelTypeFull, fmt.Errorf("save candidate: %w", err))
		return
	}

	test := domain.ABTest{
		ID: uuid.NewString(), A: activeVersion, B: challenger.Version,
		TrafficSplit: c.cfg.ABTestSplit, Status: domain.ABTestRunning, StartedAt: now,
	}
	if err := c.abtests.Save(ctx, test); err != nil {
		c.failTrain(ctx, domain.ModelTypeFull, fmt.Errorf("save ab test: %w", err))
		return
	}
	c.router.StartABTest(test)
	c.metrics.ActiveModelCount.Set(2)
	c.metrics.TrainingRuns.WithLabelValues("full", "success").Inc()
	_ = c.trainlogs.Save(ctx, domain.TrainingLog{ID: uuid.NewString(), RunAt: now, Type: domain.ModelTypeFull, Succeeded: true, ModelVersion: &challenger.Version})
	log.Printf("[ML] opened A/B test %s: %s vs %s, split=%.2f", test.ID, test.A, test.B, test.TrafficSplit)
}

// EvaluateRunningTests resolves any ABTest whose window has elapsed via a
// two-proportion significance test on realized win-rate: promotes the
// challenger if p < 0.05 and it wins, otherwise keeps the incumbent.
func (c *Controller) EvaluateRunningTests(ctx context.Context) {
	tests, err := c.abtests.Running(ctx)
	if err != nil {
		log.Printf("ERROR: learning: list running ab tests: %v", err)
		return
	}

	now := c.now()
	for _, test := range tests {
		if now.Sub(test.StartedAt) < c.cfg.ABTestDuration {
			continue
		}
		c.resolveTest(ctx, test)
	}
}

func (c *Controller) resolveTest(ctx context.Context, test domain.ABTest) {
	outcomes, err := c.signals.SignalsWithOutcomesSince(ctx, test.StartedAt)
	if err != nil {
		log.Printf("ERROR: learning: load outcomes for ab test %s: %v", test.ID, err)
		return
	}

	var winsA, totalA, winsB, totalB int
	for _, s := range outcomes {
		if s.ABTestID == nil || *s.ABTestID != test.ID || s.ActualOutcome == domain.OutcomePending {
			continue
		}
		win := s.ActualOutcome == domain.OutcomeWin
		switch s.ModelVersion {
		case test.A:
			totalA++
			if win {
				winsA++
			}
		case test.B:
			totalB++
			if win {
				winsB++
			}
		}
	}

	test.AStats = domain.ArmStats{Wins: winsA, Total: totalA}
	test.BStats = domain.ArmStats{Wins: winsB, Total: totalB}
	pValue := TwoProportionPValue(winsA, totalA, winsB, totalB)
	test.PValue = &pValue

	promote := pValue < 0.05 && test.BStats.WinRate() > test.AStats.WinRate()
	if promote {
		winner := test.B
		test.Winner = &winner
		test.Status = domain.ABTestCompleted
		c.router.PromoteFromTest(test.B)
		_ = c.models.SetActive(ctx, test.A, false)
		_ = c.models.SetActive(ctx, test.B, true)
		c.metrics.ModelPromotions.WithLabelValues("promoted").Inc()
		c.metrics.ActiveModelCount.Set(1)
		c.bus.PublishModelPromoted(eventbus.ModelPromoted{NewActive: test.B, Replaced: test.A, ABTestID: &test.ID})
		log.Printf("[ML] promoted %s over %s (p=%.4f)", test.B, test.A, pValue)
	} else {
		winner := test.A
		test.Winner = &winner
		test.Status = domain.ABTestCompleted
		c.router.CloseTestKeepIncumbent()
		c.metrics.ModelPromotions.WithLabelValues("incumbent_retained").Inc()
		c.metrics.ActiveModelCount.Set(1)
		log.Printf("[ML] kept incumbent %s over %s (p=%.4f)", test.A, test.B, pValue)
	}

	if err := c.abtests.Update(ctx, test); err != nil {
		log.Printf("ERROR: learning: update ab test %s: %v", test.ID, err)
	}
}

func (c *Controller) failTrain(ctx context.Context, t domain.ModelType, err error) {
	log.Printf("ERROR: learning: %s training failed, retaining active model: %v", t, err)
	c.metrics.TrainingRuns.WithLabelValues(string(t), "failure").Inc()
	_ = c.trainlogs.Save(ctx, domain.TrainingLog{ID: uuid.NewString(), RunAt: c.now(), Type: t, Succeeded: false, ResultNote: err.Error()})
}

// nextVersion auto-increments the minor component of a "vMAJOR.MINOR"
// version string; unparseable inputs fall back to appending ".1".
func nextVersion(current string) string {
	trimmed := strings.TrimPrefix(current, "v")
	parts := strings.SplitN(trimmed, ".", 2)
	if len(parts) != 2 {
		return current + ".1"
	}
	major := parts[0]
	minor, err := strconv.Atoi(parts[1])
	if err != nil {
		return current + ".1"
	}
	return fmt.Sprintf("v%s.%d", major, minor+1)
}
