package learning

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxadvisor/internal/domain"
	"fxadvisor/internal/eventbus"
	"fxadvisor/internal/predictor"
)

type fakeDataSource struct{ candles []domain.Candle }

func (f *fakeDataSource) CandlesSince(ctx context.Context, since time.Time) ([]domain.Candle, error) {
	return f.candles, nil
}

type fakeSignalStore struct{ rows []domain.Signal }

func (f *fakeSignalStore) SaveSignal(ctx context.Context, s domain.Signal) error { return nil }
func (f *fakeSignalStore) LastSignal(ctx context.Context, pair string, tf domain.Timeframe) (*domain.Signal, error) {
	return nil, nil
}
func (f *fakeSignalStore) SaveSignalChange(ctx context.Context, c domain.SignalChange) error {
	return nil
}
func (f *fakeSignalStore) UpdateOutcome(ctx context.Context, signalID string, outcome domain.Outcome, pnl *float64) error {
	return nil
}
func (f *fakeSignalStore) SignalsWithOutcomesSince(ctx context.Context, since time.Time) ([]domain.Signal, error) {
	return f.rows, nil
}

type fakeModelStore struct {
	mu     sync.Mutex
	models map[string]domain.ModelVersion
}

func newFakeModelStore(models ...domain.ModelVersion) *fakeModelStore {
	s := &fakeModelStore{models: make(map[string]domain.ModelVersion)}
	for _, m := range models {
		s.models[m.Version] = m
	}
	return s
}
func (s *fakeModelStore) Save(ctx context.Context, m domain.ModelVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[m.Version] = m
	return nil
}
func (s *fakeModelStore) Active(ctx context.Context) ([]domain.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ModelVersion
	for _, m := range s.models {
		if m.Active {
			out = append(out, m)
		}
	}
	return out, nil
}
func (s *fakeModelStore) Get(ctx context.Context, version string) (*domain.ModelVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[version]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &m, nil
}
func (s *fakeModelStore) SetActive(ctx context.Context, version string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.models[version]
	if !ok {
		return domain.ErrNotFound
	}
	m.Active = active
	s.models[version] = m
	return nil
}

type fakeABTestStore struct {
	mu    sync.Mutex
	tests map[string]domain.ABTest
}

func newFakeABTestStore() *fakeABTestStore {
	return &fakeABTestStore{tests: make(map[string]domain.ABTest)}
}
func (s *fakeABTestStore) Save(ctx context.Context, t domain.ABTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tests[t.ID] = t
	return nil
}
func (s *fakeABTestStore) Get(ctx context.Context, id string) (*domain.ABTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tests[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return &t, nil
}
func (s *fakeABTestStore) Running(ctx context.Context) ([]domain.ABTest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.ABTest
	for _, t := range s.tests {
		if t.Status == domain.ABTestRunning {
			out = append(out, t)
		}
	}
	return out, nil
}
func (s *fakeABTestStore) Update(ctx context.Context, t domain.ABTest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tests[t.ID] = t
	return nil
}

type fakeTrainingLogStore struct {
	mu   sync.Mutex
	logs []domain.TrainingLog
}

func (s *fakeTrainingLogStore) Save(ctx context.Context, l domain.TrainingLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs = append(s.logs, l)
	return nil
}

type fakeTrainer struct {
	incremental domain.ModelVersion
	full        domain.ModelVersion
	validated   domain.ModelMetrics
	err         error
}

func (f *fakeTrainer) IncrementalTrain(ctx context.Context, parentVersion string, candles []domain.Candle, signals []domain.Signal) (domain.ModelVersion, error) {
	return f.incremental, f.err
}
func (f *fakeTrainer) FullTrain(ctx context.Context, candles []domain.Candle, signals []domain.Signal) (domain.ModelVersion, error) {
	return f.full, f.err
}
func (f *fakeTrainer) Validate(ctx context.Context, version string, candles []domain.Candle, signals []domain.Signal) (domain.ModelMetrics, error) {
	return f.validated, nil
}

func seedLearningCandles(n int) []domain.Candle {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = domain.Candle{Pair: "EUR/USD", Timeframe: domain.Timeframe1Hour, Ts: start.Add(time.Duration(i) * time.Hour), Close: 1.08}
	}
	return out
}

func TestRunDailyIncrementalPromotesWhenCandidateBeatsThreshold(t *testing.T) {
	models := newFakeModelStore(domain.ModelVersion{Version: "v1.0", Active: true, Metrics: domain.ModelMetrics{WinRate: 0.50}})
	router := predictor.NewRouter("v1.0")
	trainer := &fakeTrainer{
		incremental: domain.ModelVersion{Version: "v1.1"},
		validated:   domain.ModelMetrics{WinRate: 0.60},
	}
	logs := &fakeTrainingLogStore{}
	bus := eventbus.New()
	var promoted eventbus.ModelPromoted
	bus.OnModelPromoted(func(e eventbus.ModelPromoted) { promoted = e })

	c := New(&fakeDataSource{candles: seedLearningCandles(30)}, &fakeSignalStore{}, models, newFakeABTestStore(), logs, trainer, router, bus, DefaultConfig())
	c.RunDailyIncremental(context.Background())

	assert.Equal(t, "v1.1", router.Active())
	assert.Equal(t, "v1.1", promoted.NewActive)
	assert.Equal(t, "v1.0", promoted.Replaced)
	m, err := models.Get(context.Background(), "v1.1")
	require.NoError(t, err)
	assert.True(t, m.Active)
	require.Len(t, logs.logs, 1)
	assert.True(t, logs.logs[0].Succeeded)
}

func TestRunDailyIncrementalRetainsDormantWhenBelowEpsilon(t *testing.T) {
	models := newFakeModelStore(domain.ModelVersion{Version: "v1.0", Active: true, Metrics: domain.ModelMetrics{WinRate: 0.55}})
	router := predictor.NewRouter("v1.0")
	trainer := &fakeTrainer{
		incremental: domain.ModelVersion{Version: "v1.1"},
		validated:   domain.ModelMetrics{WinRate: 0.56},
	}
	logs := &fakeTrainingLogStore{}
	bus := eventbus.New()

	c := New(&fakeDataSource{candles: seedLearningCandles(30)}, &fakeSignalStore{}, models, newFakeABTestStore(), logs, trainer, router, bus, DefaultConfig())
	c.RunDailyIncremental(context.Background())

	assert.Equal(t, "v1.0", router.Active())
	m, err := models.Get(context.Background(), "v1.1")
	require.NoError(t, err)
	assert.False(t, m.Active)
}

func TestRunDailyIncrementalSkipsWhenAlreadyTraining(t *testing.T) {
	models := newFakeModelStore(domain.ModelVersion{Version: "v1.0", Active: true})
	router := predictor.NewRouter("v1.0")
	trainer := &fakeTrainer{incremental: domain.ModelVersion{Version: "v1.1"}}
	c := New(&fakeDataSource{candles: seedLearningCandles(10)}, &fakeSignalStore{}, models, newFakeABTestStore(), &fakeTrainingLogStore{}, trainer, router, bus(), DefaultConfig())

	c.trainingMu.Lock()
	defer c.trainingMu.Unlock()
	c.RunDailyIncremental(context.Background())

	assert.Equal(t, "v1.0", router.Active(), "must not promote while a training job already holds the guard")
}

func TestRunWeeklyFullOpensABTestAgainstIncumbent(t *testing.T) {
	models := newFakeModelStore(domain.ModelVersion{Version: "v1.2", Active: true})
	router := predictor.NewRouter("v1.2")
	abtests := newFakeABTestStore()
	trainer := &fakeTrainer{full: domain.ModelVersion{}}
	c := New(&fakeDataSource{candles: seedLearningCandles(30)}, &fakeSignalStore{}, models, abtests, &fakeTrainingLogStore{}, trainer, router, bus(), DefaultConfig())

	c.RunWeeklyFull(context.Background())

	test := router.RunningTest()
	require.NotNil(t, test)
	assert.Equal(t, "v1.2", test.A)
	assert.Equal(t, "v1.3", test.B)
	assert.Equal(t, 0.5, test.TrafficSplit)
	running, err := abtests.Running(context.Background())
	require.NoError(t, err)
	require.Len(t, running, 1)
}

func TestEvaluateRunningTestsPromotesSignificantWinner(t *testing.T) {
	models := newFakeModelStore(
		domain.ModelVersion{Version: "v1.0", Active: true},
		domain.ModelVersion{Version: "v1.1", Active: false},
	)
	router := predictor.NewRouter("v1.0")
	test := domain.ABTest{ID: "t1", A: "v1.0", B: "v1.1", TrafficSplit: 0.5, Status: domain.ABTestRunning, StartedAt: time.Now().Add(-8 * 24 * time.Hour)}
	router.StartABTest(test)
	abtests := newFakeABTestStore()
	_ = abtests.Save(context.Background(), test)

	var rows []domain.Signal
	for i := 0; i < 100; i++ {
		outcome := domain.OutcomeLoss
		if i < 40 {
			outcome = domain.OutcomeWin
		}
		rows = append(rows, domain.Signal{ModelVersion: "v1.0", ABTestID: strPtr("t1"), ActualOutcome: outcome})
	}
	for i := 0; i < 100; i++ {
		outcome := domain.OutcomeLoss
		if i < 70 {
			outcome = domain.OutcomeWin
		}
		rows = append(rows, domain.Signal{ModelVersion: "v1.1", ABTestID: strPtr("t1"), ActualOutcome: outcome})
	}
	signals := &fakeSignalStore{rows: rows}

	bus := eventbus.New()
	var promoted eventbus.ModelPromoted
	bus.OnModelPromoted(func(e eventbus.ModelPromoted) { promoted = e })

	c := New(&fakeDataSource{}, signals, models, abtests, &fakeTrainingLogStore{}, &fakeTrainer{}, router, bus, DefaultConfig())
	c.EvaluateRunningTests(context.Background())

	assert.Equal(t, "v1.1", router.Active())
	assert.Nil(t, router.RunningTest())
	assert.Equal(t, "v1.1", promoted.NewActive)

	updated, err := abtests.Get(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.ABTestCompleted, updated.Status)
	require.NotNil(t, updated.Winner)
	assert.Equal(t, "v1.1", *updated.Winner)
}

func TestEvaluateRunningTestsKeepsIncumbentWhenNotSignificant(t *testing.T) {
	models := newFakeModelStore(
		domain.ModelVersion{Version: "v1.0", Active: true},
		domain.ModelVersion{Version: "v1.1", Active: false},
	)
	router := predictor.NewRouter("v1.0")
	test := domain.ABTest{ID: "t2", A: "v1.0", B: "v1.1", TrafficSplit: 0.5, Status: domain.ABTestRunning, StartedAt: time.Now().Add(-8 * 24 * time.Hour)}
	router.StartABTest(test)
	abtests := newFakeABTestStore()
	_ = abtests.Save(context.Background(), test)

	var rows []domain.Signal
	for i := 0; i < 20; i++ {
		outcome := domain.OutcomeLoss
		if i < 10 {
			outcome = domain.OutcomeWin
		}
		rows = append(rows, domain.Signal{ModelVersion: "v1.0", ABTestID: strPtr("t2"), ActualOutcome: outcome})
	}
	for i := 0; i < 20; i++ {
		outcome := domain.OutcomeLoss
		if i < 11 {
			outcome = domain.OutcomeWin
		}
		rows = append(rows, domain.Signal{ModelVersion: "v1.1", ABTestID: strPtr("t2"), ActualOutcome: outcome})
	}
	signals := &fakeSignalStore{rows: rows}

	c := New(&fakeDataSource{}, signals, models, abtests, &fakeTrainingLogStore{}, &fakeTrainer{}, router, bus(), DefaultConfig())
	c.EvaluateRunningTests(context.Background())

	assert.Equal(t, "v1.0", router.Active(), "a near-tie sample must not flip the incumbent")
	assert.Nil(t, router.RunningTest())

	updated, err := abtests.Get(context.Background(), "t2")
	require.NoError(t, err)
	require.NotNil(t, updated.Winner)
	assert.Equal(t, "v1.0", *updated.Winner)
}

func TestEvaluateRunningTestsSkipsTestsStillWithinWindow(t *testing.T) {
	models := newFakeModelStore(domain.ModelVersion{Version: "v1.0", Active: true})
	router := predictor.NewRouter("v1.0")
	test := domain.ABTest{ID: "t3", A: "v1.0", B: "v1.1", TrafficSplit: 0.5, Status: domain.ABTestRunning, StartedAt: time.Now().Add(-1 * time.Hour)}
	router.StartABTest(test)
	abtests := newFakeABTestStore()
	_ = abtests.Save(context.Background(), test)

	c := New(&fakeDataSource{}, &fakeSignalStore{}, models, abtests, &fakeTrainingLogStore{}, &fakeTrainer{}, router, bus(), DefaultConfig())
	c.EvaluateRunningTests(context.Background())

	require.NotNil(t, router.RunningTest())
	assert.Equal(t, "t3", router.RunningTest().ID)
}

func bus() *eventbus.Bus { return eventbus.New() }

func strPtr(s string) *string { return &s }
