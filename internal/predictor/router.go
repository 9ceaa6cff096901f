package predictor

import (
	"hash/fnv"
	"sync"
	"time"

	"fxadvisor/internal/domain"
)

// Router is the model-routing table named in the Design Notes: a single
// row with one RWMutex, replacing a plain "active" boolean per ModelVersion
// row that left room for multiple actives during a race. Read-many /
// write-rare, per spec.md §5.
type Router struct {
	mu     sync.RWMutex
	active string
	test   *domain.ABTest // nil when no A/B test is running
}

// NewRouter builds a router with the given initially active version.
func NewRouter(active string) *Router {
	return &Router{active: active}
}

// SetActive atomically sets the sole active model version and clears any
// running test. Used outside promotion (e.g. initial boot wiring); the
// Learning Controller's atomic promotion goes through PromoteFromTest.
func (r *Router) SetActive(version string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = version
	r.test = nil
}

// StartABTest begins routing traffic between the active version (arm A)
// and challenger (arm B) per test.TrafficSplit.
func (r *Router) StartABTest(test domain.ABTest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.test = &test
}

// PromoteFromTest performs the atomic promotion described in spec.md §4.6:
// (1) set challenger active, (2) clear incumbent, (3) close the test. The
// whole sequence happens under the single routing lock, with no RPC inside
// — the one permitted exception to "never hold a lock across a suspension
// point" (spec.md §5).
func (r *Router) PromoteFromTest(winner string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = winner
	r.test = nil
}

// CloseTestKeepIncumbent ends the running test without promotion, keeping
// the current active version.
func (r *Router) CloseTestKeepIncumbent() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.test = nil
}

// Active returns the currently active model version.
func (r *Router) Active() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

// RunningTest returns the running ABTest, or nil.
func (r *Router) RunningTest() *domain.ABTest {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.test == nil {
		return nil
	}
	cp := *r.test
	return &cp
}

// Routable returns the set of model versions a Predict call may legally
// return right now: one if no test is running, two (A and B) if one is.
func (r *Router) Routable() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.test == nil {
		return []string{r.active}
	}
	return []string{r.test.A, r.test.B}
}

// Resolve picks the model version to serve a prediction for (pair, tf) at
// instant now. If versionHint names a currently routable version, it is
// honored directly (explicit caller override, e.g. backtests). Otherwise:
// with no running test, route to the active version; with a running test,
// hash (pair, timeframe, floor(now/5min)) uniformly and split by
// TrafficSplit, returning the test id alongside the chosen arm.
func (r *Router) Resolve(pair string, tf domain.Timeframe, now time.Time, versionHint *string) (version string, abTestID *string) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if versionHint != nil {
		if *versionHint == r.active {
			return *versionHint, nil
		}
		if r.test != nil && (*versionHint == r.test.A || *versionHint == r.test.B) {
			id := r.test.ID
			return *versionHint, &id
		}
	}

	if r.test == nil {
		return r.active, nil
	}

	if splitHash(pair, tf, now) < r.test.TrafficSplit {
		id := r.test.ID
		return r.test.B, &id
	}
	id := r.test.ID
	return r.test.A, &id
}

// splitHash returns a value uniformly distributed in [0,1) derived from
// (pair, timeframe, floor(now/5min)), stable across the same 5-minute
// bucket so repeated calls in that window route consistently.
func splitHash(pair string, tf domain.Timeframe, now time.Time) float64 {
	bucket := now.Unix() / int64(5*time.Minute/time.Second)
	h := fnv.New64a()
	h.Write([]byte(pair))
	h.Write([]byte(tf))
	h.Write([]byte{
		byte(bucket), byte(bucket >> 8), byte(bucket >> 16), byte(bucket >> 24),
		byte(bucket >> 32), byte(bucket >> 40), byte(bucket >> 48), byte(bucket >> 56),
	})
	sum := h.Sum64()
	return float64(sum%1_000_000) / 1_000_000.0
}
