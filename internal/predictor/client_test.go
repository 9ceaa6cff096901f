package predictor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fxadvisor/internal/domain"
)

func makeCandles(n int, gap time.Duration) []domain.Candle {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = domain.Candle{Pair: "EUR/USD", Timeframe: domain.Timeframe1Hour, Ts: start.Add(time.Duration(i) * gap), Close: 1.1}
	}
	return out
}

func TestValidateCandlesRejectsTooFew(t *testing.T) {
	err := validateCandles(makeCandles(59, time.Hour), domain.Timeframe1Hour)
	assert.Error(t, err)
}

func TestValidateCandlesRejectsLargeGap(t *testing.T) {
	err := validateCandles(makeCandles(60, 3*time.Hour), domain.Timeframe1Hour)
	assert.Error(t, err)
}

func TestValidateCandlesAcceptsExactMinimum(t *testing.T) {
	err := validateCandles(makeCandles(60, time.Hour), domain.Timeframe1Hour)
	assert.NoError(t, err)
}

func TestClientPredictReturnsInvalidInputWithoutCallingServer(t *testing.T) {
	called := false
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	router := NewRouter("v1.0")
	client := NewClient(server.URL, router)

	_, err := client.Predict(context.Background(), "EUR/USD", domain.Timeframe1Hour, makeCandles(10, time.Hour), nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
	assert.False(t, called)
}

func TestClientPredictRoutesToActiveVersionAndParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req predictRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		assert.Equal(t, "v2.1", *req.VersionHint)
		resp := predictResponse{Success: true, Data: &predictResponseData{
			Signal: "long", Confidence: 0.72, ModelVersion: "v2.1",
		}}
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer server.Close()

	router := NewRouter("v2.1")
	client := NewClient(server.URL, router)

	pred, err := client.Predict(context.Background(), "EUR/USD", domain.Timeframe1Hour, makeCandles(60, time.Hour), nil)
	require.NoError(t, err)
	assert.Equal(t, domain.DirectionLong, pred.Signal)
	assert.Equal(t, 0.72, pred.Confidence)
	assert.Equal(t, "v2.1", pred.ModelVersion)
}

func TestClientPredictReturnsUnavailableOnServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	router := NewRouter("v1.0")
	client := NewClient(server.URL, router)

	_, err := client.Predict(context.Background(), "EUR/USD", domain.Timeframe1Hour, makeCandles(60, time.Hour), nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindUnavailable, domain.KindOf(err))
}

func TestClientPredictReturnsInvalidInputOnRemoteRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"error":"pair not supported"}`))
	}))
	defer server.Close()

	router := NewRouter("v1.0")
	client := NewClient(server.URL, router)

	_, err := client.Predict(context.Background(), "EUR/USD", domain.Timeframe1Hour, makeCandles(60, time.Hour), nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err), "a 4xx predictor response must surface as InvalidInput, not Unavailable")
}

func TestRouterResolveNoTestRoutesActive(t *testing.T) {
	r := NewRouter("v1.0")
	version, abID := r.Resolve("EUR/USD", domain.Timeframe1Hour, time.Now(), nil)
	assert.Equal(t, "v1.0", version)
	assert.Nil(t, abID)
	assert.Equal(t, []string{"v1.0"}, r.Routable())
}

func TestRouterResolveWithRunningTestIsStableWithinBucket(t *testing.T) {
	r := NewRouter("v1.0")
	r.StartABTest(domain.ABTest{ID: "ab1", A: "v1.0", B: "v2.0", TrafficSplit: 0.5, Status: domain.ABTestRunning})

	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	v1, id1 := r.Resolve("EUR/USD", domain.Timeframe1Hour, now, nil)
	v2, id2 := r.Resolve("EUR/USD", domain.Timeframe1Hour, now.Add(time.Second), nil)

	assert.Equal(t, v1, v2, "same 5-minute bucket must route the same arm")
	require.NotNil(t, id1)
	require.NotNil(t, id2)
	assert.Equal(t, "ab1", *id1)
	assert.Contains(t, []string{"v1.0", "v2.0"}, v1)
	assert.ElementsMatch(t, []string{"v1.0", "v2.0"}, r.Routable())
}

func TestRouterPromoteFromTestLeavesExactlyOneActive(t *testing.T) {
	r := NewRouter("v1.0")
	r.StartABTest(domain.ABTest{ID: "ab1", A: "v1.0", B: "v2.0", TrafficSplit: 0.5, Status: domain.ABTestRunning})
	require.Len(t, r.Routable(), 2)

	r.PromoteFromTest("v2.0")
	assert.Equal(t, []string{"v2.0"}, r.Routable())
	assert.Nil(t, r.RunningTest())
}
