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

func trainingCandles(n int) []domain.Candle {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	out := make([]domain.Candle, n)
	for i := 0; i < n; i++ {
		out[i] = domain.Candle{Pair: "EUR/USD", Timeframe: domain.Timeframe1Hour, Ts: start.Add(time.Duration(i) * time.Hour), Close: 1.1}
	}
	return out
}

func trainingSignals() []domain.Signal {
	pnl := 12.5
	return []domain.Signal{{ID: "sig1", ActualOutcome: domain.OutcomeWin, ActualPnL: &pnl}}
}

func TestTrainerIncrementalTrainParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/train/incremental", r.URL.Path)
		var req incrementalTrainRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "v1", req.ParentVersion)
		require.Len(t, req.Signals, 1)
		assert.Equal(t, "win", req.Signals[0].Outcome)

		_ = json.NewEncoder(w).Encode(trainResponse{
			Success: true,
			Data: trainResponseData{
				Version: "v2",
				Metrics: modelMetricsWire{WinRate: 0.6, Sharpe: 1.2, AvgPnL: 5.0, MaxDrawdown: 0.1},
			},
		})
	}))
	defer server.Close()

	client := NewTrainerClient(server.URL)
	mv, err := client.IncrementalTrain(context.Background(), "v1", trainingCandles(60), trainingSignals())
	require.NoError(t, err)
	assert.Equal(t, "v2", mv.Version)
	require.NotNil(t, mv.Parent)
	assert.Equal(t, "v1", *mv.Parent)
	assert.Equal(t, domain.ModelTypeIncremental, mv.Type)
	assert.Equal(t, 0.6, mv.Metrics.WinRate)
}

func TestTrainerFullTrainParsesResponse(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/train/full", r.URL.Path)
		_ = json.NewEncoder(w).Encode(trainResponse{
			Success: true,
			Data:    trainResponseData{Version: "v3", Metrics: modelMetricsWire{WinRate: 0.55}},
		})
	}))
	defer server.Close()

	client := NewTrainerClient(server.URL)
	mv, err := client.FullTrain(context.Background(), trainingCandles(200), trainingSignals())
	require.NoError(t, err)
	assert.Equal(t, "v3", mv.Version)
	assert.Nil(t, mv.Parent)
	assert.Equal(t, domain.ModelTypeFull, mv.Type)
}

func TestTrainerValidateParsesMetrics(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/train/validate", r.URL.Path)
		_ = json.NewEncoder(w).Encode(validateResponse{
			Success: true,
			Data:    modelMetricsWire{WinRate: 0.7, Sharpe: 1.5, AvgPnL: 8.0, MaxDrawdown: 0.05},
		})
	}))
	defer server.Close()

	client := NewTrainerClient(server.URL)
	metrics, err := client.Validate(context.Background(), "v2", trainingCandles(60), trainingSignals())
	require.NoError(t, err)
	assert.Equal(t, 0.7, metrics.WinRate)
	assert.Equal(t, 1.5, metrics.Sharpe)
}

func TestTrainerMapsServerErrorToUnavailable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte("boom"))
	}))
	defer server.Close()

	client := NewTrainerClient(server.URL)
	_, err := client.FullTrain(context.Background(), trainingCandles(10), nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindUnavailable, domain.KindOf(err))
}

func TestTrainerMapsApplicationFailureToInvalidInput(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		msg := "not enough training data"
		_ = json.NewEncoder(w).Encode(trainResponse{Success: false, Error: &msg})
	}))
	defer server.Close()

	client := NewTrainerClient(server.URL)
	_, err := client.FullTrain(context.Background(), trainingCandles(10), nil)
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidInput, domain.KindOf(err))
}
