package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"fxadvisor/internal/domain"
)

// TrainerClient implements domain.Trainer against the same external model
// service C2 talks to, adapted from the teacher's python_bridge.go
// request/response plumbing (AnalyzeMarket, HealthCheck) applied to
// /train/incremental, /train/full and /train/validate endpoints instead of
// /analyze/market.
type TrainerClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewTrainerClient builds a TrainerClient. Training calls can run long, so
// the HTTP timeout is generous relative to the Predictor Client's.
func NewTrainerClient(baseURL string) *TrainerClient {
	return &TrainerClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Minute},
	}
}

type trainCandleBar struct {
	Ts     int64   `json:"ts"`
	Open   float64 `json:"o"`
	High   float64 `json:"h"`
	Low    float64 `json:"l"`
	Close  float64 `json:"c"`
	Volume float64 `json:"v"`
}

type trainSignalOutcome struct {
	SignalID string  `json:"signalId"`
	Outcome  string  `json:"outcome"`
	PnL      float64 `json:"pnl"`
}

type incrementalTrainRequest struct {
	ParentVersion string               `json:"parentVersion"`
	Candles       []trainCandleBar     `json:"candles"`
	Signals       []trainSignalOutcome `json:"signals"`
}

type fullTrainRequest struct {
	Candles []trainCandleBar     `json:"candles"`
	Signals []trainSignalOutcome `json:"signals"`
}

type validateRequest struct {
	Version string               `json:"version"`
	Candles []trainCandleBar     `json:"candles"`
	Signals []trainSignalOutcome `json:"signals"`
}

type modelMetricsWire struct {
	WinRate     float64 `json:"winRate"`
	Sharpe      float64 `json:"sharpe"`
	AvgPnL      float64 `json:"avgPnl"`
	MaxDrawdown float64 `json:"maxDrawdown"`
}

type trainResponseData struct {
	Version       string           `json:"version"`
	Metrics       modelMetricsWire `json:"metrics"`
	ArtifactPaths []string         `json:"artifactPaths"`
}

type trainResponse struct {
	Success bool               `json:"success"`
	Data    trainResponseData  `json:"data"`
	Error   *string            `json:"error"`
}

type validateResponse struct {
	Success bool             `json:"success"`
	Data    modelMetricsWire `json:"data"`
	Error   *string          `json:"error"`
}

func toCandleBars(candles []domain.Candle) []trainCandleBar {
	bars := make([]trainCandleBar, len(candles))
	for i, c := range candles {
		vol := 0.0
		if c.Volume != nil {
			vol = *c.Volume
		}
		bars[i] = trainCandleBar{Ts: c.Ts.UnixMilli(), Open: c.Open, High: c.High, Low: c.Low, Close: c.Close, Volume: vol}
	}
	return bars
}

func toSignalOutcomes(signals []domain.Signal) []trainSignalOutcome {
	out := make([]trainSignalOutcome, 0, len(signals))
	for _, s := range signals {
		pnl := 0.0
		if s.ActualPnL != nil {
			pnl = *s.ActualPnL
		}
		out = append(out, trainSignalOutcome{SignalID: s.ID, Outcome: string(s.ActualOutcome), PnL: pnl})
	}
	return out
}

func toModelMetrics(m modelMetricsWire) domain.ModelMetrics {
	return domain.ModelMetrics{WinRate: m.WinRate, Sharpe: m.Sharpe, AvgPnL: m.AvgPnL, MaxDrawdown: m.MaxDrawdown}
}

// IncrementalTrain fine-tunes parentVersion against recent data.
func (t *TrainerClient) IncrementalTrain(ctx context.Context, parentVersion string, candles []domain.Candle, signals []domain.Signal) (domain.ModelVersion, error) {
	reqBody := incrementalTrainRequest{ParentVersion: parentVersion, Candles: toCandleBars(candles), Signals: toSignalOutcomes(signals)}
	var resp trainResponse
	if err := t.post(ctx, "/train/incremental", reqBody, &resp); err != nil {
		return domain.ModelVersion{}, err
	}
	parent := parentVersion
	return domain.ModelVersion{
		Version: resp.Data.Version, Parent: &parent, Type: domain.ModelTypeIncremental,
		TrainedAt: time.Now(), Metrics: toModelMetrics(resp.Data.Metrics), ArtifactPaths: resp.Data.ArtifactPaths,
	}, nil
}

// FullTrain trains a new model version from scratch.
func (t *TrainerClient) FullTrain(ctx context.Context, candles []domain.Candle, signals []domain.Signal) (domain.ModelVersion, error) {
	reqBody := fullTrainRequest{Candles: toCandleBars(candles), Signals: toSignalOutcomes(signals)}
	var resp trainResponse
	if err := t.post(ctx, "/train/full", reqBody, &resp); err != nil {
		return domain.ModelVersion{}, err
	}
	return domain.ModelVersion{
		Version: resp.Data.Version, Type: domain.ModelTypeFull,
		TrainedAt: time.Now(), Metrics: toModelMetrics(resp.Data.Metrics), ArtifactPaths: resp.Data.ArtifactPaths,
	}, nil
}

// Validate backtests version against the given data window.
func (t *TrainerClient) Validate(ctx context.Context, version string, candles []domain.Candle, signals []domain.Signal) (domain.ModelMetrics, error) {
	reqBody := validateRequest{Version: version, Candles: toCandleBars(candles), Signals: toSignalOutcomes(signals)}
	var resp validateResponse
	if err := t.postValidate(ctx, "/train/validate", reqBody, &resp); err != nil {
		return domain.ModelMetrics{}, err
	}
	return toModelMetrics(resp.Data), nil
}

func (t *TrainerClient) post(ctx context.Context, path string, body any, out *trainResponse) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal trainer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to build trainer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return domain.NewError("trainer."+path, domain.KindUnavailable, fmt.Errorf("trainer request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read trainer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := domain.KindUnavailable
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = domain.KindInvalidInput
		}
		return domain.NewError("trainer."+path, kind, fmt.Errorf("trainer API error (status %d): %s", resp.StatusCode, string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal trainer response: %w", err)
	}
	if !out.Success {
		msg := "unknown trainer error"
		if out.Error != nil {
			msg = *out.Error
		}
		return domain.NewError("trainer."+path, domain.KindInvalidInput, fmt.Errorf("%s", msg))
	}
	return nil
}

func (t *TrainerClient) postValidate(ctx context.Context, path string, body any, out *validateResponse) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal trainer request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to build trainer request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return domain.NewError("trainer."+path, domain.KindUnavailable, fmt.Errorf("trainer request failed: %w", err))
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read trainer response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		kind := domain.KindUnavailable
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			kind = domain.KindInvalidInput
		}
		return domain.NewError("trainer."+path, kind, fmt.Errorf("trainer API error (status %d): %s", resp.StatusCode, string(respBody)))
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to unmarshal trainer response: %w", err)
	}
	if !out.Success {
		msg := "unknown trainer error"
		if out.Error != nil {
			msg = *out.Error
		}
		return domain.NewError("trainer."+path, domain.KindInvalidInput, fmt.Errorf("%s", msg))
	}
	return nil
}
