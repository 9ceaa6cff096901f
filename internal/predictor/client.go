// Package predictor implements the Predictor Client (C2): a typed RPC to
// the external model service, adapted from the teacher's
// internal/adapter/python_bridge.go HTTP-bridge pattern, with version
// routing (router.go), a process-wide concurrency cap (a buffered-channel
// semaphore) and a requests-per-second throttle borrowed from
// phenomenon0-polymarket-agents' CLOB client rate limiter.
package predictor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"fxadvisor/internal/domain"
)

// MinCandlesForPrediction is the minimum candle history a Predict call
// requires, per spec.md §4.2 and §6.
const MinCandlesForPrediction = 60

// DefaultTimeout is the hard RPC deadline; on timeout the client returns
// Unavailable rather than blocking the caller indefinitely.
const DefaultTimeout = 30 * time.Second

// ClientOption configures a Client at construction, mirroring the
// functional-options pattern used by polymarket-agents' CLOB client.
type ClientOption func(*Client)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.timeout = d }
}

// WithConcurrency overrides the default process-wide concurrency cap (16).
func WithConcurrency(n int) ClientOption {
	return func(c *Client) { c.sem = make(chan struct{}, n) }
}

// WithRateLimit overrides the default requests-per-second throttle applied
// ahead of the concurrency cap, smoothing bursts against the remote model
// service the way the CLOB client throttles order submission.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(rate.Limit(rps), burst) }
}

// Client is C2. Safe for concurrent use; enforces a process-wide
// concurrency cap with semaphore semantics (spec.md §5: "default 16").
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	sem        chan struct{}
	limiter    *rate.Limiter
	router     *Router
}

// NewClient builds a Predictor Client against baseURL, routing through
// router for model-version selection.
func NewClient(baseURL string, router *Router, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		sem:        make(chan struct{}, 16),
		limiter:    rate.NewLimiter(rate.Limit(20), 20),
		router:     router,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type predictRequestBar struct {
	Ts     int64   `json:"ts"`
	O      float64 `json:"o"`
	H      float64 `json:"h"`
	L      float64 `json:"l"`
	C      float64 `json:"c"`
	V      float64 `json:"v"`
}

type predictRequest struct {
	Pair        string              `json:"pair"`
	Timeframe   string              `json:"timeframe"`
	Data        []predictRequestBar `json:"data"`
	VersionHint *string             `json:"versionHint,omitempty"`
}

type predictFactors struct {
	Technical *float64 `json:"technical,omitempty"`
	Sentiment *float64 `json:"sentiment,omitempty"`
	Pattern   *float64 `json:"pattern,omitempty"`
}

type predictResponseData struct {
	Signal       string         `json:"signal"`
	Confidence   float64        `json:"confidence"`
	Stage1Prob   float64        `json:"stage1Prob"`
	Stage2Prob   float64        `json:"stage2Prob"`
	Factors      predictFactors `json:"factors"`
	ModelVersion string         `json:"modelVersion"`
	Warning      string         `json:"warning,omitempty"`
}

type predictResponse struct {
	Success bool                  `json:"success"`
	Data    *predictResponseData  `json:"data,omitempty"`
	Error   string                `json:"error,omitempty"`
}

// Predict validates candles, resolves the model version to serve via
// router, and makes a single remote call with a hard deadline. On
// violation of the input contract it returns KindInvalidInput synchronously
// without making the call; on timeout or transport failure it returns
// KindUnavailable so callers treat it as "no signal change" (fail-closed).
func (c *Client) Predict(ctx context.Context, pair string, tf domain.Timeframe, candles []domain.Candle, versionHint *string) (domain.Prediction, error) {
	if err := validateCandles(candles, tf); err != nil {
		return domain.Prediction{}, domain.NewError("predictor.Predict", domain.KindInvalidInput, err)
	}

	version, abTestID := c.router.Resolve(pair, tf, time.Now(), versionHint)

	if err := c.limiter.Wait(ctx); err != nil {
		return domain.Prediction{}, domain.NewError("predictor.Predict", domain.KindUnavailable, err)
	}

	select {
	case c.sem <- struct{}{}:
		defer func() { <-c.sem }()
	case <-ctx.Done():
		return domain.Prediction{}, domain.NewError("predictor.Predict", domain.KindUnavailable, ctx.Err())
	}

	callCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.call(callCtx, pair, tf, candles, &version)
	latency := time.Since(start)
	if err != nil {
		var domainErr *domain.Error
		if errors.As(err, &domainErr) {
			return domain.Prediction{}, domain.NewError("predictor.Predict", domainErr.Kind, domainErr)
		}
		return domain.Prediction{}, domain.NewError("predictor.Predict", domain.KindUnavailable, err)
	}
	if !resp.Success || resp.Data == nil {
		return domain.Prediction{}, domain.NewError("predictor.Predict", domain.KindUnavailable, fmt.Errorf("predictor error: %s", resp.Error))
	}

	d := resp.Data
	return domain.Prediction{
		Signal:       domain.Direction(d.Signal),
		Confidence:   d.Confidence,
		Stage1Prob:   d.Stage1Prob,
		Stage2Prob:   d.Stage2Prob,
		Factors:      domain.Factors{Technical: d.Factors.Technical, Sentiment: d.Factors.Sentiment, Pattern: d.Factors.Pattern},
		ModelVersion: d.ModelVersion,
		ABTestID:     abTestID,
		Warning:      d.Warning,
		LatencyMs:    latency.Milliseconds(),
	}, nil
}

func (c *Client) call(ctx context.Context, pair string, tf domain.Timeframe, candles []domain.Candle, version *string) (*predictResponse, error) {
	bars := make([]predictRequestBar, 0, len(candles))
	for _, cd := range candles {
		vol := 0.0
		if cd.Volume != nil {
			vol = *cd.Volume
		}
		bars = append(bars, predictRequestBar{Ts: cd.Ts.Unix(), O: cd.Open, H: cd.High, L: cd.Low, C: cd.Close, V: vol})
	}

	body := predictRequest{Pair: pair, Timeframe: string(tf), Data: bars, VersionHint: version}
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal predict request: %w", err)
	}

	url := fmt.Sprintf("%s/predict", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build predict request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call predictor: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 500 {
		b, _ := io.ReadAll(resp.Body)
		return nil, domain.NewError("predictor.call", domain.KindUnavailable, fmt.Errorf("predictor unavailable: status=%d body=%s", resp.StatusCode, string(b)))
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		return nil, domain.NewError("predictor.call", domain.KindInvalidInput, fmt.Errorf("predictor rejected request: status=%d body=%s", resp.StatusCode, string(b)))
	}

	var out predictResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode predict response: %w", err)
	}
	return &out, nil
}

// Healthcheck separates liveness probing from real prediction (Design
// Notes: the source conflated an empty-data "Predict_raw" probe with real
// prediction traffic).
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.NewError("predictor.Healthcheck", domain.KindUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return domain.NewError("predictor.Healthcheck", domain.KindUnavailable, fmt.Errorf("status=%d", resp.StatusCode))
	}
	return nil
}

func validateCandles(candles []domain.Candle, tf domain.Timeframe) error {
	if len(candles) < MinCandlesForPrediction {
		return fmt.Errorf("need at least %d candles, got %d", MinCandlesForPrediction, len(candles))
	}
	maxGap := 2 * tf.Duration()
	for i := 1; i < len(candles); i++ {
		if !candles[i].Ts.After(candles[i-1].Ts) {
			return fmt.Errorf("candles not strictly chronological at index %d", i)
		}
		gap := candles[i].Ts.Sub(candles[i-1].Ts)
		if gap > maxGap {
			return fmt.Errorf("gap of %s between candles at index %d exceeds %s", gap, i, maxGap)
		}
	}
	return nil
}
