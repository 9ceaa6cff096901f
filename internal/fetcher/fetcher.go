// Package fetcher implements domain.MarketDataFetcher, generalizing the
// teacher's two-tier price lookup (internal/service/bodyguard_service.go's
// CheckPositionsFast: try WebSocket first, fall back to REST) from a
// single current price per symbol to a full OHLCV range per (pair,
// timeframe).
package fetcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"fxadvisor/internal/domain"
)

// WebSocketSource is the fast-path quote feed: a single latest price per
// symbol, analogous to the teacher's domain.AIService.GetWebSocketPrices.
// Optional — nil disables the fast path and every request goes straight to
// REST.
type WebSocketSource interface {
	LatestPrices(ctx context.Context, symbols []string) (map[string]float64, error)
}

// Fetcher implements domain.MarketDataFetcher against a Binance-style
// REST klines endpoint, with an optional WebSocket fast path for requests
// that only need the most recent bar.
type Fetcher struct {
	httpClient *http.Client
	klinesURL  string // e.g. "https://fapi.binance.com/fapi/v1/klines"
	ws         WebSocketSource
}

// New builds a Fetcher. ws may be nil.
func New(klinesURL string, ws WebSocketSource) *Fetcher {
	return &Fetcher{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		klinesURL:  klinesURL,
		ws:         ws,
	}
}

// Fetch returns candles for (pair, tf) in [from, to]. When the requested
// window is a single, still-open bar in the near present, it tries the
// WebSocket fast path first and only falls back to REST klines on error or
// a miss — mirroring the teacher's CheckPositionsFast fallback order.
func (f *Fetcher) Fetch(ctx context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	if f.ws != nil && to.Sub(from) <= tf.Duration() && time.Since(to) < tf.Duration() {
		if candle, ok := f.fetchViaWebSocket(ctx, pair, tf, to); ok {
			return []domain.Candle{candle}, nil
		}
	}
	return f.fetchViaREST(ctx, pair, tf, from, to)
}

func (f *Fetcher) fetchViaWebSocket(ctx context.Context, pair string, tf domain.Timeframe, asOf time.Time) (domain.Candle, bool) {
	symbol := normalizeSymbol(pair)
	prices, err := f.ws.LatestPrices(ctx, []string{symbol})
	if err != nil {
		log.Printf("[WARN] fetcher: websocket price fetch failed (fallback to REST): %v", err)
		return domain.Candle{}, false
	}
	price, ok := prices[symbol]
	if !ok {
		return domain.Candle{}, false
	}
	return domain.Candle{
		Pair: pair, Timeframe: tf, Ts: asOf.Truncate(tf.Duration()),
		Open: price, High: price, Low: price, Close: price,
		Source: "websocket", RealTime: true, ExpiresAt: asOf.Add(tf.CacheTTL()),
	}, true
}

type klineRow [12]any

func (f *Fetcher) fetchViaREST(ctx context.Context, pair string, tf domain.Timeframe, from, to time.Time) ([]domain.Candle, error) {
	if f.klinesURL == "" {
		return nil, domain.NewError("fetcher.Fetch", domain.KindUnavailable, fmt.Errorf("klines URL not configured"))
	}

	interval, err := binanceInterval(tf)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}

	url := fmt.Sprintf("%s?symbol=%s&interval=%s&startTime=%d&endTime=%d&limit=1000",
		f.klinesURL, normalizeSymbol(pair), interval, from.UnixMilli(), to.UnixMilli())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build klines request: %w", err)
	}

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, domain.NewError("fetcher.Fetch", domain.KindTransient, fmt.Errorf("klines request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read klines response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, domain.NewError("fetcher.Fetch", domain.KindTransient, fmt.Errorf("klines API error (status %d): %s", resp.StatusCode, string(body)))
	}

	var rows []klineRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("failed to unmarshal klines response: %w", err)
	}

	candles := make([]domain.Candle, 0, len(rows))
	for _, row := range rows {
		c, err := parseKlineRow(pair, tf, row)
		if err != nil {
			log.Printf("[WARN] fetcher: skipping malformed kline row for %s %s: %v", pair, tf, err)
			continue
		}
		candles = append(candles, c)
	}
	return candles, nil
}

func parseKlineRow(pair string, tf domain.Timeframe, row klineRow) (domain.Candle, error) {
	openTimeMs, ok := row[0].(float64)
	if !ok {
		return domain.Candle{}, fmt.Errorf("unexpected open time field")
	}
	open, err := parseFloatField(row[1])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("open: %w", err)
	}
	high, err := parseFloatField(row[2])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("high: %w", err)
	}
	low, err := parseFloatField(row[3])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("low: %w", err)
	}
	closePrice, err := parseFloatField(row[4])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("close: %w", err)
	}
	volume, err := parseFloatField(row[5])
	if err != nil {
		return domain.Candle{}, fmt.Errorf("volume: %w", err)
	}

	ts := time.UnixMilli(int64(openTimeMs)).UTC()
	return domain.Candle{
		Pair: pair, Timeframe: tf, Ts: ts,
		Open: open, High: high, Low: low, Close: closePrice, Volume: &volume,
		Source: "rest", RealTime: false,
	}, nil
}

func parseFloatField(v any) (float64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, fmt.Errorf("expected string field, got %T", v)
	}
	return strconv.ParseFloat(s, 64)
}

// normalizeSymbol turns "EUR/USD" into the exchange-style "EURUSD".
func normalizeSymbol(pair string) string {
	return strings.ToUpper(strings.ReplaceAll(pair, "/", ""))
}

func binanceInterval(tf domain.Timeframe) (string, error) {
	switch tf {
	case domain.Timeframe1Min:
		return "1m", nil
	case domain.Timeframe5Min:
		return "5m", nil
	case domain.Timeframe15Min:
		return "15m", nil
	case domain.Timeframe1Hour:
		return "1h", nil
	case domain.Timeframe4Hour:
		return "4h", nil
	case domain.Timeframe1Day:
		return "1d", nil
	case domain.Timeframe1Week:
		return "1w", nil
	default:
		return "", fmt.Errorf("unsupported timeframe %q", tf)
	}
}
