package httpapi

import (
	"fmt"
	"time"

	"github.com/labstack/echo/v4"

	"fxadvisor/internal/domain"
	"fxadvisor/internal/marketcache"
)

// CandleHandler implements the candle ingestion endpoint of spec.md §6:
// "accepts {pair, timeframe, candles[]} and forwards to C1".
type CandleHandler struct {
	cache *marketcache.Cache
}

// NewCandleHandler builds a CandleHandler backed by cache.
func NewCandleHandler(cache *marketcache.Cache) *CandleHandler {
	return &CandleHandler{cache: cache}
}

type candleBarDTO struct {
	Ts     int64    `json:"ts"`
	Open   float64  `json:"o"`
	High   float64  `json:"h"`
	Low    float64  `json:"l"`
	Close  float64  `json:"c"`
	Volume *float64 `json:"v,omitempty"`
}

type ingestCandlesRequest struct {
	Pair      string         `json:"pair"`
	Timeframe string         `json:"timeframe"`
	Candles   []candleBarDTO `json:"candles"`
}

// Ingest handles POST /api/candles.
func (h *CandleHandler) Ingest(c echo.Context) error {
	var req ingestCandlesRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestResponse(c, "malformed request body")
	}
	if req.Pair == "" || req.Timeframe == "" || len(req.Candles) == 0 {
		return BadRequestResponse(c, "pair, timeframe and a non-empty candles array are required")
	}

	tf := domain.Timeframe(req.Timeframe)
	candles := make([]domain.Candle, len(req.Candles))
	for i, bar := range req.Candles {
		candles[i] = domain.Candle{
			Pair: req.Pair, Timeframe: tf, Ts: time.UnixMilli(bar.Ts).UTC(),
			Open: bar.Open, High: bar.High, Low: bar.Low, Close: bar.Close, Volume: bar.Volume,
			Source: "ingest",
		}
	}

	if err := h.cache.Upsert(c.Request().Context(), candles); err != nil {
		return WriteDomainError(c, "candle ingest", fmt.Errorf("ingest candles: %w", err))
	}
	return SuccessResponse(c, map[string]int{"accepted": len(candles)})
}
