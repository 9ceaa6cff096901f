package httpapi

import (
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"fxadvisor/internal/domain"
)

// PositionHandler implements the position lifecycle endpoints of spec.md
// §6: open (with optional signalId), adjust (SL/TP), close (full or
// partial, splitting the Position's id genealogy per domain.Position.Split).
type PositionHandler struct {
	positions domain.PositionStore
}

// NewPositionHandler builds a PositionHandler backed by positions.
func NewPositionHandler(positions domain.PositionStore) *PositionHandler {
	return &PositionHandler{positions: positions}
}

type openPositionRequest struct {
	UserID     string  `json:"userId"`
	SignalID   *string `json:"signalId,omitempty"`
	Pair       string  `json:"pair"`
	Timeframe  string  `json:"timeframe"`
	Direction  string  `json:"direction"`
	Entry      float64 `json:"entry"`
	Size       float64 `json:"size"`
	StopLoss   float64 `json:"stopLoss"`
	TakeProfit float64 `json:"takeProfit"`
}

// Open handles POST /api/positions.
func (h *PositionHandler) Open(c echo.Context) error {
	var req openPositionRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestResponse(c, "malformed request body")
	}
	if req.UserID == "" || req.Pair == "" || req.Timeframe == "" || req.Size <= 0 {
		return BadRequestResponse(c, "userId, pair, timeframe and a positive size are required")
	}

	origin := domain.ManualOrigin()
	if req.SignalID != nil && *req.SignalID != "" {
		origin = domain.FromSignalOrigin(*req.SignalID)
	}

	pos := domain.Position{
		ID: uuid.NewString(), UserID: req.UserID, Origin: origin,
		Pair: req.Pair, Timeframe: domain.Timeframe(req.Timeframe),
		Direction: domain.Direction(req.Direction), Entry: req.Entry,
		OpenedAt: time.Now().UTC(), Size: req.Size,
		StopLoss: req.StopLoss, TakeProfit: req.TakeProfit,
		Status: domain.PositionOpen,
	}
	if err := h.positions.Save(c.Request().Context(), pos); err != nil {
		return InternalServerErrorResponse(c, "failed to open position", err)
	}
	return CreatedResponse(c, pos)
}

type adjustPositionRequest struct {
	StopLoss   *float64 `json:"stopLoss,omitempty"`
	TakeProfit *float64 `json:"takeProfit,omitempty"`
}

// Adjust handles PATCH /api/positions/:id.
func (h *PositionHandler) Adjust(c echo.Context) error {
	id := c.Param("id")
	var req adjustPositionRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestResponse(c, "malformed request body")
	}

	ctx := c.Request().Context()
	pos, err := h.positions.GetByID(ctx, id)
	if err != nil {
		return InternalServerErrorResponse(c, "failed to load position", err)
	}
	if pos == nil {
		return NotFoundResponse(c, "position not found")
	}
	if pos.Status != domain.PositionOpen {
		return ConflictResponse(c, "position is not open")
	}

	if req.StopLoss != nil {
		pos.StopLoss = *req.StopLoss
	}
	if req.TakeProfit != nil {
		pos.TakeProfit = *req.TakeProfit
	}
	if err := h.positions.Update(ctx, *pos); err != nil {
		return InternalServerErrorResponse(c, "failed to adjust position", err)
	}
	return SuccessResponse(c, pos)
}

type closePositionRequest struct {
	ExitPrice float64  `json:"exitPrice"`
	ClosePct  *float64 `json:"closePct,omitempty"` // nil or 1.0 means full close
}

// Close handles POST /api/positions/:id/close. A closePct < 1 performs a
// partial close: the closed portion is persisted as closed, and a new
// remainder Position (same genealogy, new id) is persisted as open.
func (h *PositionHandler) Close(c echo.Context) error {
	id := c.Param("id")
	var req closePositionRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestResponse(c, "malformed request body")
	}

	closePct := 1.0
	if req.ClosePct != nil {
		closePct = *req.ClosePct
	}
	if closePct <= 0 || closePct > 1 {
		return BadRequestResponse(c, "closePct must be in (0, 1]")
	}

	ctx := c.Request().Context()
	pos, err := h.positions.GetByID(ctx, id)
	if err != nil {
		return InternalServerErrorResponse(c, "failed to load position", err)
	}
	if pos == nil {
		return NotFoundResponse(c, "position not found")
	}
	if pos.Status != domain.PositionOpen {
		return ConflictResponse(c, "position is not open")
	}

	now := time.Now().UTC()

	if closePct >= 1.0 {
		closed, _ := pos.Split(1.0, req.ExitPrice, now, "")
		if err := h.positions.Update(ctx, closed); err != nil {
			return InternalServerErrorResponse(c, "failed to close position", err)
		}
		return SuccessResponse(c, closed)
	}

	closed, remainder := pos.Split(closePct, req.ExitPrice, now, uuid.NewString())
	if err := h.positions.Update(ctx, closed); err != nil {
		return InternalServerErrorResponse(c, "failed to close position portion", err)
	}
	if err := h.positions.Save(ctx, remainder); err != nil {
		return InternalServerErrorResponse(c, "failed to save remainder position", err)
	}
	return SuccessResponse(c, map[string]domain.Position{"closed": closed, "remainder": remainder})
}

// GetByUser handles GET /api/users/:userId/positions.
func (h *PositionHandler) GetByUser(c echo.Context) error {
	userID := c.Param("userId")
	if userID == "" {
		return BadRequestResponse(c, "userId is required")
	}
	positions, err := h.positions.GetOpenPositionsByUser(c.Request().Context(), userID)
	if err != nil {
		return InternalServerErrorResponse(c, "failed to list positions", err)
	}
	return SuccessResponse(c, positions)
}
