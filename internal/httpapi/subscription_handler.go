package httpapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"fxadvisor/internal/domain"
)

// SubscriptionHandler implements the Subscription CRUD endpoints of
// spec.md §6, enforcing domain.MaxSubscriptionsPerUser and the
// (userId,pair,timeframe) uniqueness constraint.
type SubscriptionHandler struct {
	subs domain.SubscriptionStore
}

// NewSubscriptionHandler builds a SubscriptionHandler backed by subs.
func NewSubscriptionHandler(subs domain.SubscriptionStore) *SubscriptionHandler {
	return &SubscriptionHandler{subs: subs}
}

type createSubscriptionRequest struct {
	UserID    string  `json:"userId"`
	Pair      string  `json:"pair"`
	Timeframe string  `json:"timeframe"`
	ChannelID *string `json:"channelId,omitempty"`
}

// Create handles POST /api/subscriptions.
func (h *SubscriptionHandler) Create(c echo.Context) error {
	var req createSubscriptionRequest
	if err := c.Bind(&req); err != nil {
		return BadRequestResponse(c, "malformed request body")
	}
	if req.UserID == "" || req.Pair == "" || req.Timeframe == "" {
		return BadRequestResponse(c, "userId, pair and timeframe are required")
	}

	ctx := c.Request().Context()
	count, err := h.subs.CountByUser(ctx, req.UserID)
	if err != nil {
		return InternalServerErrorResponse(c, "failed to count subscriptions", err)
	}
	if count >= domain.MaxSubscriptionsPerUser {
		return ConflictResponse(c, domain.ErrSubscriptionCapExceeded.Error())
	}

	sub := domain.Subscription{
		ID: uuid.NewString(), UserID: req.UserID, Pair: req.Pair,
		Timeframe: domain.Timeframe(req.Timeframe), ChannelID: req.ChannelID,
		CreatedAt: time.Now().UTC(),
	}
	if err := h.subs.Create(ctx, sub); err != nil {
		if errors.Is(err, domain.ErrDuplicateSubscription) {
			return ConflictResponse(c, domain.ErrDuplicateSubscription.Error())
		}
		return InternalServerErrorResponse(c, "failed to create subscription", err)
	}
	return CreatedResponse(c, sub)
}

// Delete handles DELETE /api/subscriptions/:id.
func (h *SubscriptionHandler) Delete(c echo.Context) error {
	id := c.Param("id")
	if id == "" {
		return BadRequestResponse(c, "subscription id is required")
	}
	if err := h.subs.Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return NotFoundResponse(c, "subscription not found")
		}
		return InternalServerErrorResponse(c, "failed to delete subscription", err)
	}
	return SuccessResponse(c, map[string]string{"id": id})
}

// ListByUser handles GET /api/users/:userId/subscriptions.
func (h *SubscriptionHandler) ListByUser(c echo.Context) error {
	userID := c.Param("userId")
	if userID == "" {
		return BadRequestResponse(c, "userId is required")
	}
	subs, err := h.subs.ListByUser(c.Request().Context(), userID)
	if err != nil {
		return InternalServerErrorResponse(c, fmt.Sprintf("failed to list subscriptions for %s", userID), err)
	}
	return SuccessResponse(c, subs)
}
