package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/productowl/productowl/internal/tracking"
)

type trackingHandler struct {
	deps Deps
}

type subscribeRequest struct {
	ProductID        string `json:"product_id" binding:"required"`
	SubscriberHandle string `json:"subscriber_handle" binding:"required"`
	ThresholdPrice   string `json:"threshold_price"`
}

func (h *trackingHandler) subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	productID, err := uuid.Parse(req.ProductID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid product_id"})
		return
	}

	var threshold *decimal.Decimal
	if req.ThresholdPrice != "" {
		t, parseErr := decimal.NewFromString(req.ThresholdPrice)
		if parseErr != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid threshold_price"})
			return
		}
		threshold = &t
	}

	sub, err := h.deps.Tracking.Subscribe(c.Request.Context(), req.SubscriberHandle, productID, threshold)
	if err != nil {
		h.deps.Log.Error("subscribe failed", "product_id", productID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to subscribe"})
		return
	}
	c.JSON(http.StatusCreated, sub)
}

func (h *trackingHandler) list(c *gin.Context) {
	handle := c.Query("subscriber")
	if handle == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "subscriber query parameter required"})
		return
	}
	subs, err := h.deps.Tracking.ForSubscriber(c.Request.Context(), handle)
	if err != nil {
		h.deps.Log.Error("list subscriptions failed", "subscriber", handle, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch subscriptions"})
		return
	}
	c.JSON(http.StatusOK, subs)
}

// unsubscribe is idempotent from the caller's point of view: a missing or
// already-unsubscribed subscription still answers success.
func (h *trackingHandler) unsubscribe(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if err := h.deps.Tracking.Unsubscribe(c.Request.Context(), id); err != nil {
		if !errors.Is(err, tracking.ErrNotFound) {
			h.deps.Log.Error("unsubscribe failed", "id", id, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to unsubscribe"})
			return
		}
	}
	c.Status(http.StatusNoContent)
}
