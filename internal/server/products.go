package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/productowl/productowl/internal/products"
	"github.com/productowl/productowl/internal/scraper"
)

type productHandler struct {
	deps Deps
}

func (h *productHandler) list(c *gin.Context) {
	list, err := h.deps.Products.GetProducts(c.Request.Context())
	if err != nil {
		h.deps.Log.Error("list products failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch products"})
		return
	}
	c.JSON(http.StatusOK, list)
}

func (h *productHandler) get(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	p, err := h.deps.Products.GetProductByID(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, products.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h.deps.Log.Error("get product failed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch product"})
		return
	}
	c.JSON(http.StatusOK, p)
}

func (h *productHandler) history(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}

	var cursor time.Time
	if raw := c.Query("cursor"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid cursor"})
			return
		}
		cursor = parsed
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))

	obs, next, err := h.deps.Products.History(c.Request.Context(), id, cursor, limit)
	if err != nil {
		h.deps.Log.Error("history failed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch history"})
		return
	}

	resp := gin.H{"observations": obs}
	if next != nil {
		resp["next_cursor"] = next.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

type scrapeRequest struct {
	SourceURL string `json:"source_url" binding:"required,url"`
}

// scrape runs the fetch → extract path once, synchronously, creating the
// product. The failure reason is surfaced so the client can tell "site
// unreachable" from "page structure unrecognized".
func (h *productHandler) scrape(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	p, err := h.deps.Runner.ScrapeOne(c.Request.Context(), req.SourceURL)
	if err != nil {
		status, reason := scrapeFailure(err)
		c.JSON(status, gin.H{"error": reason})
		return
	}
	c.JSON(http.StatusCreated, p)
}

// refresh re-checks one product immediately.
func (h *productHandler) refresh(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	att := h.deps.Runner.CheckProduct(c.Request.Context(), id)
	if att.Err != nil {
		status, reason := scrapeFailure(att.Err)
		c.JSON(status, gin.H{"error": reason, "outcome": att.Outcome})
		return
	}
	c.JSON(http.StatusOK, gin.H{"outcome": att.Outcome})
}

func (h *productHandler) remove(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.deps.Products.DeleteProduct(c.Request.Context(), id); err != nil {
		if errors.Is(err, products.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		h.deps.Log.Error("delete product failed", "id", id, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete product"})
		return
	}
	c.Status(http.StatusNoContent)
}

// runBatch triggers a full re-check cycle on demand.
func (h *productHandler) runBatch(c *gin.Context) {
	summary, err := h.deps.Runner.RunBatch(c.Request.Context())
	if err != nil {
		h.deps.Log.Error("on-demand batch failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "batch aborted", "summary": summary})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// scrapeFailure maps pipeline errors onto HTTP status plus a reason code.
func scrapeFailure(err error) (int, string) {
	var fe *scraper.FetchError
	if errors.As(err, &fe) {
		switch fe.Outcome {
		case scraper.OutcomeTimeout:
			return http.StatusGatewayTimeout, "site did not respond in time"
		case scraper.OutcomeBlocked:
			return http.StatusBadGateway, "site served a challenge page"
		case scraper.OutcomeLaunchError:
			return http.StatusInternalServerError, "browser failed to start"
		default:
			return http.StatusBadGateway, "site unreachable"
		}
	}
	var pe *scraper.ParseError
	if errors.As(err, &pe) {
		if pe.Kind == scraper.KindUnexpectedPage {
			return http.StatusUnprocessableEntity, "page structure unrecognized"
		}
		return http.StatusUnprocessableEntity, "missing field: " + pe.Field
	}
	return http.StatusInternalServerError, "scrape failed"
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return uuid.Nil, false
	}
	return id, true
}
