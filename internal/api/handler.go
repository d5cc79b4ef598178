package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strconv"
	"time"

	"settlement-service/internal/models"
	"settlement-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// WebhookIngestor accepts a raw webhook payload and persists it exactly
// once. Implemented by *service.Ingestor.
type WebhookIngestor interface {
	Ingest(ctx context.Context, rawPayload []byte) (*models.InboundEvent, bool, error)
}

// SettlementReader serves the operator read surface. Implemented by
// *store.Store.
type SettlementReader interface {
	GetEventByExternalID(ctx context.Context, externalEventID string) (*models.InboundEvent, error)
	GetCommissionsByOrderID(ctx context.Context, orderID int64) ([]models.Commission, error)
	GetSplitByOrderID(ctx context.Context, orderID int64) (*models.CommissionSplit, error)
}

// RateLimiter is the shared-state webhook rate limit. Implemented by
// *redisclient.Client.
type RateLimiter interface {
	AllowWebhook(ctx context.Context, source string, limit int, window time.Duration) (bool, error)
}

// Handler contains HTTP handlers
type Handler struct {
	ingestor     WebhookIngestor
	reader       SettlementReader
	limiter      RateLimiter
	webhookToken string
	rateLimit    int
	logger       *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(ingestor WebhookIngestor, reader SettlementReader, limiter RateLimiter, webhookToken string, rateLimit int) *Handler {
	return &Handler{
		ingestor:     ingestor,
		reader:       reader,
		limiter:      limiter,
		webhookToken: webhookToken,
		rateLimit:    rateLimit,
		logger:       util.GetLogger(),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/payments", h.rateLimitMiddleware(), h.handleWebhook)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/orders/:id/commissions", h.getOrderCommissions)
		v1.GET("/events/:id", h.getEvent)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// handleWebhook receives provider payment notifications. The contract with
// the provider: authenticate, persist, answer 200 fast. Settlement happens
// asynchronously; a duplicate delivery is acknowledged without reprocessing.
func (h *Handler) handleWebhook(c *gin.Context) {
	token := c.GetHeader("X-Webhook-Token")
	if h.webhookToken == "" ||
		subtle.ConstantTimeCompare([]byte(token), []byte(h.webhookToken)) != 1 {
		util.WebhookAuthFailuresTotal.Inc()
		c.JSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid webhook token",
		})
		return
	}

	rawPayload, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Unreadable request body",
		})
		return
	}

	_, duplicate, err := h.ingestor.Ingest(c.Request.Context(), rawPayload)
	if err != nil {
		// 500 tells the provider to retry later; the event was not lost
		// from its side and nothing was persisted here.
		h.logger.Error("Webhook ingestion failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to record event",
		})
		return
	}

	if duplicate {
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}

// getOrderCommissions returns the commission rows and split state for an
// order, the operator's view of a settlement.
func (h *Handler) getOrderCommissions(c *gin.Context) {
	orderID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid order ID",
		})
		return
	}

	commissions, err := h.reader.GetCommissionsByOrderID(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load commissions",
			"details": err.Error(),
		})
		return
	}

	split, err := h.reader.GetSplitByOrderID(c.Request.Context(), orderID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to load split",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order_id":    orderID,
		"commissions": commissions,
		"split":       split,
	})
}

// getEvent returns an inbound event with its processing state
func (h *Handler) getEvent(c *gin.Context) {
	event, err := h.reader.GetEventByExternalID(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "Event not found",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, event)
}

// rateLimitMiddleware bounds webhook deliveries per source IP per minute.
// The counter lives in Redis so the limit holds across instances; on
// limiter failure the request is allowed, the provider must never be
// blocked by our own infrastructure.
func (h *Handler) rateLimitMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if h.limiter == nil || h.rateLimit <= 0 {
			c.Next()
			return
		}

		allowed, err := h.limiter.AllowWebhook(c.Request.Context(), c.ClientIP(), h.rateLimit, time.Minute)
		if err != nil {
			h.logger.Warn("Rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}
		if !allowed {
			util.WebhookRateLimitedTotal.Inc()
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "Rate limit exceeded",
			})
			return
		}

		c.Next()
	}
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
