package api

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"fulfillment-service/internal/models"
	"fulfillment-service/internal/service"
	"fulfillment-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handler contains HTTP handlers
type Handler struct {
	orders    *service.OrderService
	payments  *service.PaymentService
	callbacks *service.CallbackService
	admin     *service.AdminService
	secret    string
	logger    *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders *service.OrderService,
	payments *service.PaymentService,
	callbacks *service.CallbackService,
	admin *service.AdminService,
	secret string,
) *Handler {
	return &Handler{
		orders:    orders,
		payments:  payments,
		callbacks: callbacks,
		admin:     admin,
		secret:    secret,
		logger:    util.GetLogger(),
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

	v1 := router.Group("/api/v1")
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders/:code", h.getOrder)

		admin := v1.Group("/admin", h.requireSecret)
		{
			admin.POST("/downloads", h.startDownload)
			admin.POST("/tasks/:id/reset", h.resetTask)
		}
	}

	webhook := router.Group("/webhook")
	{
		webhook.POST("/payment", h.paymentWebhook)
		webhook.POST("/download-complete", h.requireSecret, h.downloadCallback)
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

// createOrder handles order placement
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	resp, err := h.orders.CreateOrder(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Failed to create order",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// getOrder handles order status lookup by order code
func (h *Handler) getOrder(c *gin.Context) {
	code := c.Param("code")

	order, tasks, err := h.orders.GetOrderByCode(c.Request.Context(), code)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to load order",
		})
		return
	}
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error": "Order not found",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"order": order,
		"tasks": tasks,
	})
}

// paymentWebhook handles gateway payment notifications. The gateway is
// always acknowledged with success, whatever the notification did;
// anything else makes it retry a notification we already understood.
func (h *Handler) paymentWebhook(c *gin.Context) {
	var notif models.PaymentNotification

	if err := c.ShouldBindJSON(&notif); err != nil {
		h.logger.Warn("Malformed payment notification", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	result, err := h.payments.ProcessNotification(c.Request.Context(), &notif)
	if err != nil {
		h.logger.Error("Payment notification processing failed", zap.Error(err))
		c.JSON(http.StatusOK, gin.H{"success": true})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"outcome": result.Outcome,
	})
}

// downloadCallback handles completion reports from the download worker
func (h *Handler) downloadCallback(c *gin.Context) {
	var cb service.DownloadCallback

	if err := c.ShouldBindJSON(&cb); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	if err := h.callbacks.HandleCallback(c.Request.Context(), &cb); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to process callback",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true})
}

// startDownload handles standalone permanent download requests
func (h *Handler) startDownload(c *gin.Context) {
	var req service.StartDownloadRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	task, err := h.admin.StartDownload(c.Request.Context(), &req)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Failed to start download",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"task": task})
}

// resetTask handles administrative replay of a failed task
func (h *Handler) resetTask(c *gin.Context) {
	taskID, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid task ID",
		})
		return
	}

	task, err := h.admin.ResetTask(c.Request.Context(), taskID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{
			"error":   "Failed to reset task",
			"details": err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"task": task})
}

// requireSecret guards callback and admin routes with the shared key.
// Accepts either "Authorization: Apikey <key>" or "X-Api-Key: <key>".
func (h *Handler) requireSecret(c *gin.Context) {
	if h.secret == "" {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"error": "API secret is not configured",
		})
		return
	}

	key := c.GetHeader("X-Api-Key")
	if key == "" {
		auth := c.GetHeader("Authorization")
		if strings.HasPrefix(auth, "Apikey ") {
			key = strings.TrimPrefix(auth, "Apikey ")
		}
	}

	if key != h.secret {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error": "Invalid API key",
		})
		return
	}

	c.Next()
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
