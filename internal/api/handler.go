package api

import (
	"context"
	"net/http"
	"time"

	"storefront-orders/internal/auth"
	"storefront-orders/internal/inventory"
	"storefront-orders/internal/models"
	"storefront-orders/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ReadinessCheck is a dependency probed by /ready.
type ReadinessCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orderService *service.OrderService
	ledger       *inventory.Ledger
	tokens       *auth.Tokens
	checks       []ReadinessCheck
}

// NewHandler creates a new HTTP handler
func NewHandler(orderService *service.OrderService, ledger *inventory.Ledger, tokens *auth.Tokens, checks ...ReadinessCheck) *Handler {
	return &Handler{
		orderService: orderService,
		ledger:       ledger,
		tokens:       tokens,
		checks:       checks,
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1", authMiddleware(h.tokens))
	{
		v1.POST("/orders", h.createOrder)
		v1.GET("/orders", h.listOrders)
		v1.GET("/orders/:id", h.getOrder)
		v1.PATCH("/orders/:id/status", h.updateStatus)
		v1.PATCH("/orders/:id/cancel", h.cancelOrder)
		v1.PATCH("/orders/:id/assign-delivery", h.assignDelivery)
		v1.POST("/orders/:id/generate-otp", h.generateOtp)
		v1.POST("/orders/:id/confirm-delivery", h.confirmDelivery)

		v1.GET("/delivery/:id", h.getDeliveryPerson)
		v1.GET("/delivery/:id/orders", h.listDeliveryOrders)
		v1.PATCH("/delivery/:id/availability", h.setAvailability)

		v1.GET("/admin/inventory/health", h.inventoryHealth)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck probes every registered dependency.
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for _, check := range h.checks {
		if err := check.Check(ctx); err != nil {
			failed[check.Name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not ready",
			"failed": failed,
			"time":   time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest

	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	req.IdempotencyKey = c.GetHeader("Idempotency-Key")

	order, err := h.orderService.CreateOrder(c.Request.Context(), principal(c), &req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, order)
}

func (h *Handler) listOrders(c *gin.Context) {
	filter := models.OrderFilter{
		Status:           c.Query("status"),
		SellerID:         c.Query("sellerId"),
		UserID:           c.Query("userId"),
		DeliveryPersonID: c.Query("deliveryPersonId"),
	}

	orders, err := h.orderService.ListOrders(c.Request.Context(), principal(c), filter)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	order, err := h.orderService.GetOrder(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) updateStatus(c *gin.Context) {
	var req service.StatusUpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orderService.UpdateStatus(c.Request.Context(), principal(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) cancelOrder(c *gin.Context) {
	var req cancelRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "Invalid request body",
				"details": err.Error(),
			})
			return
		}
	}

	order, err := h.orderService.CancelOrder(c.Request.Context(), principal(c), c.Param("id"), req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) assignDelivery(c *gin.Context) {
	var req service.AssignDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orderService.AssignDelivery(c.Request.Context(), principal(c), c.Param("id"), req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) generateOtp(c *gin.Context) {
	otp, err := h.orderService.GenerateDeliveryOtp(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"otp": otp})
}

type confirmDeliveryRequest struct {
	Otp string `json:"otp" binding:"required"`
}

func (h *Handler) confirmDelivery(c *gin.Context) {
	var req confirmDeliveryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	order, err := h.orderService.ConfirmDelivery(c.Request.Context(), principal(c), c.Param("id"), req.Otp)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, order)
}

func (h *Handler) getDeliveryPerson(c *gin.Context) {
	person, err := h.orderService.GetDeliveryPerson(c.Request.Context(), principal(c), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, person)
}

// listDeliveryOrders lists the orders assigned to a delivery person.
func (h *Handler) listDeliveryOrders(c *gin.Context) {
	p := principal(c)
	id := c.Param("id")
	if !p.IsAdmin() && !p.IsDeliveryPerson(id) {
		respondError(c, service.ErrForbidden)
		return
	}

	orders, err := h.orderService.ListOrders(c.Request.Context(), p, models.OrderFilter{
		Status:           c.Query("status"),
		DeliveryPersonID: id,
	})
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"orders": orders,
		"count":  len(orders),
	})
}

type availabilityRequest struct {
	IsAvailable *bool `json:"isAvailable" binding:"required"`
}

func (h *Handler) setAvailability(c *gin.Context) {
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	person, err := h.orderService.SetAvailability(c.Request.Context(), principal(c), c.Param("id"), *req.IsAvailable)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, person)
}

func (h *Handler) inventoryHealth(c *gin.Context) {
	if !principal(c).IsAdmin() {
		respondError(c, service.ErrForbidden)
		return
	}

	health, err := h.ledger.Health(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, health)
}
