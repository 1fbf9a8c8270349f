package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/pricing"
	"marketplace/internal/service"
	"marketplace/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// IdempotencyHeader carries the client's order idempotency key
const IdempotencyHeader = "Idempotency-Key"

type OrderService interface {
	CreateOrder(ctx context.Context, user models.Identity, req *service.CreateOrderRequest) (*models.Order, error)
	GetOrder(ctx context.Context, user models.Identity, orderID int64) (*models.Order, error)
	ListUserOrders(ctx context.Context, user models.Identity) ([]models.Order, error)
}

type ReviewService interface {
	SubmitReview(ctx context.Context, user models.Identity, req *service.SubmitReviewRequest) (*models.Review, error)
}

type CatalogService interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, id int64) (*models.Product, error)
}

// Pinger is a dependency checked by the readiness endpoint
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler contains HTTP handlers
type Handler struct {
	orders         OrderService
	reviews        ReviewService
	catalog        CatalogService
	verifier       *TokenVerifier
	dependencies   map[string]Pinger
	requestTimeout time.Duration
	logger         *zap.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(
	orders OrderService,
	reviews ReviewService,
	catalog CatalogService,
	verifier *TokenVerifier,
	requestTimeout time.Duration,
) *Handler {
	return &Handler{
		orders:         orders,
		reviews:        reviews,
		catalog:        catalog,
		verifier:       verifier,
		dependencies:   map[string]Pinger{},
		requestTimeout: requestTimeout,
		logger:         util.GetLogger(),
	}
}

// AddReadinessCheck registers a dependency the readiness endpoint must reach
func (h *Handler) AddReadinessCheck(name string, p Pinger) {
	h.dependencies[name] = p
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	v1 := router.Group("/api/v1")
	v1.Use(timeoutMiddleware(h.requestTimeout))
	{
		v1.GET("/products", h.listProducts)
		v1.GET("/products/:id", h.getProduct)
		v1.POST("/cart/summary", h.cartSummary)

		authed := v1.Group("")
		authed.Use(AuthMiddleware(h.verifier))
		{
			authed.POST("/orders", h.createOrder)
			authed.GET("/orders/history", h.listMyOrders)
			authed.GET("/orders/:id", h.getOrder)
			authed.POST("/orders/:id/reviews", h.submitReview)
		}
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck reports ready only when every registered dependency answers
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failing := gin.H{}
	for name, dep := range h.dependencies {
		if err := dep.Ping(ctx); err != nil {
			failing[name] = err.Error()
		}
	}
	if len(failing) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "not ready",
			"failing": failing,
			"time":    time.Now().Unix(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

func (h *Handler) listProducts(c *gin.Context) {
	products, err := h.catalog.ListProducts(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "Product List", products)
}

func (h *Handler) getProduct(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	product, err := h.catalog.GetProduct(c.Request.Context(), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "Product Detail", product)
}

type cartSummaryRequest struct {
	Items []pricing.Line `json:"items"`
}

// cartSummary prices a cart with the same formula orders are checked against
func (h *Handler) cartSummary(c *gin.Context) {
	var req cartSummaryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if err := pricing.Check(req.Items); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid cart lines", err)
		return
	}

	respond(c, http.StatusOK, "Cart Summary", pricing.Summarize(req.Items))
}

// createOrder handles order creation
func (h *Handler) createOrder(c *gin.Context) {
	var req service.CreateOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.IdempotencyKey = c.GetHeader(IdempotencyHeader)

	order, err := h.orders.CreateOrder(c.Request.Context(), currentIdentity(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusCreated, "Order Created", order)
}

// getOrder handles get order by ID
func (h *Handler) getOrder(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}

	order, err := h.orders.GetOrder(c.Request.Context(), currentIdentity(c), id)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "Order Details", order)
}

func (h *Handler) listMyOrders(c *gin.Context) {
	orders, err := h.orders.ListUserOrders(c.Request.Context(), currentIdentity(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusOK, "My Orders", orders)
}

func (h *Handler) submitReview(c *gin.Context) {
	orderID, ok := pathID(c)
	if !ok {
		return
	}

	var req service.SubmitReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	req.OrderID = orderID

	review, err := h.reviews.SubmitReview(c.Request.Context(), currentIdentity(c), &req)
	if err != nil {
		h.writeError(c, err)
		return
	}
	respond(c, http.StatusCreated, "Review Added", review)
}

func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		abortWithError(c, http.StatusBadRequest, "Invalid id", nil)
		return 0, false
	}
	return id, true
}

// timeoutMiddleware bounds every request's context
func timeoutMiddleware(timeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if timeout <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
		defer cancel()

		c.Request = c.Request.WithContext(ctx)
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
