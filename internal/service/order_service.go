package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/pricing"
	"marketplace/internal/util"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// OrderOptions tune order creation
type OrderOptions struct {
	StrictPricing  bool
	PriceTolerance int64
	IdempotencyTTL time.Duration
}

// OrderService creates and reads orders
type OrderService struct {
	products ProductReader
	orders   OrderRepository
	ledger   *InventoryLedger
	events   EventPublisher
	guard    IdempotencyGuard
	opts     OrderOptions
	logger   *zap.Logger
	now      func() time.Time
}

// NewOrderService creates a new order service. events and guard may be nil.
func NewOrderService(
	products ProductReader,
	orders OrderRepository,
	ledger *InventoryLedger,
	events EventPublisher,
	guard IdempotencyGuard,
	opts OrderOptions,
) *OrderService {
	if opts.IdempotencyTTL <= 0 {
		opts.IdempotencyTTL = 24 * time.Hour
	}
	return &OrderService{
		products: products,
		orders:   orders,
		ledger:   ledger,
		events:   events,
		guard:    guard,
		opts:     opts,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// CreateOrderRequest is a cart snapshot plus shipping/payment envelope
type CreateOrderRequest struct {
	OrderItems      []OrderItemRequest     `json:"order_items"`
	ShippingAddress models.ShippingAddress `json:"shipping_address"`
	PaymentMethod   string                 `json:"payment_method"`
	ItemsPrice      int64                  `json:"items_price"`
	TaxPrice        int64                  `json:"tax_price"`
	ShippingPrice   int64                  `json:"shipping_price"`
	TotalPrice      int64                  `json:"total_price"`
	IdempotencyKey  string                 `json:"-"`
}

// OrderItemRequest represents a cart line
type OrderItemRequest struct {
	ProductID int64  `json:"product"`
	Name      string `json:"name"`
	Image     string `json:"image"`
	Price     int64  `json:"price"`
	Qty       int    `json:"qty"`
}

func (r *CreateOrderRequest) summary() pricing.Summary {
	return pricing.Summary{
		ItemsPrice:    r.ItemsPrice,
		ShippingPrice: r.ShippingPrice,
		TaxPrice:      r.TaxPrice,
		TotalPrice:    r.TotalPrice,
	}
}

// CreateOrder validates the cart, takes stock for every line and persists the
// order. Either all of it happens or none of it is observable.
func (s *OrderService) CreateOrder(ctx context.Context, user models.Identity, req *CreateOrderRequest) (order *models.Order, err error) {
	ctx, span := util.StartSpan(ctx, "OrderService.CreateOrder")
	defer func() { util.EndSpan(span, err) }()

	defer func() {
		if err != nil {
			util.OrdersFailedTotal.WithLabelValues(failureReason(err)).Inc()
		}
	}()

	if err := validateOrderItems(req); err != nil {
		return nil, err
	}

	if req.IdempotencyKey != "" {
		var replayed *models.Order
		var token string
		replayed, token, err = s.checkIdempotency(ctx, user, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if replayed != nil {
			return replayed, nil
		}
		if token != "" {
			defer func() { s.settleClaim(ctx, req.IdempotencyKey, token, order, err) }()
		}
	}

	products, err := s.loadProducts(ctx, req.OrderItems)
	if err != nil {
		return nil, err
	}

	if err := s.checkPricing(req, products); err != nil {
		return nil, err
	}

	lines := lo.Map(req.OrderItems, func(item OrderItemRequest, _ int) StockLine {
		return StockLine{ProductID: item.ProductID, Qty: item.Qty}
	})
	if err := s.ledger.DecrementAll(ctx, lines); err != nil {
		return nil, err
	}

	order = s.buildOrder(user, req)
	if err := s.orders.CreateOrder(ctx, order); err != nil {
		s.ledger.RestoreAll(ctx, lines)

		if errors.Is(err, models.ErrRequestInProgress) && req.IdempotencyKey != "" {
			if existing, lookupErr := s.orders.GetOrderByIdempotencyKey(ctx, req.IdempotencyKey); lookupErr == nil && existing != nil {
				return s.replay(user, existing)
			}
		}
		return nil, fmt.Errorf("failed to create order: %w", err)
	}

	util.OrdersCreatedTotal.Inc()
	s.logger.Info("Order created",
		zap.Int64("order_id", order.ID),
		zap.Int64("user_id", order.UserID),
		zap.Int64("total_price", order.TotalPrice),
		zap.Int("lines", len(order.Items)))

	s.publishOrderPlaced(ctx, order)

	return order, nil
}

func validateOrderItems(req *CreateOrderRequest) error {
	if len(req.OrderItems) == 0 {
		return models.NewValidationError("No order items")
	}

	seen := make(map[int64]struct{}, len(req.OrderItems))
	for i, item := range req.OrderItems {
		if item.ProductID <= 0 {
			return models.NewValidationError("order item %d: product is required", i)
		}
		if item.Qty <= 0 || item.Qty > pricing.MaxQty {
			return models.NewValidationError("order item %d: qty must be between 1 and %d", i, pricing.MaxQty)
		}
		if item.Price < 0 {
			return models.NewValidationError("order item %d: price must not be negative", i)
		}
		if _, dup := seen[item.ProductID]; dup {
			return models.NewValidationError("order item %d: product %d appears more than once", i, item.ProductID)
		}
		seen[item.ProductID] = struct{}{}
	}

	if err := pricing.Check(requestLines(req.OrderItems)); err != nil {
		return models.NewValidationError("order items: %v", err)
	}

	if req.ItemsPrice < 0 || req.TaxPrice < 0 || req.ShippingPrice < 0 || req.TotalPrice < 0 {
		return models.NewValidationError("order totals must not be negative")
	}

	if req.PaymentMethod == "" {
		return models.NewValidationError("payment method is required")
	}
	return nil
}

func requestLines(items []OrderItemRequest) []pricing.Line {
	return lo.Map(items, func(item OrderItemRequest, _ int) pricing.Line {
		return pricing.Line{Price: item.Price, Qty: item.Qty}
	})
}

// checkIdempotency returns the order already bound to key, or the claim token
// for a fresh request. An empty token with no order means no guard is in use.
func (s *OrderService) checkIdempotency(ctx context.Context, user models.Identity, key string) (*models.Order, string, error) {
	existing, err := s.orders.GetOrderByIdempotencyKey(ctx, key)
	if err != nil {
		return nil, "", fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		replayed, err := s.replay(user, existing)
		return replayed, "", err
	}

	token, orderID, err := s.claim(ctx, key)
	if err != nil {
		return nil, "", err
	}
	if orderID != 0 {
		existing, err := s.orders.GetOrderByID(ctx, orderID)
		if err != nil {
			return nil, "", err
		}
		replayed, err := s.replay(user, existing)
		return replayed, "", err
	}
	return nil, token, nil
}

func (s *OrderService) claim(ctx context.Context, key string) (string, int64, error) {
	if s.guard == nil {
		return "", 0, nil
	}

	token, orderID, err := s.guard.Claim(ctx, key, s.opts.IdempotencyTTL)
	if err != nil {
		// the unique idempotency_key column still rejects duplicates
		s.logger.Warn("Idempotency guard unavailable", zap.String("idempotency_key", key), zap.Error(err))
		return "", 0, nil
	}
	if token == "" && orderID == 0 {
		return "", 0, models.ErrRequestInProgress
	}
	return token, orderID, nil
}

func (s *OrderService) settleClaim(ctx context.Context, key, token string, order *models.Order, err error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()

	if err == nil && order != nil {
		if cErr := s.guard.Complete(ctx, key, token, order.ID, s.opts.IdempotencyTTL); cErr != nil {
			s.logger.Warn("Failed to complete idempotency key", zap.String("idempotency_key", key), zap.Error(cErr))
		}
		return
	}

	if rErr := s.guard.Release(ctx, key, token); rErr != nil {
		s.logger.Warn("Failed to release idempotency key", zap.String("idempotency_key", key), zap.Error(rErr))
	}
}

func (s *OrderService) replay(user models.Identity, existing *models.Order) (*models.Order, error) {
	if existing.UserID != user.ID {
		return nil, models.NewValidationError("idempotency key already used")
	}
	util.OrdersReplayedTotal.Inc()
	s.logger.Info("Duplicate order request detected", zap.Int64("order_id", existing.ID))
	return existing, nil
}

// loadProducts checks every line references an existing product
func (s *OrderService) loadProducts(ctx context.Context, items []OrderItemRequest) (map[int64]models.Product, error) {
	ids := lo.Map(items, func(item OrderItemRequest, _ int) int64 { return item.ProductID })

	products, err := s.products.GetProductsByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}

	byID := lo.KeyBy(products, func(p models.Product) int64 { return p.ID })
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return nil, fmt.Errorf("product %d: %w", id, models.ErrProductNotFound)
		}
	}
	return byID, nil
}

// checkPricing compares client prices with the catalog and the submitted totals
// with the shared pricing formula.
func (s *OrderService) checkPricing(req *CreateOrderRequest, products map[int64]models.Product) error {
	stale := lo.Filter(req.OrderItems, func(item OrderItemRequest, _ int) bool {
		return item.Price != products[item.ProductID].Price
	})
	for _, item := range stale {
		util.PriceMismatchTotal.WithLabelValues("line").Inc()
		s.logger.Warn("Order line price differs from catalog",
			zap.Int64("product_id", item.ProductID),
			zap.Int64("submitted", item.Price),
			zap.Int64("catalog", products[item.ProductID].Price))
	}

	computed := pricing.Summarize(requestLines(req.OrderItems))
	drift := pricing.Verify(req.summary(), computed, s.opts.PriceTolerance)
	for _, m := range drift {
		util.PriceMismatchTotal.WithLabelValues(m.Field).Inc()
		s.logger.Warn("Submitted order total differs from computed",
			zap.String("field", m.Field),
			zap.Int64("submitted", m.Submitted),
			zap.Int64("computed", m.Computed))
	}

	if !s.opts.StrictPricing {
		return nil
	}
	if len(stale) > 0 {
		return models.NewValidationError("price of product %d does not match catalog", stale[0].ProductID)
	}
	if len(drift) > 0 {
		return models.NewValidationError("%s %d does not match computed %d", drift[0].Field, drift[0].Submitted, drift[0].Computed)
	}
	return nil
}

func (s *OrderService) buildOrder(user models.Identity, req *CreateOrderRequest) *models.Order {
	now := s.now()

	order := &models.Order{
		UserID:        user.ID,
		ShippingAddr:  req.ShippingAddress,
		PaymentMethod: req.PaymentMethod,
		ItemsPrice:    req.ItemsPrice,
		TaxPrice:      req.TaxPrice,
		ShippingPrice: req.ShippingPrice,
		TotalPrice:    req.TotalPrice,
		// no payment gateway: every order is settled on creation
		IsPaid:      true,
		PaidAt:      &now,
		IsDelivered: true,
		DeliveredAt: &now,
		CreatedAt:   now,
		Items: lo.Map(req.OrderItems, func(item OrderItemRequest, _ int) models.OrderLine {
			return models.OrderLine{
				ProductID: item.ProductID,
				Name:      item.Name,
				Image:     item.Image,
				Price:     item.Price,
				Qty:       item.Qty,
			}
		}),
	}
	if req.IdempotencyKey != "" {
		order.IdempotencyKey = lo.ToPtr(req.IdempotencyKey)
	}
	return order
}

func (s *OrderService) publishOrderPlaced(ctx context.Context, order *models.Order) {
	if s.events == nil {
		return
	}

	event := &models.OrderPlacedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderPlaced,
			Timestamp: s.now(),
		},
		OrderID:    order.ID,
		UserID:     order.UserID,
		TotalPrice: order.TotalPrice,
		Items: lo.Map(order.Items, func(l models.OrderLine, _ int) models.OrderItemData {
			return models.OrderItemData{ProductID: l.ProductID, Quantity: l.Qty, UnitPrice: l.Price}
		}),
	}

	if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Int64("order_id", order.ID), zap.Error(err))
	}
}

// GetOrder retrieves an order visible to user
func (s *OrderService) GetOrder(ctx context.Context, user models.Identity, orderID int64) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.GetOrder")
	defer span.End()

	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != user.ID && !user.IsAdmin {
		return nil, models.ErrForbidden
	}
	return order, nil
}

// ListUserOrders returns the user's orders, newest first
func (s *OrderService) ListUserOrders(ctx context.Context, user models.Identity) ([]models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ListUserOrders")
	defer span.End()

	return s.orders.GetOrdersByUserID(ctx, user.ID)
}
