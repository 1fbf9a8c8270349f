package service

import (
	"context"
	"time"

	"marketplace/internal/models"
)

// ProductReader is the read side of the catalog
type ProductReader interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProducts(ctx context.Context) ([]models.Product, error)
	GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error)
}

// StockStore mutates stock with conditional writes only
type StockStore interface {
	DecrementStock(ctx context.Context, productID int64, quantity int) error
	IncrementStock(ctx context.Context, productID int64, quantity int) error
}

type OrderRepository interface {
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error)
	GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error)
}

type ReviewRepository interface {
	RecordReview(ctx context.Context, review *models.Review) (*models.RatingSummary, error)
	RecomputeRating(ctx context.Context, productID int64) (*models.RatingSummary, error)
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishReviewSubmitted(ctx context.Context, event *models.ReviewSubmittedEvent) error
}

// IdempotencyGuard serializes requests sharing an Idempotency-Key
type IdempotencyGuard interface {
	Claim(ctx context.Context, key string, ttl time.Duration) (token string, orderID int64, err error)
	Complete(ctx context.Context, key, token string, orderID int64, ttl time.Duration) error
	Release(ctx context.Context, key, token string) error
}
