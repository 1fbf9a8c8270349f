package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// Identity is the verified caller handed to the core by the auth layer.
type Identity struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	IsAdmin bool   `json:"is_admin"`
}

// Product represents a catalog entry together with its review aggregate
type Product struct {
	ID           int64     `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Image        string    `db:"image" json:"image"`
	Brand        string    `db:"brand" json:"brand"`
	Category     string    `db:"category" json:"category"`
	Description  string    `db:"description" json:"description"`
	Price        int64     `db:"price" json:"price"`
	CountInStock int       `db:"count_in_stock" json:"count_in_stock"`
	Rating       float64   `db:"rating" json:"rating"`
	NumReviews   int       `db:"num_reviews" json:"num_reviews"`
	Reviews      []Review  `db:"-" json:"reviews"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// RatingSummary is the review aggregate stored on a product row
type RatingSummary struct {
	Rating     float64 `db:"rating" json:"rating"`
	NumReviews int     `db:"num_reviews" json:"num_reviews"`
}

// Review is owned by its product. Name is snapshotted at submission.
type Review struct {
	ID        int64     `db:"id" json:"id"`
	ProductID int64     `db:"product_id" json:"product_id"`
	OrderID   int64     `db:"order_id" json:"order_id"`
	UserID    int64     `db:"user_id" json:"user"`
	Name      string    `db:"name" json:"name"`
	Rating    int       `db:"rating" json:"rating"`
	Comment   string    `db:"comment" json:"comment"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Order represents a placed order. Prices are stored as submitted.
type Order struct {
	ID             int64           `db:"id" json:"id"`
	UserID         int64           `db:"user_id" json:"user"`
	Items          []OrderLine     `db:"-" json:"order_items"`
	ShippingAddr   ShippingAddress `db:"shipping_address" json:"shipping_address"`
	PaymentMethod  string          `db:"payment_method" json:"payment_method"`
	ItemsPrice     int64           `db:"items_price" json:"items_price"`
	TaxPrice       int64           `db:"tax_price" json:"tax_price"`
	ShippingPrice  int64           `db:"shipping_price" json:"shipping_price"`
	TotalPrice     int64           `db:"total_price" json:"total_price"`
	IsPaid         bool            `db:"is_paid" json:"is_paid"`
	PaidAt         *time.Time      `db:"paid_at" json:"paid_at,omitempty"`
	IsDelivered    bool            `db:"is_delivered" json:"is_delivered"`
	DeliveredAt    *time.Time      `db:"delivered_at" json:"delivered_at,omitempty"`
	IdempotencyKey *string         `db:"idempotency_key" json:"-"`
	CreatedAt      time.Time       `db:"created_at" json:"created_at"`
}

// OrderLine is one purchased item. ProductID is a lookup key only.
type OrderLine struct {
	ID        int64  `db:"id" json:"id"`
	OrderID   int64  `db:"order_id" json:"-"`
	ProductID int64  `db:"product_id" json:"product"`
	Name      string `db:"name" json:"name"`
	Image     string `db:"image" json:"image"`
	Price     int64  `db:"price" json:"price"`
	Qty       int    `db:"qty" json:"qty"`
	IsRated   bool   `db:"is_rated" json:"is_rated"`
}

// FindLine returns the line for productID, or nil.
func (o *Order) FindLine(productID int64) *OrderLine {
	for i := range o.Items {
		if o.Items[i].ProductID == productID {
			return &o.Items[i]
		}
	}
	return nil
}

// ShippingAddress is persisted as a JSONB column
type ShippingAddress struct {
	Address    string `json:"address"`
	City       string `json:"city"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a ShippingAddress) Value() (driver.Value, error) {
	return json.Marshal(a)
}

func (a *ShippingAddress) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*a = ShippingAddress{}
		return nil
	case []byte:
		return json.Unmarshal(v, a)
	case string:
		return json.Unmarshal([]byte(v), a)
	default:
		return fmt.Errorf("unsupported shipping address type %T", src)
	}
}

// ProcessedEvent for idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
