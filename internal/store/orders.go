package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/samber/lo"
)

const orderColumns = `id, user_id, shipping_address, payment_method, items_price, tax_price,
	shipping_price, total_price, is_paid, paid_at, is_delivered, delivered_at, idempotency_key, created_at`

const lineColumns = `id, order_id, product_id, name, image, price, qty, is_rated`

const uniqueViolation = "23505"

// CreateOrder inserts an order and its lines in one transaction
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return storageErr("begin create order", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	err = tx.GetContext(ctx, &order.ID, `
		INSERT INTO orders (user_id, shipping_address, payment_method, items_price, tax_price,
			shipping_price, total_price, is_paid, paid_at, is_delivered, delivered_at, idempotency_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`,
		order.UserID, order.ShippingAddr, order.PaymentMethod, order.ItemsPrice, order.TaxPrice,
		order.ShippingPrice, order.TotalPrice, order.IsPaid, order.PaidAt, order.IsDelivered,
		order.DeliveredAt, order.IdempotencyKey, order.CreatedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
			return fmt.Errorf("insert order: %w", models.ErrRequestInProgress)
		}
		return storageErr("insert order", err)
	}

	for i := range order.Items {
		line := &order.Items[i]
		line.OrderID = order.ID
		err = tx.GetContext(ctx, &line.ID, `
			INSERT INTO order_lines (order_id, product_id, name, image, price, qty, is_rated)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			RETURNING id`,
			line.OrderID, line.ProductID, line.Name, line.Image, line.Price, line.Qty, line.IsRated)
		if err != nil {
			return storageErr("insert order line", err)
		}
	}

	if err = tx.Commit(); err != nil {
		return storageErr("commit create order", err)
	}
	return nil
}

// GetOrderByID retrieves an order with its lines
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT "+orderColumns+" FROM orders WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("order %d: %w", id, models.ErrOrderNotFound)
	}
	if err != nil {
		return nil, storageErr("get order", err)
	}

	lines, err := s.getOrderLines(ctx, []int64{id})
	if err != nil {
		return nil, err
	}
	order.Items = lines[id]

	return &order, nil
}

// GetOrderByIdempotencyKey returns nil, nil when no order holds the key
func (s *Store) GetOrderByIdempotencyKey(ctx context.Context, key string) (*models.Order, error) {
	var id int64
	err := s.db.GetContext(ctx, &id, "SELECT id FROM orders WHERE idempotency_key = $1", key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, storageErr("get order by idempotency key", err)
	}
	return s.GetOrderByID(ctx, id)
}

// GetOrdersByUserID retrieves orders for a user, newest first
func (s *Store) GetOrdersByUserID(ctx context.Context, userID int64) ([]models.Order, error) {
	orders := []models.Order{}
	err := s.db.SelectContext(ctx, &orders,
		"SELECT "+orderColumns+" FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC", userID)
	if err != nil {
		return nil, storageErr("list orders", err)
	}
	if len(orders) == 0 {
		return orders, nil
	}

	ids := lo.Map(orders, func(o models.Order, _ int) int64 { return o.ID })
	lines, err := s.getOrderLines(ctx, ids)
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i].Items = lines[orders[i].ID]
	}

	return orders, nil
}

func (s *Store) getOrderLines(ctx context.Context, orderIDs []int64) (map[int64][]models.OrderLine, error) {
	query, args, err := sqlx.In("SELECT "+lineColumns+" FROM order_lines WHERE order_id IN (?) ORDER BY id", orderIDs)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var lines []models.OrderLine
	if err := s.db.SelectContext(ctx, &lines, query, args...); err != nil {
		return nil, storageErr("get order lines", err)
	}

	return lo.GroupBy(lines, func(l models.OrderLine) int64 { return l.OrderID }), nil
}
