package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"marketplace/internal/models"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/go-cmp/cmp"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	return NewStoreWithDB(sqlx.NewDb(db, "postgres")), mock
}

func q(s string) string {
	return regexp.QuoteMeta(s)
}

var (
	decrementSQL = q("UPDATE products SET count_in_stock = count_in_stock - $1")
	existsSQL    = q("SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)")
	markRatedSQL = q("UPDATE order_lines SET is_rated = TRUE WHERE order_id = $1 AND product_id = $2 AND is_rated = FALSE")
	recomputeSQL = q("UPDATE products p SET num_reviews = agg.n")
	lockSQL      = q("SELECT id FROM products WHERE id = $1 FOR UPDATE")
)

func TestDecrementStock(t *testing.T) {
	ctx := context.Background()

	t.Run("enough stock", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(decrementSQL).WithArgs(2, int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, s.DecrementStock(ctx, 7, 2))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insufficient stock", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(decrementSQL).WithArgs(5, int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(existsSQL).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		err := s.DecrementStock(ctx, 7, 5)
		assert.ErrorIs(t, err, models.ErrInsufficientStock)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown product", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(decrementSQL).WithArgs(1, int64(99)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(existsSQL).WithArgs(int64(99)).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		err := s.DecrementStock(ctx, 99, 1)
		assert.ErrorIs(t, err, models.ErrProductNotFound)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("driver error is a storage failure", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectExec(decrementSQL).WillReturnError(errors.New("connection reset"))

		err := s.DecrementStock(ctx, 7, 1)
		assert.ErrorIs(t, err, models.ErrStorage)
		assert.Contains(t, err.Error(), "connection reset")
	})
}

func TestIncrementStock(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectExec(q("UPDATE products SET count_in_stock = count_in_stock + $1")).WithArgs(3, int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(q("UPDATE products SET count_in_stock = count_in_stock + $1")).WithArgs(3, int64(8)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, s.IncrementStock(ctx, 7, 3))
	assert.ErrorIs(t, s.IncrementStock(ctx, 8, 3), models.ErrProductNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordReview(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	newReview := func() *models.Review {
		return &models.Review{
			ProductID: 7,
			OrderID:   11,
			UserID:    3,
			Name:      "Budi",
			Rating:    4,
			Comment:   "solid",
			CreatedAt: now,
		}
	}

	t.Run("first rating commits review and aggregate", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSQL).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
		mock.ExpectExec(markRatedSQL).WithArgs(int64(11), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(q("INSERT INTO reviews")).
			WithArgs(int64(7), int64(11), int64(3), "Budi", 4, "solid", now).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(42)))
		mock.ExpectQuery(recomputeSQL).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"rating", "num_reviews"}).AddRow(4.5, 2))
		mock.ExpectCommit()

		review := newReview()
		summary, err := s.RecordReview(ctx, review)
		require.NoError(t, err)
		assert.Equal(t, int64(42), review.ID)
		assert.Equal(t, &models.RatingSummary{Rating: 4.5, NumReviews: 2}, summary)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rated line rolls back", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSQL).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
		mock.ExpectExec(markRatedSQL).WithArgs(int64(11), int64(7)).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectRollback()

		_, err := s.RecordReview(ctx, newReview())
		assert.ErrorIs(t, err, models.ErrAlreadyRated)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("insert failure rolls back the flag", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSQL).WithArgs(int64(7)).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(7)))
		mock.ExpectExec(markRatedSQL).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectQuery(q("INSERT INTO reviews")).WillReturnError(errors.New("disk full"))
		mock.ExpectRollback()

		_, err := s.RecordReview(ctx, newReview())
		assert.ErrorIs(t, err, models.ErrStorage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing product rolls back before touching the line", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(lockSQL).WithArgs(int64(7)).WillReturnError(sql.ErrNoRows)
		mock.ExpectRollback()

		_, err := s.RecordReview(ctx, newReview())
		assert.ErrorIs(t, err, models.ErrProductNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestCreateOrder(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	newOrder := func() *models.Order {
		key := "key-1"
		return &models.Order{
			UserID:         3,
			ShippingAddr:   models.ShippingAddress{Address: "Jl. Merdeka 1", City: "Jakarta", Country: "Indonesia"},
			PaymentMethod:  "cod",
			ItemsPrice:     30000,
			TaxPrice:       3300,
			ShippingPrice:  20000,
			TotalPrice:     53300,
			IsPaid:         true,
			PaidAt:         &now,
			IsDelivered:    true,
			DeliveredAt:    &now,
			IdempotencyKey: &key,
			CreatedAt:      now,
			Items: []models.OrderLine{
				{ProductID: 7, Name: "Keyboard", Price: 30000, Qty: 1},
			},
		}
	}

	t.Run("inserts order and lines", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("INSERT INTO orders")).
			WithArgs(int64(3), sqlmock.AnyArg(), "cod", int64(30000), int64(3300), int64(20000), int64(53300),
				true, sqlmock.AnyArg(), true, sqlmock.AnyArg(), sqlmock.AnyArg(), now).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
		mock.ExpectQuery(q("INSERT INTO order_lines")).
			WithArgs(int64(11), int64(7), "Keyboard", "", int64(30000), 1, false).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(100)))
		mock.ExpectCommit()

		order := newOrder()
		require.NoError(t, s.CreateOrder(ctx, order))
		assert.Equal(t, int64(11), order.ID)
		assert.Equal(t, int64(11), order.Items[0].OrderID)
		assert.Equal(t, int64(100), order.Items[0].ID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("duplicate idempotency key", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("INSERT INTO orders")).
			WillReturnError(&pq.Error{Code: uniqueViolation})
		mock.ExpectRollback()

		err := s.CreateOrder(ctx, newOrder())
		assert.ErrorIs(t, err, models.ErrRequestInProgress)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("line failure rolls back", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(q("INSERT INTO orders")).
			WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(11)))
		mock.ExpectQuery(q("INSERT INTO order_lines")).WillReturnError(errors.New("timeout"))
		mock.ExpectRollback()

		err := s.CreateOrder(ctx, newOrder())
		assert.ErrorIs(t, err, models.ErrStorage)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func orderRow(rows *sqlmock.Rows, id, userID int64, createdAt time.Time) *sqlmock.Rows {
	return rows.AddRow(id, userID, []byte(`{"address":"Jl. Merdeka 1","city":"Jakarta"}`), "cod",
		int64(30000), int64(3300), int64(20000), int64(53300), true, createdAt, true, createdAt, nil, createdAt)
}

var orderCols = []string{"id", "user_id", "shipping_address", "payment_method", "items_price", "tax_price",
	"shipping_price", "total_price", "is_paid", "paid_at", "is_delivered", "delivered_at", "idempotency_key", "created_at"}

var lineCols = []string{"id", "order_id", "product_id", "name", "image", "price", "qty", "is_rated"}

func TestGetOrderByID(t *testing.T) {
	ctx := context.Background()
	now := time.Now()

	t.Run("found", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(q("FROM orders WHERE id = $1")).WithArgs(int64(11)).
			WillReturnRows(orderRow(sqlmock.NewRows(orderCols), 11, 3, now))
		mock.ExpectQuery(q("FROM order_lines WHERE order_id IN ($1)")).WithArgs(int64(11)).
			WillReturnRows(sqlmock.NewRows(lineCols).
				AddRow(int64(100), int64(11), int64(7), "Keyboard", "", int64(30000), 1, false))

		order, err := s.GetOrderByID(ctx, 11)
		require.NoError(t, err)
		assert.Equal(t, "Jakarta", order.ShippingAddr.City)
		require.Len(t, order.Items, 1)
		assert.Equal(t, int64(7), order.Items[0].ProductID)
		assert.Nil(t, order.IdempotencyKey)
	})

	t.Run("missing", func(t *testing.T) {
		s, mock := newMockStore(t)
		mock.ExpectQuery(q("FROM orders WHERE id = $1")).WithArgs(int64(12)).
			WillReturnRows(sqlmock.NewRows(orderCols))

		_, err := s.GetOrderByID(ctx, 12)
		assert.ErrorIs(t, err, models.ErrOrderNotFound)
	})
}

func TestGetOrdersByUserID(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	newer := time.Now()
	older := newer.Add(-time.Hour)

	mock.ExpectQuery(q("FROM orders WHERE user_id = $1 ORDER BY created_at DESC")).WithArgs(int64(3)).
		WillReturnRows(orderRow(orderRow(sqlmock.NewRows(orderCols), 12, 3, newer), 11, 3, older))
	mock.ExpectQuery(q("FROM order_lines WHERE order_id IN ($1, $2)")).
		WithArgs(int64(12), int64(11)).
		WillReturnRows(sqlmock.NewRows(lineCols).
			AddRow(int64(100), int64(11), int64(7), "Keyboard", "", int64(30000), 1, true).
			AddRow(int64(101), int64(12), int64(8), "Mouse", "", int64(15000), 2, false))

	orders, err := s.GetOrdersByUserID(ctx, 3)
	require.NoError(t, err)
	require.Len(t, orders, 2)

	assert.Equal(t, int64(12), orders[0].ID)
	want := []models.OrderLine{{ID: 101, OrderID: 12, ProductID: 8, Name: "Mouse", Price: 15000, Qty: 2}}
	if diff := cmp.Diff(want, orders[0].Items); diff != "" {
		t.Errorf("newest order lines mismatch (-want +got):\n%s", diff)
	}
	assert.True(t, orders[1].Items[0].IsRated)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetProductByIDLoadsReviews(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)
	now := time.Now()

	productCols := []string{"id", "name", "image", "brand", "category", "description", "price",
		"count_in_stock", "rating", "num_reviews", "created_at", "updated_at"}
	mock.ExpectQuery(q("FROM products WHERE id = $1")).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows(productCols).
			AddRow(int64(7), "Keyboard", "", "", "", "", int64(30000), 4, 4.5, 2, now, now))
	mock.ExpectQuery(q("FROM reviews WHERE product_id = $1 ORDER BY id")).WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"id", "product_id", "order_id", "user_id", "name", "rating", "comment", "created_at"}).
			AddRow(int64(1), int64(7), int64(10), int64(2), "Sari", 5, "", now).
			AddRow(int64(2), int64(7), int64(11), int64(3), "Budi", 4, "ok", now))

	product, err := s.GetProductByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, 2, product.NumReviews)
	require.Len(t, product.Reviews, 2)
	assert.Equal(t, "Sari", product.Reviews[0].Name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkEventProcessed(t *testing.T) {
	ctx := context.Background()
	s, mock := newMockStore(t)

	mock.ExpectQuery(q("SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)")).WithArgs("evt-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectExec(q("INSERT INTO processed_events")).WithArgs("evt-1", models.EventTypeReviewSubmitted).
		WillReturnResult(driver.RowsAffected(1))

	processed, err := s.IsEventProcessed(ctx, "evt-1")
	require.NoError(t, err)
	assert.False(t, processed)
	assert.NoError(t, s.MarkEventProcessed(ctx, "evt-1", models.EventTypeReviewSubmitted))
	assert.NoError(t, mock.ExpectationsWereMet())
}
