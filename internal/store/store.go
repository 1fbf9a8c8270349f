package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed schema.sql
var schema string

const productColumns = `id, name, image, brand, category, description, price, count_in_stock,
	rating, num_reviews, created_at, updated_at`

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection
func NewStoreWithDB(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return storageErr("migrate", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database connection
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func storageErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, models.ErrStorage, err)
}

// GetProductByID retrieves a product with its reviews in submission order
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT "+productColumns+" FROM products WHERE id = $1", id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", id, models.ErrProductNotFound)
	}
	if err != nil {
		return nil, storageErr("get product", err)
	}

	reviews, err := s.GetReviewsByProductID(ctx, id)
	if err != nil {
		return nil, err
	}
	product.Reviews = reviews

	return &product, nil
}

// GetProducts retrieves all products without their reviews
func (s *Store) GetProducts(ctx context.Context) ([]models.Product, error) {
	products := []models.Product{}
	err := s.db.SelectContext(ctx, &products,
		"SELECT "+productColumns+" FROM products ORDER BY id")
	if err != nil {
		return nil, storageErr("list products", err)
	}
	return products, nil
}

// GetProductsByIDs retrieves multiple products by IDs. Missing ids are simply absent.
func (s *Store) GetProductsByIDs(ctx context.Context, ids []int64) ([]models.Product, error) {
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	query, args, err := sqlx.In("SELECT "+productColumns+" FROM products WHERE id IN (?)", ids)
	if err != nil {
		return nil, err
	}
	query = s.db.Rebind(query)

	var products []models.Product
	if err := s.db.SelectContext(ctx, &products, query, args...); err != nil {
		return nil, storageErr("get products", err)
	}
	return products, nil
}

// DecrementStock removes quantity from stock only if enough is available.
// The check and the write are one statement, so concurrent callers cannot oversell.
func (s *Store) DecrementStock(ctx context.Context, productID int64, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE products SET count_in_stock = count_in_stock - $1, updated_at = NOW()
		WHERE id = $2 AND count_in_stock >= $1`,
		quantity, productID)
	if err != nil {
		return storageErr("decrement stock", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("decrement stock", err)
	}
	if n == 1 {
		return nil
	}

	exists, err := s.productExists(ctx, productID)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("product %d: %w", productID, models.ErrProductNotFound)
	}
	return fmt.Errorf("product %d: %w", productID, models.ErrInsufficientStock)
}

// IncrementStock returns quantity to stock (compensation)
func (s *Store) IncrementStock(ctx context.Context, productID int64, quantity int) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE products SET count_in_stock = count_in_stock + $1, updated_at = NOW() WHERE id = $2",
		quantity, productID)
	if err != nil {
		return storageErr("increment stock", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return storageErr("increment stock", err)
	}
	if n == 0 {
		return fmt.Errorf("product %d: %w", productID, models.ErrProductNotFound)
	}
	return nil
}

func (s *Store) productExists(ctx context.Context, productID int64) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM products WHERE id = $1)", productID)
	if err != nil {
		return false, storageErr("product exists", err)
	}
	return exists, nil
}
