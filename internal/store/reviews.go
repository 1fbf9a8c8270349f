package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"marketplace/internal/models"
)

const recomputeRatingQuery = `
	UPDATE products p
	SET num_reviews = agg.n, rating = agg.mean, updated_at = NOW()
	FROM (
		SELECT COUNT(*)::int AS n, COALESCE(AVG(rating), 0)::float8 AS mean
		FROM reviews WHERE product_id = $1
	) agg
	WHERE p.id = $1
	RETURNING p.rating, p.num_reviews`

// RecordReview flips the line's is_rated flag, stores the review and refreshes the
// product aggregate in one transaction. The product row is locked first, so the
// recompute sees every review committed before it; a missing product is
// ErrProductNotFound. A line that is already rated affects no rows and is
// reported as ErrAlreadyRated.
func (s *Store) RecordReview(ctx context.Context, review *models.Review) (summary *models.RatingSummary, err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, storageErr("begin record review", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var locked int64
	err = tx.GetContext(ctx, &locked, "SELECT id FROM products WHERE id = $1 FOR UPDATE", review.ProductID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", review.ProductID, models.ErrProductNotFound)
	}
	if err != nil {
		return nil, storageErr("lock product", err)
	}

	res, err := tx.ExecContext(ctx,
		"UPDATE order_lines SET is_rated = TRUE WHERE order_id = $1 AND product_id = $2 AND is_rated = FALSE",
		review.OrderID, review.ProductID)
	if err != nil {
		return nil, storageErr("mark line rated", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, storageErr("mark line rated", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("order %d product %d: %w", review.OrderID, review.ProductID, models.ErrAlreadyRated)
	}

	err = tx.GetContext(ctx, &review.ID, `
		INSERT INTO reviews (product_id, order_id, user_id, name, rating, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		review.ProductID, review.OrderID, review.UserID, review.Name, review.Rating, review.Comment, review.CreatedAt)
	if err != nil {
		return nil, storageErr("insert review", err)
	}

	summary = &models.RatingSummary{}
	err = tx.GetContext(ctx, summary, recomputeRatingQuery, review.ProductID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", review.ProductID, models.ErrProductNotFound)
	}
	if err != nil {
		return nil, storageErr("recompute rating", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, storageErr("commit record review", err)
	}
	return summary, nil
}

// RecomputeRating re-derives a product's aggregate from its stored reviews
func (s *Store) RecomputeRating(ctx context.Context, productID int64) (*models.RatingSummary, error) {
	var summary models.RatingSummary
	err := s.db.GetContext(ctx, &summary, recomputeRatingQuery, productID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("product %d: %w", productID, models.ErrProductNotFound)
	}
	if err != nil {
		return nil, storageErr("recompute rating", err)
	}
	return &summary, nil
}

// GetReviewsByProductID returns reviews in submission order
func (s *Store) GetReviewsByProductID(ctx context.Context, productID int64) ([]models.Review, error) {
	reviews := []models.Review{}
	err := s.db.SelectContext(ctx, &reviews, `
		SELECT id, product_id, order_id, user_id, name, rating, comment, created_at
		FROM reviews WHERE product_id = $1 ORDER BY id`, productID)
	if err != nil {
		return nil, storageErr("get reviews", err)
	}
	return reviews, nil
}

// IsEventProcessed checks if an event has been processed
func (s *Store) IsEventProcessed(ctx context.Context, eventID string) (bool, error) {
	var exists bool
	err := s.db.GetContext(ctx, &exists,
		"SELECT EXISTS(SELECT 1 FROM processed_events WHERE event_id = $1)", eventID)
	if err != nil {
		return false, storageErr("check processed event", err)
	}
	return exists, nil
}

// MarkEventProcessed marks an event as processed
func (s *Store) MarkEventProcessed(ctx context.Context, eventID, eventType string) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO processed_events (event_id, event_type) VALUES ($1, $2) ON CONFLICT (event_id) DO NOTHING",
		eventID, eventType)
	if err != nil {
		return storageErr("mark event processed", err)
	}
	return nil
}
