package service

import (
	"context"
	"errors"
	"fmt"

	"marketplace/internal/models"
	"marketplace/internal/util"

	"go.uber.org/zap"
)

// RatingReconciler re-derives a product's rating aggregate whenever a review
// event arrives. It repairs rows whose reviews were changed outside
// Store.RecordReview.
type RatingReconciler struct {
	reviews ReviewRepository
	logger  *zap.Logger
}

// NewRatingReconciler creates a new rating reconciler
func NewRatingReconciler(reviews ReviewRepository) *RatingReconciler {
	return &RatingReconciler{
		reviews: reviews,
		logger:  util.GetLogger(),
	}
}

// HandleReviewSubmitted recomputes the reviewed product's aggregate once per event
func (r *RatingReconciler) HandleReviewSubmitted(ctx context.Context, event *models.ReviewSubmittedEvent) (err error) {
	ctx, span := util.StartSpan(ctx, "RatingReconciler.HandleReviewSubmitted")
	defer func() { util.EndSpan(span, err) }()

	processed, err := r.reviews.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		r.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	summary, err := r.reviews.RecomputeRating(ctx, event.ProductID)
	switch {
	case errors.Is(err, models.ErrNotFound):
		r.logger.Warn("Reviewed product no longer exists",
			zap.String("event_id", event.EventID),
			zap.Int64("product_id", event.ProductID))
	case err != nil:
		return fmt.Errorf("failed to recompute rating: %w", err)
	default:
		util.RatingsReconciledTotal.Inc()
		r.logger.Info("Rating reconciled",
			zap.Int64("product_id", event.ProductID),
			zap.Float64("rating", summary.Rating),
			zap.Int("num_reviews", summary.NumReviews))
	}

	if err := r.reviews.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		r.logger.Error("Failed to mark event processed", zap.Error(err))
	}
	return nil
}
