package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	minRating = 1
	maxRating = 5
)

// SubmitReviewRequest rates one purchased line of an order
type SubmitReviewRequest struct {
	OrderID   int64  `json:"-"`
	ProductID int64  `json:"product_id"`
	Rating    int    `json:"rating"`
	Comment   string `json:"comment"`
}

// ReviewService records at most one review per (order, product) pair and keeps
// each product's rating aggregate in step with its reviews.
type ReviewService struct {
	products ProductReader
	orders   OrderRepository
	reviews  ReviewRepository
	events   EventPublisher
	logger   *zap.Logger
	now      func() time.Time
}

// NewReviewService creates a new review service. events may be nil.
func NewReviewService(
	products ProductReader,
	orders OrderRepository,
	reviews ReviewRepository,
	events EventPublisher,
) *ReviewService {
	return &ReviewService{
		products: products,
		orders:   orders,
		reviews:  reviews,
		events:   events,
		logger:   util.GetLogger(),
		now:      time.Now,
	}
}

// SubmitReview stores the review, flips the line's rated flag and refreshes the
// product aggregate as one unit. A second submission for the same line fails
// with ErrAlreadyRated no matter how the two requests interleave.
func (s *ReviewService) SubmitReview(ctx context.Context, user models.Identity, req *SubmitReviewRequest) (review *models.Review, err error) {
	ctx, span := util.StartSpan(ctx, "ReviewService.SubmitReview")
	defer func() { util.EndSpan(span, err) }()

	defer func() {
		if err != nil {
			util.ReviewsRejectedTotal.WithLabelValues(failureReason(err)).Inc()
		}
	}()

	if req.Rating < minRating || req.Rating > maxRating {
		return nil, models.NewValidationError("rating must be between %d and %d", minRating, maxRating)
	}

	order, err := s.orders.GetOrderByID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}
	if order.UserID != user.ID {
		return nil, models.ErrForbidden
	}

	line := order.FindLine(req.ProductID)
	if line == nil {
		return nil, models.ErrLineNotInOrder
	}
	if line.IsRated {
		return nil, models.ErrAlreadyRated
	}

	if _, err := s.products.GetProductByID(ctx, req.ProductID); err != nil {
		return nil, err
	}

	review = &models.Review{
		ProductID: req.ProductID,
		OrderID:   req.OrderID,
		UserID:    user.ID,
		Name:      user.Name,
		Rating:    req.Rating,
		Comment:   strings.TrimSpace(req.Comment),
		CreatedAt: s.now(),
	}

	summary, err := s.reviews.RecordReview(ctx, review)
	if err != nil {
		if errors.Is(err, models.ErrAlreadyRated) {
			s.logger.Info("Concurrent review lost the race",
				zap.Int64("order_id", req.OrderID),
				zap.Int64("product_id", req.ProductID))
		}
		return nil, err
	}

	util.ReviewsSubmittedTotal.Inc()
	s.logger.Info("Review submitted",
		zap.Int64("review_id", review.ID),
		zap.Int64("order_id", review.OrderID),
		zap.Int64("product_id", review.ProductID),
		zap.Float64("rating", summary.Rating),
		zap.Int("num_reviews", summary.NumReviews))

	s.publishReviewSubmitted(ctx, review)

	return review, nil
}

func (s *ReviewService) publishReviewSubmitted(ctx context.Context, review *models.Review) {
	if s.events == nil {
		return
	}

	event := &models.ReviewSubmittedEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeReviewSubmitted,
			Timestamp: s.now(),
		},
		OrderID:   review.OrderID,
		ProductID: review.ProductID,
		UserID:    review.UserID,
		Rating:    review.Rating,
	}

	if err := s.events.PublishReviewSubmitted(ctx, event); err != nil {
		s.logger.Error("Failed to publish ReviewSubmitted event",
			zap.Int64("review_id", review.ID),
			zap.Error(err))
	}
}
