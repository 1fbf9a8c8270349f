package service

import (
	"context"
	"testing"

	"marketplace/internal/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func reviewEvent(productID int64) *models.ReviewSubmittedEvent {
	return &models.ReviewSubmittedEvent{
		BaseEvent: models.BaseEvent{EventID: gofakeit.UUID(), EventType: models.EventTypeReviewSubmitted},
		ProductID: productID,
		Rating:    4,
	}
}

func TestRatingReconciler_RepairsAggregate(t *testing.T) {
	store := newMemStore(fakeProduct(1, 100, 5))
	store.reviews = []models.Review{
		{ID: 1, ProductID: 1, Rating: 5},
		{ID: 2, ProductID: 1, Rating: 2},
	}
	reconciler := NewRatingReconciler(store)
	event := reviewEvent(1)

	require.NoError(t, reconciler.HandleReviewSubmitted(context.Background(), event))

	product, err := store.GetProductByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, 2, product.NumReviews)
	assert.InDelta(t, 3.5, product.Rating, 1e-9)

	processed, err := store.IsEventProcessed(context.Background(), event.EventID)
	require.NoError(t, err)
	assert.True(t, processed)
}

func TestRatingReconciler_SkipsProcessedEvents(t *testing.T) {
	store := newMemStore(fakeProduct(1, 100, 5))
	reconciler := NewRatingReconciler(store)
	event := reviewEvent(1)
	require.NoError(t, store.MarkEventProcessed(context.Background(), event.EventID, event.EventType))
	store.reviews = []models.Review{{ID: 1, ProductID: 1, Rating: 5}}

	require.NoError(t, reconciler.HandleReviewSubmitted(context.Background(), event))

	product, err := store.GetProductByID(context.Background(), 1)
	require.NoError(t, err)
	assert.Zero(t, product.NumReviews)
}

func TestRatingReconciler_MissingProductIsAcknowledged(t *testing.T) {
	store := newMemStore()
	reconciler := NewRatingReconciler(store)
	event := reviewEvent(7)

	require.NoError(t, reconciler.HandleReviewSubmitted(context.Background(), event))

	processed, err := store.IsEventProcessed(context.Background(), event.EventID)
	require.NoError(t, err)
	assert.True(t, processed)
}
