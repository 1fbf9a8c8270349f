package worker

import (
	"context"

	"marketplace/internal/broker"
	"marketplace/internal/service"
	"marketplace/internal/util"

	"go.uber.org/zap"
)

// MessageSource delivers broker messages to a handler until ctx ends
type MessageSource interface {
	StartConsuming(ctx context.Context, handler broker.MessageHandler) error
	Close() error
}

// RatingWorker feeds ReviewSubmitted events to the rating reconciler
type RatingWorker struct {
	source       MessageSource
	eventHandler *broker.EventHandler
	logger       *zap.Logger
}

// NewRatingWorker creates a new rating worker
func NewRatingWorker(source MessageSource, reconciler *service.RatingReconciler) *RatingWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnReviewSubmitted(reconciler.HandleReviewSubmitted)

	return &RatingWorker{
		source:       source,
		eventHandler: eventHandler,
		logger:       util.GetLogger(),
	}
}

// Start blocks consuming events until ctx is cancelled
func (w *RatingWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting rating worker")
	return w.source.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *RatingWorker) Stop() error {
	w.logger.Info("Stopping rating worker")
	return w.source.Close()
}
