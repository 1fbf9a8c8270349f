package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"marketplace/internal/models"
	"marketplace/internal/util"

	"go.uber.org/zap"
)

const compensationAttempts = 3

// StockLine is one quantity to take from a product's stock
type StockLine struct {
	ProductID int64
	Qty       int
}

// InventoryLedger owns stock counts. Every decrement is a conditional write, and
// multi-line decrements are undone with compensating increments on failure.
type InventoryLedger struct {
	stock               StockStore
	logger              *zap.Logger
	compensationTimeout time.Duration
}

// NewInventoryLedger creates a new inventory ledger
func NewInventoryLedger(stock StockStore, compensationTimeout time.Duration) *InventoryLedger {
	if compensationTimeout <= 0 {
		compensationTimeout = 5 * time.Second
	}
	return &InventoryLedger{
		stock:               stock,
		logger:              util.GetLogger(),
		compensationTimeout: compensationTimeout,
	}
}

// Decrement takes qty from stock. It fails with ErrInsufficientStock rather than going negative.
func (l *InventoryLedger) Decrement(ctx context.Context, productID int64, qty int) (err error) {
	ctx, span := util.StartSpan(ctx, "InventoryLedger.Decrement")
	defer func() { util.EndSpan(span, err) }()

	start := time.Now()
	defer func() {
		util.StockDecrementLatency.Observe(time.Since(start).Seconds())
	}()

	if qty <= 0 {
		return models.NewValidationError("quantity must be positive for product %d", productID)
	}

	if err := l.stock.DecrementStock(ctx, productID, qty); err != nil {
		util.StockDecrementsFailed.WithLabelValues(failureReason(err)).Inc()
		return err
	}
	return nil
}

// DecrementAll applies every line or none. On the first failure the lines already
// applied are restored before the error is returned.
func (l *InventoryLedger) DecrementAll(ctx context.Context, lines []StockLine) error {
	applied := make([]StockLine, 0, len(lines))

	for _, line := range lines {
		if err := l.Decrement(ctx, line.ProductID, line.Qty); err != nil {
			l.RestoreAll(ctx, applied)
			return fmt.Errorf("decrement stock for product %d: %w", line.ProductID, err)
		}
		applied = append(applied, line)
	}

	return nil
}

// RestoreAll issues compensating increments. It runs detached from ctx's
// cancellation so a timed-out request still rolls its stock back.
func (l *InventoryLedger) RestoreAll(ctx context.Context, lines []StockLine) {
	if len(lines) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.compensationTimeout)
	defer cancel()

	ctx, span := util.StartSpan(ctx, "InventoryLedger.RestoreAll")
	defer span.End()

	for _, line := range lines {
		if err := l.restore(ctx, line); err != nil {
			util.StockCompensationsTotal.WithLabelValues("failed").Inc()
			l.logger.Error("Failed to compensate stock decrement",
				zap.Int64("product_id", line.ProductID),
				zap.Int("qty", line.Qty),
				zap.Error(err))
			continue
		}
		util.StockCompensationsTotal.WithLabelValues("ok").Inc()
	}
}

func (l *InventoryLedger) restore(ctx context.Context, line StockLine) error {
	var err error
	for attempt := 1; attempt <= compensationAttempts; attempt++ {
		err = l.stock.IncrementStock(ctx, line.ProductID, line.Qty)
		if err == nil || !errors.Is(err, models.ErrStorage) {
			return err
		}

		select {
		case <-ctx.Done():
			return errors.Join(err, ctx.Err())
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		}
	}
	return err
}

func failureReason(err error) string {
	switch {
	case errors.Is(err, models.ErrInsufficientStock):
		return "insufficient_stock"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrValidation):
		return "invalid"
	case errors.Is(err, models.ErrAlreadyRated):
		return "already_rated"
	case errors.Is(err, models.ErrForbidden):
		return "forbidden"
	case errors.Is(err, models.ErrRequestInProgress):
		return "in_progress"
	case errors.Is(err, models.ErrStorage):
		return "storage"
	default:
		return "error"
	}
}
