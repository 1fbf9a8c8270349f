package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"marketplace/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestInventoryLedger_Decrement(t *testing.T) {
	tests := []struct {
		name      string
		stock     int
		qty       int
		productID int64
		wantErr   error
		wantStock int
	}{
		{name: "takes stock", stock: 5, qty: 3, productID: 1, wantStock: 2},
		{name: "takes the last units", stock: 3, qty: 3, productID: 1, wantStock: 0},
		{name: "refuses to go negative", stock: 2, qty: 3, productID: 1, wantErr: models.ErrInsufficientStock, wantStock: 2},
		{name: "rejects zero quantity", stock: 2, qty: 0, productID: 1, wantErr: models.ErrValidation, wantStock: 2},
		{name: "unknown product", stock: 2, qty: 1, productID: 42, wantErr: models.ErrNotFound, wantStock: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newMemStore(fakeProduct(1, 100, tt.stock))
			ledger := NewInventoryLedger(store, time.Second)

			err := ledger.Decrement(context.Background(), tt.productID, tt.qty)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
			assert.Equal(t, tt.wantStock, store.stock(1))
		})
	}
}

func TestInventoryLedger_DecrementAllRestoresAppliedLines(t *testing.T) {
	store := newMemStore(
		fakeProduct(1, 100, 5),
		fakeProduct(2, 100, 5),
		fakeProduct(3, 100, 1),
	)
	ledger := NewInventoryLedger(store, time.Second)

	err := ledger.DecrementAll(context.Background(), []StockLine{
		{ProductID: 1, Qty: 2},
		{ProductID: 2, Qty: 5},
		{ProductID: 3, Qty: 2},
	})

	assert.ErrorIs(t, err, models.ErrInsufficientStock)
	assert.Contains(t, err.Error(), "product 3")
	assert.Equal(t, 5, store.stock(1))
	assert.Equal(t, 5, store.stock(2))
	assert.Equal(t, 1, store.stock(3))
	assert.Equal(t, 2, store.increments)
}

func TestInventoryLedger_RestoreGivesUpOnPermanentFailure(t *testing.T) {
	store := newMemStore(fakeProduct(1, 100, 5))
	store.incrementErr = []error{fmt.Errorf("product 1: %w", models.ErrProductNotFound)}
	ledger := NewInventoryLedger(store, time.Second)

	ledger.RestoreAll(context.Background(), []StockLine{{ProductID: 1, Qty: 2}})

	assert.Equal(t, 5, store.stock(1))
	assert.Zero(t, store.increments)
}

func TestInventoryLedger_RestoreRetriesStorageErrors(t *testing.T) {
	store := newMemStore(fakeProduct(1, 100, 5))
	store.incrementErr = []error{
		fmt.Errorf("increment: %w: timeout", models.ErrStorage),
		fmt.Errorf("increment: %w: timeout", models.ErrStorage),
	}
	ledger := NewInventoryLedger(store, time.Second)

	ledger.RestoreAll(context.Background(), []StockLine{{ProductID: 1, Qty: 2}})

	assert.Equal(t, 7, store.stock(1))
	assert.Equal(t, 1, store.increments)
}
