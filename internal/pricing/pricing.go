// Package pricing holds the cart summary formula shared by the cart preview
// and server-side order revalidation. All amounts are integer minor units.
package pricing

import (
	"errors"
	"fmt"
	"math"

	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

const (
	// FreeShippingThreshold is exclusive: subtotals strictly above it ship free.
	FreeShippingThreshold int64 = 100000
	FlatShipping          int64 = 20000
)

const (
	// MaxQty matches the INTEGER qty column.
	MaxQty = math.MaxInt32
	// MaxItemsPrice keeps items + tax + shipping inside int64.
	MaxItemsPrice int64 = math.MaxInt64 / 2
)

var (
	ErrInvalidLine = errors.New("invalid cart line")
	ErrOverflow    = errors.New("cart total out of range")
)

// TaxRate is applied to the items subtotal and rounded half-up to a whole unit.
var TaxRate = decimal.RequireFromString("0.11")

type Line struct {
	Price int64 `json:"price"`
	Qty   int   `json:"qty"`
}

type Summary struct {
	ItemsPrice    int64 `json:"items_price"`
	ShippingPrice int64 `json:"shipping_price"`
	TaxPrice      int64 `json:"tax_price"`
	TotalPrice    int64 `json:"total_price"`
}

// Check reports whether lines can be summarized: every price is non-negative,
// every qty is in 1..MaxQty and the subtotal does not exceed MaxItemsPrice.
func Check(lines []Line) error {
	var items int64
	for i, l := range lines {
		if l.Price < 0 || l.Qty <= 0 || l.Qty > MaxQty {
			return fmt.Errorf("line %d: %w", i, ErrInvalidLine)
		}
		if l.Price > 0 && int64(l.Qty) > MaxItemsPrice/l.Price {
			return fmt.Errorf("line %d: %w", i, ErrOverflow)
		}
		lineTotal := l.Price * int64(l.Qty)
		if items > MaxItemsPrice-lineTotal {
			return fmt.Errorf("line %d: %w", i, ErrOverflow)
		}
		items += lineTotal
	}
	return nil
}

// Summarize computes subtotal, shipping, tax and total. Empty input yields a
// zero Summary. lines must pass Check.
func Summarize(lines []Line) Summary {
	if len(lines) == 0 {
		return Summary{}
	}

	items := lo.SumBy(lines, func(l Line) int64 {
		return l.Price * int64(l.Qty)
	})

	shipping := FlatShipping
	if items > FreeShippingThreshold {
		shipping = 0
	}

	tax := Tax(items)

	return Summary{
		ItemsPrice:    items,
		ShippingPrice: shipping,
		TaxPrice:      tax,
		TotalPrice:    items + shipping + tax,
	}
}

// Tax returns TaxRate * items rounded half-up (half away from zero).
func Tax(items int64) int64 {
	return decimal.NewFromInt(items).Mul(TaxRate).Round(0).IntPart()
}

// Mismatch is one summary field whose submitted value drifts from the computed one.
type Mismatch struct {
	Field     string
	Submitted int64
	Computed  int64
}

// Verify compares a client-submitted summary against the computed one and
// returns every field that differs by more than tolerance.
func Verify(submitted, computed Summary, tolerance int64) []Mismatch {
	fields := []Mismatch{
		{Field: "items_price", Submitted: submitted.ItemsPrice, Computed: computed.ItemsPrice},
		{Field: "shipping_price", Submitted: submitted.ShippingPrice, Computed: computed.ShippingPrice},
		{Field: "tax_price", Submitted: submitted.TaxPrice, Computed: computed.TaxPrice},
		{Field: "total_price", Submitted: submitted.TotalPrice, Computed: computed.TotalPrice},
	}

	return lo.Filter(fields, func(m Mismatch, _ int) bool {
		diff := m.Submitted - m.Computed
		if diff < 0 {
			diff = -diff
		}
		return diff > tolerance
	})
}
