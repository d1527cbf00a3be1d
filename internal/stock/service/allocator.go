package service

import (
	"context"
	"sort"
	"time"

	"github.com/pharmadesk/pharmadesk-backend/internal/stock/repository"
	"github.com/pharmadesk/pharmadesk-backend/pkg/errors"
)

// PlanLine is one draw from one batch in an allocation plan. Version pins
// the batch state the plan was computed against; the coordinator deducts at
// exactly this version.
type PlanLine struct {
	BatchID    string    `json:"batch_id"`
	LotCode    string    `json:"lot_code"`
	Quantity   int       `json:"quantity"`
	ExpiryDate time.Time `json:"expiry_date"`
	Version    int64     `json:"version"`
}

// AllocationPlan is the result of a FEFO allocation. Plans are ephemeral:
// computed inside a transaction, applied in the same transaction, never
// stored or reused.
type AllocationPlan struct {
	ProductID  string     `json:"product_id"`
	Requested  int        `json:"requested"`
	Lines      []PlanLine `json:"lines"`
	NearExpiry bool       `json:"near_expiry"`
}

// BatchSource supplies the stocked batches the allocator plans over.
// *repository.BatchRepository satisfies it, on the pool or in a transaction.
type BatchSource interface {
	ListStockedByProduct(ctx context.Context, productID string) ([]*repository.Batch, error)
}

// Allocator plans first-expiry-first-out draws across the batches of a
// product. It holds no state beyond its configuration.
type Allocator struct {
	batches        BatchSource
	nearExpiryDays int
}

// NewAllocator creates a new FEFO allocator
func NewAllocator(batches BatchSource, nearExpiryDays int) *Allocator {
	return &Allocator{
		batches:        batches,
		nearExpiryDays: nearExpiryDays,
	}
}

// WithBatchRepo returns a copy of the allocator reading through the given
// source, used to plan inside a transaction.
func (a *Allocator) WithBatchRepo(batches BatchSource) *Allocator {
	return &Allocator{
		batches:        batches,
		nearExpiryDays: a.nearExpiryDays,
	}
}

// Allocate plans a FEFO draw of quantity units of a product as of now.
// Expired batches never participate: a product whose entire stock is expired
// yields AllExpired, not InsufficientStock. The plan either covers the full
// quantity or an error is returned; there are no partial plans.
func (a *Allocator) Allocate(ctx context.Context, productID string, quantity int, now time.Time) (*AllocationPlan, error) {
	if quantity <= 0 {
		return nil, errors.BadRequest("quantity must be greater than zero")
	}

	batches, err := a.batches.ListStockedByProduct(ctx, productID)
	if err != nil {
		return nil, err
	}
	if len(batches) == 0 {
		return nil, errors.OutOfStock(productID)
	}

	valid := make([]*repository.Batch, 0, len(batches))
	for _, b := range batches {
		if !b.IsExpired(now) {
			valid = append(valid, b)
		}
	}
	if len(valid) == 0 {
		return nil, errors.AllExpired(productID)
	}

	// The repository already returns FEFO order; re-sorting keeps the plan
	// deterministic regardless of the batch source.
	sort.SliceStable(valid, func(i, j int) bool {
		if !valid[i].ExpiryDate.Equal(valid[j].ExpiryDate) {
			return valid[i].ExpiryDate.Before(valid[j].ExpiryDate)
		}
		return valid[i].CreatedAt.Before(valid[j].CreatedAt)
	})

	available := 0
	for _, b := range valid {
		available += b.Quantity
	}
	if available < quantity {
		return nil, errors.InsufficientStock(productID, quantity, available)
	}

	plan := &AllocationPlan{
		ProductID: productID,
		Requested: quantity,
	}

	remaining := quantity
	for _, b := range valid {
		if remaining == 0 {
			break
		}
		draw := b.Quantity
		if draw > remaining {
			draw = remaining
		}
		plan.Lines = append(plan.Lines, PlanLine{
			BatchID:    b.ID,
			LotCode:    b.LotCode,
			Quantity:   draw,
			ExpiryDate: b.ExpiryDate,
			Version:    b.Version,
		})
		if b.ExpiresWithin(now, a.nearExpiryDays) {
			plan.NearExpiry = true
		}
		remaining -= draw
	}

	return plan, nil
}

// SelectBatchesForSale previews the allocation plan for a product without
// touching any stock. The preview carries no reservation: the plan a later
// sale computes may differ if stock moved in between.
func (a *Allocator) SelectBatchesForSale(ctx context.Context, productID string, quantity int) (*AllocationPlan, error) {
	return a.Allocate(ctx, productID, quantity, time.Now())
}
