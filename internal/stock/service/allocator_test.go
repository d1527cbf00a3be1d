package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/pharmadesk/pharmadesk-backend/internal/stock/repository"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/service"
	"github.com/pharmadesk/pharmadesk-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubBatchSource feeds fixed batches to the allocator
type stubBatchSource struct {
	batches []*repository.Batch
	err     error
}

func (s *stubBatchSource) ListStockedByProduct(ctx context.Context, productID string) ([]*repository.Batch, error) {
	return s.batches, s.err
}

func day(offset int) time.Time {
	return time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC).AddDate(0, 0, offset)
}

func testBatch(id string, quantity, expiresInDays int, createdAt time.Time) *repository.Batch {
	return &repository.Batch{
		ID:         id,
		ProductID:  "prod-1",
		LotCode:    "LOT-" + id,
		Quantity:   quantity,
		ExpiryDate: day(expiresInDays),
		Version:    1,
		CreatedAt:  createdAt,
	}
}

func TestAllocator_DrawsEarliestExpiryFirst(t *testing.T) {
	now := day(0)
	source := &stubBatchSource{batches: []*repository.Batch{
		testBatch("a", 10, 30, now),
		testBatch("b", 20, 90, now),
	}}
	allocator := service.NewAllocator(source, 7)

	plan, err := allocator.Allocate(context.Background(), "prod-1", 15, now)
	require.NoError(t, err)

	require.Len(t, plan.Lines, 2)
	assert.Equal(t, "a", plan.Lines[0].BatchID)
	assert.Equal(t, 10, plan.Lines[0].Quantity)
	assert.Equal(t, "b", plan.Lines[1].BatchID)
	assert.Equal(t, 5, plan.Lines[1].Quantity)
	assert.False(t, plan.NearExpiry)
}

func TestAllocator_PlanSumsExactlyToRequested(t *testing.T) {
	now := day(0)
	source := &stubBatchSource{batches: []*repository.Batch{
		testBatch("a", 7, 10, now),
		testBatch("b", 8, 20, now),
		testBatch("c", 50, 30, now),
	}}
	allocator := service.NewAllocator(source, 7)

	plan, err := allocator.Allocate(context.Background(), "prod-1", 20, now)
	require.NoError(t, err)

	total := 0
	for _, line := range plan.Lines {
		total += line.Quantity
	}
	assert.Equal(t, 20, total)
	// The last batch only contributes the remainder.
	assert.Equal(t, 5, plan.Lines[2].Quantity)
}

func TestAllocator_SkipsExpiredBatches(t *testing.T) {
	now := day(0)
	source := &stubBatchSource{batches: []*repository.Batch{
		testBatch("expired", 100, -1, now),
		testBatch("valid", 10, 60, now),
	}}
	allocator := service.NewAllocator(source, 7)

	plan, err := allocator.Allocate(context.Background(), "prod-1", 5, now)
	require.NoError(t, err)

	require.Len(t, plan.Lines, 1)
	assert.Equal(t, "valid", plan.Lines[0].BatchID)
}

func TestAllocator_ExpiredStockDoesNotCountTowardAvailability(t *testing.T) {
	now := day(0)
	source := &stubBatchSource{batches: []*repository.Batch{
		testBatch("expired", 100, -10, now),
		testBatch("valid", 3, 60, now),
	}}
	allocator := service.NewAllocator(source, 7)

	_, err := allocator.Allocate(context.Background(), "prod-1", 5, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrInsufficientStock))

	var appErr *errors.AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "5", appErr.Details["requested"])
	assert.Equal(t, "3", appErr.Details["available"])
}

func TestAllocator_ExpiringTodayIsStillValid(t *testing.T) {
	now := day(0)
	source := &stubBatchSource{batches: []*repository.Batch{
		testBatch("today", 10, 0, now),
	}}
	allocator := service.NewAllocator(source, 7)

	plan, err := allocator.Allocate(context.Background(), "prod-1", 5, now)
	require.NoError(t, err)
	require.Len(t, plan.Lines, 1)
	assert.True(t, plan.NearExpiry)
}

func TestAllocator_NoBatchesIsOutOfStock(t *testing.T) {
	allocator := service.NewAllocator(&stubBatchSource{}, 7)

	_, err := allocator.Allocate(context.Background(), "prod-1", 1, day(0))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrOutOfStock))
}

func TestAllocator_OnlyExpiredIsAllExpired(t *testing.T) {
	now := day(0)
	source := &stubBatchSource{batches: []*repository.Batch{
		testBatch("a", 10, -5, now),
		testBatch("b", 20, -1, now),
	}}
	allocator := service.NewAllocator(source, 7)

	_, err := allocator.Allocate(context.Background(), "prod-1", 1, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrAllExpired))
	assert.False(t, errors.Is(err, errors.ErrOutOfStock))
}

func TestAllocator_TieBreaksOnCreationOrder(t *testing.T) {
	now := day(0)
	older := testBatch("older", 5, 30, now.Add(-2*time.Hour))
	newer := testBatch("newer", 5, 30, now.Add(-1*time.Hour))
	// Deliberately out of order from the source.
	source := &stubBatchSource{batches: []*repository.Batch{newer, older}}
	allocator := service.NewAllocator(source, 7)

	plan, err := allocator.Allocate(context.Background(), "prod-1", 8, now)
	require.NoError(t, err)

	require.Len(t, plan.Lines, 2)
	assert.Equal(t, "older", plan.Lines[0].BatchID)
	assert.Equal(t, 5, plan.Lines[0].Quantity)
	assert.Equal(t, "newer", plan.Lines[1].BatchID)
	assert.Equal(t, 3, plan.Lines[1].Quantity)
}

func TestAllocator_NearExpiryFlagOnlyForDrawnBatches(t *testing.T) {
	now := day(0)
	source := &stubBatchSource{batches: []*repository.Batch{
		testBatch("soon", 10, 3, now),
		testBatch("later", 10, 90, now),
	}}
	allocator := service.NewAllocator(source, 7)

	plan, err := allocator.Allocate(context.Background(), "prod-1", 5, now)
	require.NoError(t, err)
	assert.True(t, plan.NearExpiry)

	// A plan that never touches the near-expiry batch stays unflagged.
	source.batches = []*repository.Batch{testBatch("later", 10, 90, now)}
	plan, err = allocator.Allocate(context.Background(), "prod-1", 5, now)
	require.NoError(t, err)
	assert.False(t, plan.NearExpiry)
}

func TestAllocator_RejectsNonPositiveQuantity(t *testing.T) {
	allocator := service.NewAllocator(&stubBatchSource{}, 7)

	for _, quantity := range []int{0, -1} {
		_, err := allocator.Allocate(context.Background(), "prod-1", quantity, day(0))
		require.Error(t, err)
		assert.True(t, errors.Is(err, errors.ErrBadRequest))
	}
}

func TestAllocator_PlanCarriesBatchVersions(t *testing.T) {
	now := day(0)
	batch := testBatch("a", 10, 30, now)
	batch.Version = 7
	allocator := service.NewAllocator(&stubBatchSource{batches: []*repository.Batch{batch}}, 7)

	plan, err := allocator.Allocate(context.Background(), "prod-1", 4, now)
	require.NoError(t, err)
	require.Len(t, plan.Lines, 1)
	assert.Equal(t, int64(7), plan.Lines[0].Version)
	assert.Equal(t, "LOT-a", plan.Lines[0].LotCode)
}
