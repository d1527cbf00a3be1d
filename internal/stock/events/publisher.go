package events

import (
	"context"

	"github.com/pharmadesk/pharmadesk-backend/internal/stock/repository"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
	"github.com/pharmadesk/pharmadesk-backend/pkg/messaging"
)

// StockEventPublisher publishes stock movement events. All publishing is
// best-effort: failures are logged, never propagated, and never influence
// the transaction that produced the movement.
type StockEventPublisher struct {
	publisher *messaging.Publisher
	logger    *logger.Logger
}

// NewStockEventPublisher creates a new stock event publisher
func NewStockEventPublisher(rmq *messaging.RabbitMQ, log *logger.Logger) (*StockEventPublisher, error) {
	publisher, err := messaging.NewPublisher(rmq, messaging.ExchangeStockEvents, "stock-service", log)
	if err != nil {
		return nil, err
	}

	return &StockEventPublisher{
		publisher: publisher,
		logger:    log,
	}, nil
}

// PublishStockDeducted publishes one deduction line of a committed sale
func (p *StockEventPublisher) PublishStockDeducted(ctx context.Context, saleID string, item *repository.SaleItem) {
	if p == nil {
		return
	}
	batchID := ""
	if item.BatchID != nil {
		batchID = *item.BatchID
	}

	data := messaging.StockDeductedEvent{
		ProductID: item.ProductID,
		BatchID:   batchID,
		LotCode:   item.LotCode,
		Quantity:  item.Quantity,
		SaleID:    saleID,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockDeducted, data); err != nil {
		p.logger.Error().Err(err).Str("sale_id", saleID).Msg("failed to publish stock deducted event")
	}
}

// PublishStockReceived publishes one received line of a committed purchase
func (p *StockEventPublisher) PublishStockReceived(ctx context.Context, purchaseID string, item *repository.PurchaseItem) {
	if p == nil {
		return
	}

	data := messaging.StockReceivedEvent{
		ProductID:  item.ProductID,
		BatchID:    item.BatchID,
		LotCode:    item.LotCode,
		Quantity:   item.UnitsReceived,
		PurchaseID: purchaseID,
	}

	if err := p.publisher.Publish(ctx, messaging.EventStockReceived, data); err != nil {
		p.logger.Error().Err(err).Str("purchase_id", purchaseID).Msg("failed to publish stock received event")
	}
}

// PublishBatchDisposed publishes a batch disposal
func (p *StockEventPublisher) PublishBatchDisposed(ctx context.Context, batch *repository.Batch, disposedQuantity int, reason, actorID string) {
	if p == nil {
		return
	}

	data := messaging.BatchDisposedEvent{
		ProductID: batch.ProductID,
		BatchID:   batch.ID,
		LotCode:   batch.LotCode,
		Quantity:  disposedQuantity,
		Reason:    reason,
		ActorID:   actorID,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchDisposed, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to publish batch disposed event")
	}
}

// PublishBatchExpiring publishes an expiry warning from the scheduled scan
func (p *StockEventPublisher) PublishBatchExpiring(ctx context.Context, batch *repository.Batch, daysUntil int, urgency string) {
	if p == nil {
		return
	}

	data := messaging.BatchExpiringEvent{
		ProductID:  batch.ProductID,
		BatchID:    batch.ID,
		LotCode:    batch.LotCode,
		ExpiryDate: batch.ExpiryDate,
		DaysUntil:  daysUntil,
		Quantity:   batch.Quantity,
		Urgency:    urgency,
	}

	if err := p.publisher.Publish(ctx, messaging.EventBatchExpiring, data); err != nil {
		p.logger.Error().Err(err).Str("batch_id", batch.ID).Msg("failed to publish batch expiring event")
	}
}

// PublishSaleCompleted publishes a committed sale summary
func (p *StockEventPublisher) PublishSaleCompleted(ctx context.Context, sale *repository.Sale, lineCount int) {
	if p == nil {
		return
	}
	customerID := ""
	if sale.CustomerID != nil {
		customerID = *sale.CustomerID
	}

	data := messaging.SaleCompletedEvent{
		SaleID:     sale.ID,
		CustomerID: customerID,
		Total:      sale.TotalAmount.String(),
		LineCount:  lineCount,
	}

	if err := p.publisher.Publish(ctx, messaging.EventSaleCompleted, data); err != nil {
		p.logger.Error().Err(err).Str("sale_id", sale.ID).Msg("failed to publish sale completed event")
	}
}

// PublishPurchaseCompleted publishes a committed purchase summary
func (p *StockEventPublisher) PublishPurchaseCompleted(ctx context.Context, purchase *repository.Purchase, lineCount int) {
	if p == nil {
		return
	}

	data := messaging.PurchaseCompletedEvent{
		PurchaseID: purchase.ID,
		SupplierID: purchase.SupplierID,
		Total:      purchase.TotalAmount.String(),
		LineCount:  lineCount,
	}

	if err := p.publisher.Publish(ctx, messaging.EventPurchaseCompleted, data); err != nil {
		p.logger.Error().Err(err).Str("purchase_id", purchase.ID).Msg("failed to publish purchase completed event")
	}
}
