package messaging

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event types
const (
	// Stock events
	EventStockDeducted = "stock.batch.deducted"
	EventStockReceived = "stock.batch.received"
	EventBatchDisposed = "stock.batch.disposed"
	EventBatchExpiring = "stock.batch.expiring"

	// Transaction events
	EventSaleCompleted     = "stock.sale.completed"
	EventPurchaseCompleted = "stock.purchase.completed"
)

// Exchange names
const (
	ExchangeStockEvents = "stock.events"
)

// Event is the base event structure
type Event struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Source    string          `json:"source"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data"`
}

// NewEvent creates a new event with the given type and data
func NewEvent(eventType, source string, data interface{}) (*Event, error) {
	dataBytes, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	return &Event{
		ID:        uuid.New().String(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      dataBytes,
	}, nil
}

// UnmarshalData unmarshals the event data into the provided struct
func (e *Event) UnmarshalData(v interface{}) error {
	return json.Unmarshal(e.Data, v)
}

// StockDeductedEvent is published when a sale deducts stock from a batch
type StockDeductedEvent struct {
	ProductID string `json:"product_id"`
	BatchID   string `json:"batch_id"`
	LotCode   string `json:"lot_code"`
	Quantity  int    `json:"quantity"`
	SaleID    string `json:"sale_id"`
}

// StockReceivedEvent is published when a purchase creates or grows a batch
type StockReceivedEvent struct {
	ProductID  string `json:"product_id"`
	BatchID    string `json:"batch_id"`
	LotCode    string `json:"lot_code"`
	Quantity   int    `json:"quantity"`
	PurchaseID string `json:"purchase_id"`
}

// BatchDisposedEvent is published when a batch is disposed
type BatchDisposedEvent struct {
	ProductID string `json:"product_id"`
	BatchID   string `json:"batch_id"`
	LotCode   string `json:"lot_code"`
	Quantity  int    `json:"quantity"`
	Reason    string `json:"reason"`
	ActorID   string `json:"actor_id"`
}

// BatchExpiringEvent is published by the expiry scan for batches nearing
// or past their expiry date
type BatchExpiringEvent struct {
	ProductID  string    `json:"product_id"`
	BatchID    string    `json:"batch_id"`
	LotCode    string    `json:"lot_code"`
	ExpiryDate time.Time `json:"expiry_date"`
	DaysUntil  int       `json:"days_until"`
	Quantity   int       `json:"quantity"`
	Urgency    string    `json:"urgency"`
}

// SaleCompletedEvent is published after a sale commits
type SaleCompletedEvent struct {
	SaleID     string `json:"sale_id"`
	CustomerID string `json:"customer_id,omitempty"`
	Total      string `json:"total"`
	LineCount  int    `json:"line_count"`
}

// PurchaseCompletedEvent is published after a purchase commits
type PurchaseCompletedEvent struct {
	PurchaseID string `json:"purchase_id"`
	SupplierID string `json:"supplier_id"`
	Total      string `json:"total"`
	LineCount  int    `json:"line_count"`
}
