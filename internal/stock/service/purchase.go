package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/events"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/repository"
	"github.com/pharmadesk/pharmadesk-backend/pkg/actor"
	"github.com/pharmadesk/pharmadesk-backend/pkg/database"
	"github.com/pharmadesk/pharmadesk-backend/pkg/errors"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// PurchaseLineRequest is one received line of a purchase request. Quantity
// is in order units; the engine converts to base units via the product's
// units_per_package.
type PurchaseLineRequest struct {
	ProductID  string          `json:"product_id" validate:"required,uuid"`
	LotCode    string          `json:"lot_code" validate:"required"`
	ExpiryDate string          `json:"expiry_date" validate:"required,datetime=2006-01-02"`
	Quantity   int             `json:"quantity" validate:"required,gt=0"`
	UnitCost   decimal.Decimal `json:"unit_cost" validate:"required"`
}

// CreatePurchaseRequest is the input to the purchase coordinator.
type CreatePurchaseRequest struct {
	SupplierID string                `json:"supplier_id" validate:"required,uuid"`
	AccountID  *string               `json:"account_id,omitempty" validate:"omitempty,uuid"`
	Lines      []PurchaseLineRequest `json:"lines" validate:"required,min=1,dive"`
}

// PurchaseResult is the committed purchase with its received lines.
type PurchaseResult struct {
	Purchase *repository.Purchase       `json:"purchase"`
	Items    []*repository.PurchaseItem `json:"items"`
}

// PurchaseService coordinates the atomic purchase transaction: batch
// creation or growth, supplier balance and ledger, and the optional payment
// debit, all inside one unit of work.
type PurchaseService struct {
	db           *database.DB
	productRepo  *repository.ProductRepository
	batchRepo    *repository.BatchRepository
	supplierRepo *repository.SupplierRepository
	accountRepo  *repository.AccountRepository
	purchaseRepo *repository.PurchaseRepository
	audit        *AuditRecorder
	publisher    *events.StockEventPublisher
	mirror       *LegacyMirror
	logger       *logger.Logger
}

// NewPurchaseService creates a new purchase service
func NewPurchaseService(
	db *database.DB,
	productRepo *repository.ProductRepository,
	batchRepo *repository.BatchRepository,
	supplierRepo *repository.SupplierRepository,
	accountRepo *repository.AccountRepository,
	purchaseRepo *repository.PurchaseRepository,
	audit *AuditRecorder,
	publisher *events.StockEventPublisher,
	mirror *LegacyMirror,
	log *logger.Logger,
) *PurchaseService {
	return &PurchaseService{
		db:           db,
		productRepo:  productRepo,
		batchRepo:    batchRepo,
		supplierRepo: supplierRepo,
		accountRepo:  accountRepo,
		purchaseRepo: purchaseRepo,
		audit:        audit,
		publisher:    publisher,
		mirror:       mirror,
		logger:       log,
	}
}

// CreatePurchase runs the full purchase as one atomic unit. Each line grows
// the matching (product, lot) batch through the guard or creates a new batch
// at version 1. The supplier balance and ledger always move; the payment
// account is debited only when one is given, and an overdraft aborts
// everything with InsufficientFunds.
func (s *PurchaseService) CreatePurchase(ctx context.Context, req *CreatePurchaseRequest) (*PurchaseResult, error) {
	if len(req.Lines) == 0 {
		return nil, errors.BadRequest("purchase must contain at least one line")
	}

	// Referential checks before any mutation.
	products := make(map[string]*repository.Product, len(req.Lines))
	for _, line := range req.Lines {
		if _, ok := products[line.ProductID]; ok {
			continue
		}
		product, err := s.productRepo.GetByID(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}
		products[line.ProductID] = product
	}

	supplier, err := s.supplierRepo.GetByID(ctx, req.SupplierID)
	if err != nil {
		return nil, err
	}

	var account *repository.Account
	if req.AccountID != nil {
		account, err = s.accountRepo.GetByID(ctx, *req.AccountID)
		if err != nil {
			return nil, err
		}
	}

	total := decimal.Zero
	for _, line := range req.Lines {
		total = total.Add(line.UnitCost.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	if account != nil && total.GreaterThan(account.Balance) {
		return nil, errors.InsufficientFunds(account.ID)
	}

	result := &PurchaseResult{}

	txErr := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		purchaseRepo := s.purchaseRepo.WithTx(tx)
		batchRepo := s.batchRepo.WithTx(tx)

		purchase := &repository.Purchase{
			SupplierID:  req.SupplierID,
			AccountID:   req.AccountID,
			TotalAmount: total,
			CreatedByID: actor.IDFromContext(ctx),
		}
		if err := purchaseRepo.Create(ctx, purchase); err != nil {
			return err
		}

		for _, line := range req.Lines {
			product := products[line.ProductID]
			expiry, err := parseDate(line.ExpiryDate)
			if err != nil {
				return errors.BadRequest("expiry_date must be a valid date (YYYY-MM-DD)")
			}

			unitsReceived := line.Quantity * product.UnitsPerPackage

			// Same product and lot grows the existing batch; a new lot gets
			// its own batch starting at version 1.
			batch, err := batchRepo.FindByProductAndLot(ctx, line.ProductID, line.LotCode)
			if err != nil {
				return err
			}
			if batch != nil {
				if err := batchRepo.AddQuantity(ctx, batch.ID, unitsReceived, batch.Version); err != nil {
					return err
				}
			} else {
				unitCost := line.UnitCost
				batch = &repository.Batch{
					ProductID:        line.ProductID,
					LotCode:          line.LotCode,
					Quantity:         unitsReceived,
					ExpiryDate:       expiry,
					SourcePurchaseID: &purchase.ID,
					UnitCost:         &unitCost,
				}
				if err := batchRepo.Create(ctx, batch); err != nil {
					return err
				}
			}

			item := &repository.PurchaseItem{
				PurchaseID:    purchase.ID,
				ProductID:     line.ProductID,
				BatchID:       batch.ID,
				LotCode:       line.LotCode,
				ExpiryDate:    expiry,
				Quantity:      line.Quantity,
				UnitsReceived: unitsReceived,
				UnitCost:      line.UnitCost,
				LineTotal:     line.UnitCost.Mul(decimal.NewFromInt(int64(line.Quantity))),
			}
			if err := purchaseRepo.AddItem(ctx, item); err != nil {
				return err
			}
			result.Items = append(result.Items, item)
		}

		supplierRepo := s.supplierRepo.WithTx(tx)
		if err := supplierRepo.AdjustBalance(ctx, supplier.ID, total,
			repository.LedgerEntryPurchase, &purchase.ID, supplier.Version); err != nil {
			return err
		}

		if account != nil {
			accountRepo := s.accountRepo.WithTx(tx)
			current, err := accountRepo.GetByID(ctx, account.ID)
			if err != nil {
				return err
			}
			if err := accountRepo.Debit(ctx, current.ID, total, current.Version); err != nil {
				// The debit predicate re-checks funds; zero rows with an
				// unchanged version means the balance no longer covers it.
				if errors.Is(err, errors.ErrVersionConflict) && !current.Balance.GreaterThanOrEqual(total) {
					return errors.InsufficientFunds(current.ID)
				}
				return err
			}
			// Paying immediately settles the liability just recorded.
			if err := supplierRepo.AdjustBalance(ctx, supplier.ID, total.Neg(),
				repository.LedgerEntryPayment, &purchase.ID, supplier.Version+1); err != nil {
				return err
			}
		}

		if err := s.audit.WithTx(tx).Record(ctx, "purchase", purchase.ID,
			repository.AuditActionPurchaseCompleted, repository.AuditSeverityInfo,
			map[string]interface{}{
				"supplier_id":  req.SupplierID,
				"total_amount": total.String(),
				"line_count":   len(result.Items),
			},
		); err != nil {
			return err
		}

		result.Purchase = purchase
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	s.afterPurchaseCommit(ctx, result)
	return result, nil
}

// afterPurchaseCommit runs the best-effort post-commit steps
func (s *PurchaseService) afterPurchaseCommit(ctx context.Context, result *PurchaseResult) {
	for _, item := range result.Items {
		s.publisher.PublishStockReceived(ctx, result.Purchase.ID, item)
	}
	s.publisher.PublishPurchaseCompleted(ctx, result.Purchase, len(result.Items))

	seen := map[string]bool{}
	for _, item := range result.Items {
		if seen[item.ProductID] {
			continue
		}
		seen[item.ProductID] = true
		s.mirror.SyncProduct(ctx, item.ProductID)
	}
}

// ReturnPurchase reverses a committed purchase: received units are deducted
// from their batches through the guard, the supplier balance is reduced, and
// the purchase is marked returned. Fails if the stock has already been sold.
func (s *PurchaseService) ReturnPurchase(ctx context.Context, purchaseID string) (*repository.Purchase, error) {
	purchase, err := s.purchaseRepo.GetByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	if purchase.Status == repository.PurchaseStatusReturned {
		return nil, errors.Conflict("purchase has already been returned")
	}

	items, err := s.purchaseRepo.ListItems(ctx, purchaseID)
	if err != nil {
		return nil, err
	}

	supplier, err := s.supplierRepo.GetByID(ctx, purchase.SupplierID)
	if err != nil {
		return nil, err
	}

	txErr := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		batchRepo := s.batchRepo.WithTx(tx)
		for _, item := range items {
			batch, err := batchRepo.GetByID(ctx, item.BatchID)
			if err != nil {
				return err
			}
			if batch.Quantity < item.UnitsReceived {
				return errors.Conflict("received stock has already been partially sold")
			}
			if err := batchRepo.DeductQuantity(ctx, batch.ID, item.UnitsReceived, batch.Version); err != nil {
				return err
			}
		}

		if err := s.supplierRepo.WithTx(tx).AdjustBalance(ctx, supplier.ID,
			purchase.TotalAmount.Neg(), repository.LedgerEntryPurchaseReturn,
			&purchase.ID, supplier.Version); err != nil {
			return err
		}

		if purchase.AccountID != nil {
			accountRepo := s.accountRepo.WithTx(tx)
			account, err := accountRepo.GetByID(ctx, *purchase.AccountID)
			if err != nil {
				return err
			}
			if err := accountRepo.Credit(ctx, account.ID, purchase.TotalAmount, account.Version); err != nil {
				return err
			}
		}

		if err := s.purchaseRepo.WithTx(tx).MarkReturned(ctx, purchaseID); err != nil {
			return err
		}

		return s.audit.WithTx(tx).Record(ctx, "purchase", purchaseID,
			repository.AuditActionPurchaseReturned, repository.AuditSeverityInfo,
			map[string]interface{}{
				"total_amount": purchase.TotalAmount.String(),
				"line_count":   len(items),
			},
		)
	})
	if txErr != nil {
		return nil, txErr
	}

	purchase.Status = repository.PurchaseStatusReturned

	seen := map[string]bool{}
	for _, item := range items {
		if seen[item.ProductID] {
			continue
		}
		seen[item.ProductID] = true
		s.mirror.SyncProduct(ctx, item.ProductID)
	}

	return purchase, nil
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("2006-01-02", s)
}

// GetSupplierLedger returns a supplier with its most recent ledger entries
func (s *PurchaseService) GetSupplierLedger(ctx context.Context, supplierID string, limit int) (*SupplierLedger, error) {
	supplier, err := s.supplierRepo.GetByID(ctx, supplierID)
	if err != nil {
		return nil, err
	}
	entries, err := s.supplierRepo.ListLedger(ctx, supplierID, limit)
	if err != nil {
		return nil, err
	}
	return &SupplierLedger{Supplier: supplier, Entries: entries}, nil
}

// SupplierLedger is a supplier's running balance with its movement history.
type SupplierLedger struct {
	Supplier *repository.Supplier              `json:"supplier"`
	Entries  []*repository.SupplierLedgerEntry `json:"entries"`
}

// GetPurchase returns a purchase with its lines
func (s *PurchaseService) GetPurchase(ctx context.Context, purchaseID string) (*PurchaseResult, error) {
	purchase, err := s.purchaseRepo.GetByID(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	items, err := s.purchaseRepo.ListItems(ctx, purchaseID)
	if err != nil {
		return nil, err
	}
	return &PurchaseResult{Purchase: purchase, Items: items}, nil
}
