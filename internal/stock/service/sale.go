package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/events"
	"github.com/pharmadesk/pharmadesk-backend/internal/stock/repository"
	"github.com/pharmadesk/pharmadesk-backend/pkg/actor"
	"github.com/pharmadesk/pharmadesk-backend/pkg/config"
	"github.com/pharmadesk/pharmadesk-backend/pkg/database"
	"github.com/pharmadesk/pharmadesk-backend/pkg/errors"
	"github.com/pharmadesk/pharmadesk-backend/pkg/logger"
	"github.com/shopspring/decimal"
)

// SaleLineRequest is one product line of a sale request.
type SaleLineRequest struct {
	ProductID string `json:"product_id" validate:"required,uuid"`
	Quantity  int    `json:"quantity" validate:"required,gt=0"`
}

// CreateSaleRequest is the input to the sale coordinator.
type CreateSaleRequest struct {
	CustomerID     *string           `json:"customer_id,omitempty" validate:"omitempty,uuid"`
	AccountID      string            `json:"account_id" validate:"required,uuid"`
	Lines          []SaleLineRequest `json:"lines" validate:"required,min=1,dive"`
	PointsRedeemed int64             `json:"points_redeemed" validate:"min=0"`
}

// SaleResult is the committed sale with its allocation lines.
type SaleResult struct {
	Sale       *repository.Sale       `json:"sale"`
	Items      []*repository.SaleItem `json:"items"`
	NearExpiry bool                   `json:"near_expiry"`
}

// SaleService coordinates the atomic sale transaction: FEFO allocation,
// versioned stock deduction, balance and loyalty side effects, and the audit
// record, all inside one unit of work.
type SaleService struct {
	db           *database.DB
	productRepo  *repository.ProductRepository
	batchRepo    *repository.BatchRepository
	customerRepo *repository.CustomerRepository
	accountRepo  *repository.AccountRepository
	saleRepo     *repository.SaleRepository
	allocator    *Allocator
	audit        *AuditRecorder
	publisher    *events.StockEventPublisher
	mirror       *LegacyMirror
	stockCfg     config.StockConfig
	logger       *logger.Logger
}

// NewSaleService creates a new sale service
func NewSaleService(
	db *database.DB,
	productRepo *repository.ProductRepository,
	batchRepo *repository.BatchRepository,
	customerRepo *repository.CustomerRepository,
	accountRepo *repository.AccountRepository,
	saleRepo *repository.SaleRepository,
	allocator *Allocator,
	audit *AuditRecorder,
	publisher *events.StockEventPublisher,
	mirror *LegacyMirror,
	stockCfg config.StockConfig,
	log *logger.Logger,
) *SaleService {
	return &SaleService{
		db:           db,
		productRepo:  productRepo,
		batchRepo:    batchRepo,
		customerRepo: customerRepo,
		accountRepo:  accountRepo,
		saleRepo:     saleRepo,
		allocator:    allocator,
		audit:        audit,
		publisher:    publisher,
		mirror:       mirror,
		stockCfg:     stockCfg,
		logger:       log,
	}
}

// CreateSale runs the full sale as one atomic unit. Allocation, expiry
// re-checks, versioned deductions, the account credit, loyalty accrual and
// the audit row either all commit or none do. Blocked attempts (expired
// stock) are audited after the rollback.
func (s *SaleService) CreateSale(ctx context.Context, req *CreateSaleRequest) (*SaleResult, error) {
	if len(req.Lines) == 0 {
		return nil, errors.BadRequest("sale must contain at least one line")
	}
	if req.PointsRedeemed > 0 && req.CustomerID == nil {
		return nil, errors.BadRequest("points cannot be redeemed without a customer")
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

	var customer *repository.Customer
	if req.CustomerID != nil {
		var err error
		customer, err = s.customerRepo.GetByID(ctx, *req.CustomerID)
		if err != nil {
			return nil, err
		}
	}

	if _, err := s.accountRepo.GetByID(ctx, req.AccountID); err != nil {
		return nil, err
	}

	now := time.Now()
	result := &SaleResult{}

	txErr := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		batchRepo := s.batchRepo.WithTx(tx)
		allocator := s.allocator.WithBatchRepo(batchRepo)

		sale := &repository.Sale{
			CustomerID:     req.CustomerID,
			AccountID:      req.AccountID,
			PointsRedeemed: req.PointsRedeemed,
			CreatedByID:    actor.IDFromContext(ctx),
			TotalAmount:    decimal.Zero,
		}

		type appliedLine struct {
			plan    *AllocationPlan
			product *repository.Product
		}
		applied := make([]appliedLine, 0, len(req.Lines))

		// Plan and deduct, line by line. Each plan is applied against the
		// exact batch versions it was computed from; any interleaved writer
		// surfaces as a version conflict and aborts the whole sale.
		for _, line := range req.Lines {
			plan, err := allocator.Allocate(ctx, line.ProductID, line.Quantity, now)
			if err != nil {
				return err
			}

			for _, pl := range plan.Lines {
				batch, err := batchRepo.GetByID(ctx, pl.BatchID)
				if err != nil {
					return err
				}
				// Trip-wire: the plan only holds batches valid at planning
				// time, so an expired batch here means state we did not
				// account for. Abort rather than ship expired stock.
				if batch.IsExpired(now) {
					return errors.ExpiredBatchDetected(pl.BatchID)
				}

				if err := batchRepo.DeductQuantity(ctx, pl.BatchID, pl.Quantity, pl.Version); err != nil {
					return err
				}
			}

			applied = append(applied, appliedLine{plan: plan, product: products[line.ProductID]})
			if plan.NearExpiry {
				result.NearExpiry = true
			}
		}

		for _, al := range applied {
			for _, pl := range al.plan.Lines {
				lineTotal := al.product.SalePrice.Mul(decimal.NewFromInt(int64(pl.Quantity)))
				sale.TotalAmount = sale.TotalAmount.Add(lineTotal)
			}
		}
		if customer != nil {
			sale.PointsEarned = sale.TotalAmount.
				Div(decimal.NewFromInt(s.stockCfg.LoyaltyDivisor)).
				Floor().IntPart()
		}
		sale.NearExpiryFlag = result.NearExpiry

		saleRepo := s.saleRepo.WithTx(tx)
		if err := saleRepo.Create(ctx, sale); err != nil {
			return err
		}

		for _, al := range applied {
			for _, pl := range al.plan.Lines {
				batchID := pl.BatchID
				item := &repository.SaleItem{
					SaleID:     sale.ID,
					ProductID:  al.product.ID,
					BatchID:    &batchID,
					LotCode:    pl.LotCode,
					ExpiryDate: pl.ExpiryDate,
					Quantity:   pl.Quantity,
					UnitPrice:  al.product.SalePrice,
					LineTotal:  al.product.SalePrice.Mul(decimal.NewFromInt(int64(pl.Quantity))),
				}
				if err := saleRepo.AddItem(ctx, item); err != nil {
					return err
				}
				result.Items = append(result.Items, item)
			}
		}

		// Balance moves only after every deduction is confirmed.
		if sale.TotalAmount.IsPositive() {
			account, err := s.accountRepo.WithTx(tx).GetByID(ctx, req.AccountID)
			if err != nil {
				return err
			}
			if err := s.accountRepo.WithTx(tx).Credit(ctx, account.ID, sale.TotalAmount, account.Version); err != nil {
				return err
			}
		}

		if customer != nil {
			err := s.customerRepo.WithTx(tx).ApplyLoyalty(ctx,
				customer.ID, sale.PointsEarned, req.PointsRedeemed, sale.TotalAmount, customer.Version)
			if err != nil {
				return err
			}
		}

		if err := s.audit.WithTx(tx).Record(ctx, "sale", sale.ID,
			repository.AuditActionSaleCompleted, repository.AuditSeverityInfo,
			map[string]interface{}{
				"total_amount":    sale.TotalAmount.String(),
				"line_count":      len(result.Items),
				"points_earned":   sale.PointsEarned,
				"points_redeemed": sale.PointsRedeemed,
				"near_expiry":     sale.NearExpiryFlag,
			},
		); err != nil {
			return err
		}

		result.Sale = sale
		return nil
	})

	if txErr != nil {
		s.auditBlockedSale(ctx, req, txErr)
		return nil, txErr
	}

	s.afterSaleCommit(ctx, result)
	return result, nil
}

// auditBlockedSale records expired-stock blocks after the rollback. Only
// expiry blocks are audited; shortfalls and conflicts are ordinary outcomes.
func (s *SaleService) auditBlockedSale(ctx context.Context, req *CreateSaleRequest, err error) {
	var appErr *errors.AppError
	if !errors.As(err, &appErr) {
		return
	}

	switch {
	case errors.Is(err, errors.ErrAllExpired):
		s.audit.RecordBlocked(ctx, "product", appErr.Details["product_id"],
			repository.AuditActionSaleBlocked, repository.AuditSeverityWarning,
			map[string]interface{}{
				"reason": appErr.Code,
			})
	case errors.Is(err, errors.ErrExpiredBatchDetected):
		// The trip-wire firing means a batch expired between planning and
		// deduction inside one transaction; that is a state the guard should
		// have made impossible, so it is recorded at critical severity.
		s.audit.RecordBlocked(ctx, "batch", appErr.Details["batch_id"],
			repository.AuditActionSaleBlocked, repository.AuditSeverityCritical,
			map[string]interface{}{
				"reason": appErr.Code,
			})
	}
}

// afterSaleCommit runs the best-effort post-commit steps: event publishing
// and the legacy stock mirror. Neither can undo the committed sale.
func (s *SaleService) afterSaleCommit(ctx context.Context, result *SaleResult) {
	for _, item := range result.Items {
		s.publisher.PublishStockDeducted(ctx, result.Sale.ID, item)
	}
	s.publisher.PublishSaleCompleted(ctx, result.Sale, len(result.Items))

	seen := map[string]bool{}
	for _, item := range result.Items {
		if seen[item.ProductID] {
			continue
		}
		seen[item.ProductID] = true
		s.mirror.SyncProduct(ctx, item.ProductID)
	}
}

// ReturnSale reverses a committed sale: every drawn quantity is added back
// to its original batch through the guard, the account is debited, loyalty
// is unwound, and the sale is marked returned. Atomic like the sale itself.
func (s *SaleService) ReturnSale(ctx context.Context, saleID string) (*repository.Sale, error) {
	sale, err := s.saleRepo.GetByID(ctx, saleID)
	if err != nil {
		return nil, err
	}
	if sale.Status == repository.SaleStatusReturned {
		return nil, errors.Conflict("sale has already been returned")
	}

	items, err := s.saleRepo.ListItems(ctx, saleID)
	if err != nil {
		return nil, err
	}

	txErr := s.db.Transaction(ctx, func(tx *sqlx.Tx) error {
		batchRepo := s.batchRepo.WithTx(tx)
		for _, item := range items {
			if item.BatchID == nil {
				continue
			}
			batch, err := batchRepo.GetByID(ctx, *item.BatchID)
			if err != nil {
				// The batch may have been deleted after emptying; the
				// return then has nowhere to restock and must fail.
				return err
			}
			if err := batchRepo.AddQuantity(ctx, batch.ID, item.Quantity, batch.Version); err != nil {
				return err
			}
		}

		if sale.TotalAmount.IsPositive() {
			account, err := s.accountRepo.WithTx(tx).GetByID(ctx, sale.AccountID)
			if err != nil {
				return err
			}
			if err := s.accountRepo.WithTx(tx).Debit(ctx, account.ID, sale.TotalAmount, account.Version); err != nil {
				// The debit predicate re-checks funds; zero rows with an
				// unchanged version means the account no longer covers the
				// refund.
				if errors.Is(err, errors.ErrVersionConflict) && !account.Balance.GreaterThanOrEqual(sale.TotalAmount) {
					return errors.InsufficientFunds(account.ID)
				}
				return err
			}
		}

		if sale.CustomerID != nil {
			customer, err := s.customerRepo.WithTx(tx).GetByID(ctx, *sale.CustomerID)
			if err != nil {
				return err
			}
			// Earned and redeemed swap roles on the way back; the lifetime
			// total shrinks by the refunded amount.
			err = s.customerRepo.WithTx(tx).ApplyLoyalty(ctx,
				customer.ID, sale.PointsRedeemed, sale.PointsEarned, sale.TotalAmount.Neg(), customer.Version)
			if err != nil {
				return err
			}
		}

		if err := s.saleRepo.WithTx(tx).MarkReturned(ctx, saleID); err != nil {
			return err
		}

		return s.audit.WithTx(tx).Record(ctx, "sale", saleID,
			repository.AuditActionSaleReturned, repository.AuditSeverityInfo,
			map[string]interface{}{
				"total_amount": sale.TotalAmount.String(),
				"line_count":   len(items),
			},
		)
	})
	if txErr != nil {
		return nil, txErr
	}

	sale.Status = repository.SaleStatusReturned

	seen := map[string]bool{}
	for _, item := range items {
		if seen[item.ProductID] {
			continue
		}
		seen[item.ProductID] = true
		s.mirror.SyncProduct(ctx, item.ProductID)
	}

	return sale, nil
}

// GetSale returns a sale with its lines
func (s *SaleService) GetSale(ctx context.Context, saleID string) (*SaleResult, error) {
	sale, err := s.saleRepo.GetByID(ctx, saleID)
	if err != nil {
		return nil, err
	}
	items, err := s.saleRepo.ListItems(ctx, saleID)
	if err != nil {
		return nil, err
	}
	return &SaleResult{Sale: sale, Items: items, NearExpiry: sale.NearExpiryFlag}, nil
}
