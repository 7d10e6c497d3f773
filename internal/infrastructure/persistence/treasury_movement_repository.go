package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/erp/treasury/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// GormMovementRepository implements the append-only MovementRepository using GORM
type GormMovementRepository struct {
	db *gorm.DB
}

// NewGormMovementRepository creates a new GormMovementRepository
func NewGormMovementRepository(db *gorm.DB) *GormMovementRepository {
	return &GormMovementRepository{db: db}
}

// Append inserts the movements in one statement
func (r *GormMovementRepository) Append(ctx context.Context, movements ...*treasury.Movement) error {
	if len(movements) == 0 {
		return nil
	}
	rows := make([]*models.MovementModel, len(movements))
	for i, m := range movements {
		rows[i] = models.MovementModelFromDomain(m)
	}
	return r.db.WithContext(ctx).Create(&rows).Error
}

// FindByID finds a movement of the tenant. Returns nil if absent.
func (r *GormMovementRepository) FindByID(ctx context.Context, tenantID, id uuid.UUID) (*treasury.Movement, error) {
	var model models.MovementModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByReference returns the movements produced by one document
func (r *GormMovementRepository) FindByReference(ctx context.Context, tenantID uuid.UUID, refType treasury.ReferenceType, refID uuid.UUID) ([]treasury.Movement, error) {
	var rows []models.MovementModel
	if err := r.db.WithContext(ctx).
		Where("tenant_id = ? AND reference_type = ? AND reference_id = ?", tenantID, refType, refID).
		Order("created_at ASC, id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return toMovements(rows), nil
}

func (r *GormMovementRepository) filtered(ctx context.Context, tenantID uuid.UUID, filter treasury.MovementFilter) *gorm.DB {
	query := r.db.WithContext(ctx).Model(&models.MovementModel{}).Where("tenant_id = ?", tenantID)
	if len(filter.AccountIDs) > 0 {
		query = query.Where("account_id IN ?", filter.AccountIDs)
	}
	if !filter.From.IsZero() {
		query = query.Where("date >= ?", treasury.DateOf(filter.From))
	}
	if !filter.To.IsZero() {
		query = query.Where("date <= ?", treasury.DateOf(filter.To))
	}
	if len(filter.ExcludeReferences) > 0 {
		query = query.Where("reference_type NOT IN ?", filter.ExcludeReferences)
	}
	return query
}

// Find returns movements ordered by date then insertion, with the total row count
func (r *GormMovementRepository) Find(ctx context.Context, tenantID uuid.UUID, filter treasury.MovementFilter) ([]treasury.Movement, int64, error) {
	query := r.filtered(ctx, tenantID, filter)

	var total int64
	if !filter.Unpaged {
		if err := query.Count(&total).Error; err != nil {
			return nil, 0, err
		}
		paging := filter.Paging.Normalized()
		query = query.Offset(paging.Offset()).Limit(paging.PageSize)
	}

	var rows []models.MovementModel
	if err := query.Order("date ASC, created_at ASC, id ASC").Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	if filter.Unpaged {
		total = int64(len(rows))
	}
	return toMovements(rows), total, nil
}

type amountRow struct {
	Inflow  decimal.Decimal
	Outflow decimal.Decimal
}

// Totals sums an account's movements dated on or before asOf; a zero asOf
// includes every movement. Amounts are added as decimals in Go so no
// floating point aggregate is ever involved.
func (r *GormMovementRepository) Totals(ctx context.Context, tenantID, accountID uuid.UUID, asOf time.Time) (treasury.LedgerTotals, error) {
	totals := treasury.LedgerTotals{Inflow: decimal.Zero, Outflow: decimal.Zero}

	query := r.db.WithContext(ctx).Model(&models.MovementModel{}).
		Select("inflow", "outflow").
		Where("tenant_id = ? AND account_id = ?", tenantID, accountID)
	if !asOf.IsZero() {
		query = query.Where("date <= ?", treasury.DateOf(asOf))
	}

	rows, err := query.Rows()
	if err != nil {
		return totals, err
	}
	defer rows.Close()

	for rows.Next() {
		var row amountRow
		if err := r.db.ScanRows(rows, &row); err != nil {
			return totals, err
		}
		totals.Inflow = totals.Inflow.Add(row.Inflow)
		totals.Outflow = totals.Outflow.Add(row.Outflow)
		totals.Count++
	}
	return totals, rows.Err()
}

func toMovements(rows []models.MovementModel) []treasury.Movement {
	out := make([]treasury.Movement, len(rows))
	for i := range rows {
		out[i] = *rows[i].ToDomain()
	}
	return out
}

var _ treasury.MovementRepository = (*GormMovementRepository)(nil)
