package persistence

import (
	"context"
	"errors"
	"time"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/erp/treasury/internal/infrastructure/persistence/models"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// GormStatementRepository implements StatementRepository using GORM.
// Lines are loaded and saved with their statement.
type GormStatementRepository struct {
	db *gorm.DB
}

// NewGormStatementRepository creates a new GormStatementRepository
func NewGormStatementRepository(db *gorm.DB) *GormStatementRepository {
	return &GormStatementRepository{db: db}
}

func preloadLines(db *gorm.DB) *gorm.DB {
	return db.Order("line_no ASC")
}

func (r *GormStatementRepository) findOne(query *gorm.DB, tenantID, id uuid.UUID) (*treasury.Statement, error) {
	var model models.StatementModel
	if err := query.
		Preload("Lines", preloadLines).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return model.ToDomain(), nil
}

// FindByIDForTenant finds a statement with its lines. Returns nil if absent.
func (r *GormStatementRepository) FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*treasury.Statement, error) {
	return r.findOne(r.db.WithContext(ctx), tenantID, id)
}

// FindByIDForUpdate finds a statement and locks its row until commit
func (r *GormStatementRepository) FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*treasury.Statement, error) {
	return r.findOne(r.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), tenantID, id)
}

// FindAllForTenant pages through statements, newest period first
func (r *GormStatementRepository) FindAllForTenant(ctx context.Context, tenantID uuid.UUID, accountID *uuid.UUID, filter shared.Filter) ([]treasury.Statement, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.StatementModel{}).Where("tenant_id = ?", tenantID)
	if accountID != nil {
		query = query.Where("account_id = ?", *accountID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	filter = filter.Normalized()
	var rows []models.StatementModel
	if err := query.
		Preload("Lines", preloadLines).
		Order("period_start DESC, created_at DESC").
		Offset(filter.Offset()).
		Limit(filter.PageSize).
		Find(&rows).Error; err != nil {
		return nil, 0, err
	}

	statements := make([]treasury.Statement, len(rows))
	for i := range rows {
		statements[i] = *rows[i].ToDomain()
	}
	return statements, total, nil
}

// Save upserts the statement row and every line
func (r *GormStatementRepository) Save(ctx context.Context, statement *treasury.Statement) error {
	model := models.StatementModelFromDomain(statement)
	lines := model.Lines
	model.Lines = nil

	db := r.db.WithContext(ctx)
	if err := db.Omit(clause.Associations).Save(model).Error; err != nil {
		return err
	}
	if len(lines) == 0 {
		return nil
	}
	return db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"match_status", "matched_movement_id"}),
	}).Create(&lines).Error
}

// MatchedMovementIDs returns every movement of the account linked to a line
// of any of its statements
func (r *GormStatementRepository) MatchedMovementIDs(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	err := r.db.WithContext(ctx).
		Table(models.StatementLineModel{}.TableName()+" AS l").
		Joins("JOIN "+models.StatementModel{}.TableName()+" AS s ON s.id = l.statement_id").
		Where("s.account_id = ? AND l.matched_movement_id IS NOT NULL", accountID).
		Pluck("l.matched_movement_id", &ids).Error
	return ids, err
}

// SoftDelete marks the statement deleted
func (r *GormStatementRepository) SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error {
	result := r.db.WithContext(ctx).
		Where("tenant_id = ? AND id = ?", tenantID, id).
		Delete(&models.StatementModel{})
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return treasury.NewNotFoundError(treasury.CodeStatementNotFound, "Statement", id)
	}
	return nil
}

// FindPurgeableAttachments returns statements deleted before deletedBefore
// whose attachment has not been purged, oldest first
func (r *GormStatementRepository) FindPurgeableAttachments(ctx context.Context, deletedBefore time.Time, limit int) ([]treasury.Statement, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []models.StatementModel
	if err := r.db.WithContext(ctx).Unscoped().
		Where("deleted_at IS NOT NULL AND deleted_at < ?", deletedBefore).
		Where("attachment_key <> '' AND attachment_purged_at IS NULL").
		Order("deleted_at ASC").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	statements := make([]treasury.Statement, len(rows))
	for i := range rows {
		statements[i] = *rows[i].ToDomain()
	}
	return statements, nil
}

// MarkAttachmentPurged records that the attachment object is gone
func (r *GormStatementRepository) MarkAttachmentPurged(ctx context.Context, id uuid.UUID, at time.Time) error {
	return r.db.WithContext(ctx).Unscoped().
		Model(&models.StatementModel{}).
		Where("id = ?", id).
		Update("attachment_purged_at", at.UTC()).Error
}

var _ treasury.StatementRepository = (*GormStatementRepository)(nil)
