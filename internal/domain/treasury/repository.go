package treasury

import (
	"context"
	"time"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/google/uuid"
)

// AccountRepository defines persistence for accounts
type AccountRepository interface {
	// FindByID loads an account regardless of tenant, so callers can tell a
	// missing account from one owned by another tenant. Returns nil if absent.
	FindByID(ctx context.Context, id uuid.UUID) (*Account, error)
	// FindByIDForUpdate is FindByID with a row lock held until commit
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*Account, error)
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, activeOnly bool) ([]Account, error)
	ExistsByCode(ctx context.Context, tenantID uuid.UUID, code string) (bool, error)
	Save(ctx context.Context, account *Account) error
}

// MovementFilter narrows movement queries. Zero dates are open bounds.
type MovementFilter struct {
	AccountIDs        []uuid.UUID
	From              time.Time
	To                time.Time
	ExcludeReferences []ReferenceType
	Paging            shared.Filter
	Unpaged           bool
}

// MovementRepository is the append-only ledger store
type MovementRepository interface {
	// Append inserts movements; existing rows are never updated
	Append(ctx context.Context, movements ...*Movement) error
	FindByID(ctx context.Context, tenantID, id uuid.UUID) (*Movement, error)
	FindByReference(ctx context.Context, tenantID uuid.UUID, refType ReferenceType, refID uuid.UUID) ([]Movement, error)
	Find(ctx context.Context, tenantID uuid.UUID, filter MovementFilter) ([]Movement, int64, error)
	// Totals sums inflow and outflow of an account for movements dated on or before asOf
	Totals(ctx context.Context, tenantID, accountID uuid.UUID, asOf time.Time) (LedgerTotals, error)
}

// TransferRepository defines persistence for transfers
type TransferRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Transfer, error)
	Save(ctx context.Context, transfer *Transfer) error
}

// StatementRepository defines persistence for statements and their lines
type StatementRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Statement, error)
	// FindByIDForUpdate locks the statement row until commit
	FindByIDForUpdate(ctx context.Context, tenantID, id uuid.UUID) (*Statement, error)
	FindAllForTenant(ctx context.Context, tenantID uuid.UUID, accountID *uuid.UUID, filter shared.Filter) ([]Statement, int64, error)
	// Save inserts or updates the statement and all its lines
	Save(ctx context.Context, statement *Statement) error
	// MatchedMovementIDs returns every movement of the account linked to any statement line
	MatchedMovementIDs(ctx context.Context, accountID uuid.UUID) ([]uuid.UUID, error)
	// SoftDelete marks the statement deleted
	SoftDelete(ctx context.Context, tenantID, id uuid.UUID) error
	// FindPurgeableAttachments returns deleted statements whose attachment is still stored
	FindPurgeableAttachments(ctx context.Context, deletedBefore time.Time, limit int) ([]Statement, error)
	MarkAttachmentPurged(ctx context.Context, id uuid.UUID, at time.Time) error
}

// InvoiceRepository defines persistence for invoices
type InvoiceRepository interface {
	FindByIDForTenant(ctx context.Context, tenantID, id uuid.UUID) (*Invoice, error)
	FindByIDsForTenant(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) ([]*Invoice, error)
	FindOpenForTenant(ctx context.Context, tenantID uuid.UUID, clientID *uuid.UUID) ([]*Invoice, error)
	ExistsByNumber(ctx context.Context, tenantID uuid.UUID, number string) (bool, error)
	Save(ctx context.Context, invoice *Invoice) error
	// SaveWithLock updates the invoice only if its stored version is version-1
	SaveWithLock(ctx context.Context, invoice *Invoice) error
}
