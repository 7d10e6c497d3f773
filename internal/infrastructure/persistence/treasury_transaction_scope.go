package persistence

import (
	"context"

	apptreasury "github.com/erp/treasury/internal/application/treasury"
	"github.com/erp/treasury/internal/domain/treasury"
	"gorm.io/gorm"
)

// NewRepositories builds the treasury repositories on db
func NewRepositories(db *gorm.DB) apptreasury.Repositories {
	return apptreasury.Repositories{
		Accounts:   NewGormAccountRepository(db),
		Movements:  NewGormMovementRepository(db),
		Transfers:  NewGormTransferRepository(db),
		Statements: NewGormStatementRepository(db),
		Invoices:   NewGormInvoiceRepository(db),
	}
}

// GormTransactionScope implements TransactionScope using GORM transactions.
// It provides atomic execution of multiple repository operations.
type GormTransactionScope struct {
	db *gorm.DB
}

// NewGormTransactionScope creates a new GormTransactionScope.
func NewGormTransactionScope(db *gorm.DB) *GormTransactionScope {
	return &GormTransactionScope{db: db}
}

// Execute runs the given function within a database transaction.
// If the function returns an error, the transaction is rolled back.
// If the function succeeds, the transaction is committed.
func (s *GormTransactionScope) Execute(ctx context.Context, fn func(repos apptreasury.TransactionalRepositories) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTransactionalRepositories{tx: tx})
	})
}

// gormTransactionalRepositories provides access to all repositories within a transaction.
type gormTransactionalRepositories struct {
	tx *gorm.DB
}

// Accounts returns the account repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Accounts() treasury.AccountRepository {
	return NewGormAccountRepository(r.tx)
}

// Movements returns the movement repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Movements() treasury.MovementRepository {
	return NewGormMovementRepository(r.tx)
}

// Transfers returns the transfer repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Transfers() treasury.TransferRepository {
	return NewGormTransferRepository(r.tx)
}

// Statements returns the statement repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Statements() treasury.StatementRepository {
	return NewGormStatementRepository(r.tx)
}

// Invoices returns the invoice repository scoped to the current transaction.
func (r *gormTransactionalRepositories) Invoices() treasury.InvoiceRepository {
	return NewGormInvoiceRepository(r.tx)
}

// Ensure GormTransactionScope implements TransactionScope
var _ apptreasury.TransactionScope = (*GormTransactionScope)(nil)

// Ensure gormTransactionalRepositories implements TransactionalRepositories
var _ apptreasury.TransactionalRepositories = (*gormTransactionalRepositories)(nil)
