package treasury

import (
	"context"

	"github.com/erp/treasury/internal/domain/treasury"
)

// TransactionScope provides transactional access to treasury repositories.
// All repository operations inside fn share one database transaction and are
// committed or rolled back together.
type TransactionScope interface {
	// Execute runs fn within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	Execute(ctx context.Context, fn func(repos TransactionalRepositories) error) error
}

// TransactionalRepositories provides the treasury repositories bound to one transaction.
//
// Movements are append-only: corrections go through a new movement, never an update.
// Statement lines are children of the Statement aggregate and are saved with it.
type TransactionalRepositories interface {
	Accounts() treasury.AccountRepository
	Movements() treasury.MovementRepository
	Transfers() treasury.TransferRepository
	Statements() treasury.StatementRepository
	Invoices() treasury.InvoiceRepository
}

// Repositories bundles the non-transactional repositories used for reads
type Repositories struct {
	Accounts   treasury.AccountRepository
	Movements  treasury.MovementRepository
	Transfers  treasury.TransferRepository
	Statements treasury.StatementRepository
	Invoices   treasury.InvoiceRepository
}

// NoOpTransactionScope runs fn against plain repositories without a transaction.
// Useful for unit tests with in-memory fakes.
type NoOpTransactionScope struct {
	repos Repositories
}

// NewNoOpTransactionScope creates a NoOpTransactionScope
func NewNoOpTransactionScope(repos Repositories) *NoOpTransactionScope {
	return &NoOpTransactionScope{repos: repos}
}

// Execute runs the function without a real transaction
func (s *NoOpTransactionScope) Execute(_ context.Context, fn func(repos TransactionalRepositories) error) error {
	return fn(s)
}

// Accounts returns the account repository
func (s *NoOpTransactionScope) Accounts() treasury.AccountRepository { return s.repos.Accounts }

// Movements returns the movement repository
func (s *NoOpTransactionScope) Movements() treasury.MovementRepository { return s.repos.Movements }

// Transfers returns the transfer repository
func (s *NoOpTransactionScope) Transfers() treasury.TransferRepository { return s.repos.Transfers }

// Statements returns the statement repository
func (s *NoOpTransactionScope) Statements() treasury.StatementRepository { return s.repos.Statements }

// Invoices returns the invoice repository
func (s *NoOpTransactionScope) Invoices() treasury.InvoiceRepository { return s.repos.Invoices }

var (
	_ TransactionScope          = (*NoOpTransactionScope)(nil)
	_ TransactionalRepositories = (*NoOpTransactionScope)(nil)
)
