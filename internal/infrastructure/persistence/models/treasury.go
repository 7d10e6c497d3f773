package models

import (
	"time"

	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// AccountModel is the persistence model for the Account aggregate root
type AccountModel struct {
	AggregateModel
	Code          string               `gorm:"type:varchar(50);not null;uniqueIndex:idx_treasury_account_tenant_code,priority:2"`
	Name          string               `gorm:"type:varchar(200);not null"`
	Kind          treasury.AccountKind `gorm:"type:varchar(10);not null"`
	IsActive      bool                 `gorm:"not null;default:true"`
	AllowNegative bool                 `gorm:"not null;default:false"`
}

// TableName returns the table name for GORM
func (AccountModel) TableName() string {
	return "treasury_accounts"
}

// ToDomain converts the model to a domain Account
func (m *AccountModel) ToDomain() *treasury.Account {
	return &treasury.Account{
		TenantAggregateRoot: m.ToTenantAggregateRoot(),
		Code:                m.Code,
		Name:                m.Name,
		Kind:                m.Kind,
		IsActive:            m.IsActive,
		AllowNegative:       m.AllowNegative,
	}
}

// AccountModelFromDomain creates a model from a domain Account
func AccountModelFromDomain(a *treasury.Account) *AccountModel {
	m := &AccountModel{
		Code:          a.Code,
		Name:          a.Name,
		Kind:          a.Kind,
		IsActive:      a.IsActive,
		AllowNegative: a.AllowNegative,
	}
	m.FromDomainTenantAggregateRoot(a.TenantAggregateRoot)
	return m
}

// MovementModel is the persistence model for ledger movements. Rows are
// inserted once and never updated.
type MovementModel struct {
	ID            uuid.UUID              `gorm:"type:uuid;primaryKey"`
	TenantID      uuid.UUID              `gorm:"type:uuid;not null;index:idx_treasury_movement_account_date,priority:1"`
	AccountID     uuid.UUID              `gorm:"type:uuid;not null;index:idx_treasury_movement_account_date,priority:2"`
	Date          time.Time              `gorm:"type:date;not null;index:idx_treasury_movement_account_date,priority:3"`
	Inflow        decimal.Decimal        `gorm:"type:decimal(18,2);not null"`
	Outflow       decimal.Decimal        `gorm:"type:decimal(18,2);not null"`
	ReferenceType treasury.ReferenceType `gorm:"type:varchar(30);not null;index:idx_treasury_movement_reference,priority:1"`
	ReferenceID   uuid.UUID              `gorm:"type:uuid;index:idx_treasury_movement_reference,priority:2"`
	Description   string                 `gorm:"type:varchar(500)"`
	CreatedBy     string                 `gorm:"type:varchar(100)"`
	CreatedAt     time.Time              `gorm:"not null"`
}

// TableName returns the table name for GORM
func (MovementModel) TableName() string {
	return "treasury_movements"
}

// ToDomain converts the model to a domain Movement
func (m *MovementModel) ToDomain() *treasury.Movement {
	return &treasury.Movement{
		ID:            m.ID,
		TenantID:      m.TenantID,
		AccountID:     m.AccountID,
		Date:          treasury.DateOf(m.Date),
		Inflow:        m.Inflow,
		Outflow:       m.Outflow,
		ReferenceType: m.ReferenceType,
		ReferenceID:   m.ReferenceID,
		Description:   m.Description,
		CreatedBy:     m.CreatedBy,
		CreatedAt:     m.CreatedAt,
	}
}

// MovementModelFromDomain creates a model from a domain Movement
func MovementModelFromDomain(mv *treasury.Movement) *MovementModel {
	return &MovementModel{
		ID:            mv.ID,
		TenantID:      mv.TenantID,
		AccountID:     mv.AccountID,
		Date:          mv.Date,
		Inflow:        mv.Inflow,
		Outflow:       mv.Outflow,
		ReferenceType: mv.ReferenceType,
		ReferenceID:   mv.ReferenceID,
		Description:   mv.Description,
		CreatedBy:     mv.CreatedBy,
		CreatedAt:     mv.CreatedAt,
	}
}

// TransferModel is the persistence model for the Transfer aggregate root
type TransferModel struct {
	AggregateModel
	SourceAccountID   uuid.UUID       `gorm:"type:uuid;not null;index"`
	DestAccountID     uuid.UUID       `gorm:"type:uuid;not null;index"`
	Amount            decimal.Decimal `gorm:"type:decimal(18,2);not null"`
	Date              time.Time       `gorm:"type:date;not null"`
	VoucherRef        string          `gorm:"type:varchar(100)"`
	CreatedBy         string          `gorm:"type:varchar(100)"`
	OutflowMovementID uuid.UUID       `gorm:"type:uuid;not null"`
	InflowMovementID  uuid.UUID       `gorm:"type:uuid;not null"`
}

// TableName returns the table name for GORM
func (TransferModel) TableName() string {
	return "treasury_transfers"
}

// ToDomain converts the model to a domain Transfer
func (m *TransferModel) ToDomain() *treasury.Transfer {
	return &treasury.Transfer{
		TenantAggregateRoot: m.ToTenantAggregateRoot(),
		SourceAccountID:     m.SourceAccountID,
		DestAccountID:       m.DestAccountID,
		Amount:              m.Amount,
		Date:                treasury.DateOf(m.Date),
		VoucherRef:          m.VoucherRef,
		CreatedBy:           m.CreatedBy,
		OutflowMovementID:   m.OutflowMovementID,
		InflowMovementID:    m.InflowMovementID,
	}
}

// TransferModelFromDomain creates a model from a domain Transfer
func TransferModelFromDomain(t *treasury.Transfer) *TransferModel {
	m := &TransferModel{
		SourceAccountID:   t.SourceAccountID,
		DestAccountID:     t.DestAccountID,
		Amount:            t.Amount,
		Date:              t.Date,
		VoucherRef:        t.VoucherRef,
		CreatedBy:         t.CreatedBy,
		OutflowMovementID: t.OutflowMovementID,
		InflowMovementID:  t.InflowMovementID,
	}
	m.FromDomainTenantAggregateRoot(t.TenantAggregateRoot)
	return m
}

// StatementModel is the persistence model for the Statement aggregate root
type StatementModel struct {
	AggregateModel
	AccountID            uuid.UUID                 `gorm:"type:uuid;not null;index"`
	PeriodStart          time.Time                 `gorm:"type:date;not null"`
	PeriodEnd            time.Time                 `gorm:"type:date;not null"`
	Status               treasury.StatementStatus  `gorm:"type:varchar(20);not null;default:'PENDING';index"`
	Justifications       treasury.JustificationSet `gorm:"type:jsonb"`
	RealBankBalance      decimal.NullDecimal       `gorm:"type:decimal(18,2)"`
	LedgerBalance        decimal.NullDecimal       `gorm:"type:decimal(18,2)"`
	AdjustmentMovementID *uuid.UUID                `gorm:"type:uuid"`
	ClosedAt             *time.Time
	ClosedBy             string               `gorm:"type:varchar(100)"`
	AttachmentKey        string               `gorm:"type:varchar(500)"`
	AttachmentPurgedAt   *time.Time           `gorm:"index"`
	CreatedBy            string               `gorm:"type:varchar(100)"`
	DeletedAt            gorm.DeletedAt       `gorm:"index"`
	Lines                []StatementLineModel `gorm:"foreignKey:StatementID;constraint:OnDelete:CASCADE"`
}

// TableName returns the table name for GORM
func (StatementModel) TableName() string {
	return "treasury_statements"
}

func nullDecimalPtr(n decimal.NullDecimal) *decimal.Decimal {
	if !n.Valid {
		return nil
	}
	d := n.Decimal
	return &d
}

func toNullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}

// ToDomain converts the model and its loaded lines to a domain Statement
func (m *StatementModel) ToDomain() *treasury.Statement {
	s := &treasury.Statement{
		TenantAggregateRoot:  m.ToTenantAggregateRoot(),
		AccountID:            m.AccountID,
		PeriodStart:          treasury.DateOf(m.PeriodStart),
		PeriodEnd:            treasury.DateOf(m.PeriodEnd),
		Status:               m.Status,
		Lines:                make([]treasury.StatementLine, len(m.Lines)),
		Justifications:       m.Justifications,
		RealBankBalance:      nullDecimalPtr(m.RealBankBalance),
		LedgerBalance:        nullDecimalPtr(m.LedgerBalance),
		AdjustmentMovementID: m.AdjustmentMovementID,
		ClosedAt:             m.ClosedAt,
		ClosedBy:             m.ClosedBy,
		AttachmentKey:        m.AttachmentKey,
		AttachmentPurgedAt:   m.AttachmentPurgedAt,
		CreatedBy:            m.CreatedBy,
	}
	if s.Justifications.Version == 0 {
		s.Justifications = treasury.NewJustificationSet(s.Justifications.Items)
	}
	for i := range m.Lines {
		s.Lines[i] = m.Lines[i].ToDomain()
	}
	return s
}

// StatementModelFromDomain creates a model, lines included, from a domain Statement
func StatementModelFromDomain(s *treasury.Statement) *StatementModel {
	m := &StatementModel{
		AccountID:            s.AccountID,
		PeriodStart:          s.PeriodStart,
		PeriodEnd:            s.PeriodEnd,
		Status:               s.Status,
		Justifications:       s.Justifications,
		RealBankBalance:      toNullDecimal(s.RealBankBalance),
		LedgerBalance:        toNullDecimal(s.LedgerBalance),
		AdjustmentMovementID: s.AdjustmentMovementID,
		ClosedAt:             s.ClosedAt,
		ClosedBy:             s.ClosedBy,
		AttachmentKey:        s.AttachmentKey,
		AttachmentPurgedAt:   s.AttachmentPurgedAt,
		CreatedBy:            s.CreatedBy,
		Lines:                make([]StatementLineModel, len(s.Lines)),
	}
	m.FromDomainTenantAggregateRoot(s.TenantAggregateRoot)
	for i := range s.Lines {
		m.Lines[i] = StatementLineModelFromDomain(&s.Lines[i])
	}
	return m
}

// StatementLineModel is the persistence model for statement lines
type StatementLineModel struct {
	ID                uuid.UUID                `gorm:"type:uuid;primaryKey"`
	StatementID       uuid.UUID                `gorm:"type:uuid;not null;index"`
	LineNo            int                      `gorm:"not null"`
	Date              time.Time                `gorm:"type:date;not null"`
	Amount            decimal.Decimal          `gorm:"type:decimal(18,2);not null"`
	Description       string                   `gorm:"type:varchar(500)"`
	MatchStatus       treasury.LineMatchStatus `gorm:"type:varchar(20);not null;default:'PENDING'"`
	MatchedMovementID *uuid.UUID               `gorm:"type:uuid;uniqueIndex"`
}

// TableName returns the table name for GORM
func (StatementLineModel) TableName() string {
	return "treasury_statement_lines"
}

// ToDomain converts the model to a domain StatementLine
func (m *StatementLineModel) ToDomain() treasury.StatementLine {
	return treasury.StatementLine{
		ID:                m.ID,
		StatementID:       m.StatementID,
		LineNo:            m.LineNo,
		Date:              treasury.DateOf(m.Date),
		Amount:            m.Amount,
		Description:       m.Description,
		MatchStatus:       m.MatchStatus,
		MatchedMovementID: m.MatchedMovementID,
	}
}

// StatementLineModelFromDomain creates a model from a domain StatementLine
func StatementLineModelFromDomain(l *treasury.StatementLine) StatementLineModel {
	return StatementLineModel{
		ID:                l.ID,
		StatementID:       l.StatementID,
		LineNo:            l.LineNo,
		Date:              l.Date,
		Amount:            l.Amount,
		Description:       l.Description,
		MatchStatus:       l.MatchStatus,
		MatchedMovementID: l.MatchedMovementID,
	}
}

// InvoiceModel is the persistence model for the Invoice aggregate root
type InvoiceModel struct {
	AggregateModel
	ClientID    uuid.UUID            `gorm:"type:uuid;not null;index"`
	ClientName  string               `gorm:"type:varchar(200);not null"`
	Number      string               `gorm:"type:varchar(50);not null;uniqueIndex:idx_treasury_invoice_tenant_number,priority:2"`
	Total       decimal.Decimal      `gorm:"type:decimal(18,2);not null"`
	Balance     decimal.Decimal      `gorm:"type:decimal(18,2);not null;index"`
	IssueDate   time.Time            `gorm:"type:date;not null"`
	DueDate     time.Time            `gorm:"type:date;not null;index"`
	Allocations treasury.Allocations `gorm:"type:jsonb"`
}

// TableName returns the table name for GORM
func (InvoiceModel) TableName() string {
	return "treasury_invoices"
}

// ToDomain converts the model to a domain Invoice
func (m *InvoiceModel) ToDomain() *treasury.Invoice {
	allocs := m.Allocations
	if allocs == nil {
		allocs = treasury.Allocations{}
	}
	return &treasury.Invoice{
		TenantAggregateRoot: m.ToTenantAggregateRoot(),
		ClientID:            m.ClientID,
		ClientName:          m.ClientName,
		Number:              m.Number,
		Total:               m.Total,
		Balance:             m.Balance,
		IssueDate:           treasury.DateOf(m.IssueDate),
		DueDate:             treasury.DateOf(m.DueDate),
		Allocations:         allocs,
	}
}

// InvoiceModelFromDomain creates a model from a domain Invoice
func InvoiceModelFromDomain(i *treasury.Invoice) *InvoiceModel {
	m := &InvoiceModel{
		ClientID:    i.ClientID,
		ClientName:  i.ClientName,
		Number:      i.Number,
		Total:       i.Total,
		Balance:     i.Balance,
		IssueDate:   i.IssueDate,
		DueDate:     i.DueDate,
		Allocations: i.Allocations,
	}
	m.FromDomainTenantAggregateRoot(i.TenantAggregateRoot)
	return m
}
