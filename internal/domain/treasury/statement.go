package treasury

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StatementStatus is the reconciliation state of a bank statement.
// PENDING moves to exactly one of the closed states and never back.
type StatementStatus string

const (
	StatementStatusPending         StatementStatus = "PENDING"
	StatementStatusWithDifferences StatementStatus = "CON_DIFERENCIAS"
	StatementStatusCompleted       StatementStatus = "COMPLETADA"
)

// IsClosed returns true for the terminal statuses
func (s StatementStatus) IsClosed() bool {
	return s == StatementStatusWithDifferences || s == StatementStatusCompleted
}

// String returns the string representation
func (s StatementStatus) String() string {
	return string(s)
}

// LineMatchStatus tracks where a statement line stands in matching
type LineMatchStatus string

const (
	LineMatchStatusPending  LineMatchStatus = "PENDING"
	LineMatchStatusSuspense LineMatchStatus = "SUSPENSE"
	LineMatchStatusMatched  LineMatchStatus = "MATCHED"
)

// StatementLine is one row of an external bank statement. Amount is signed:
// positive credits the account, negative debits it.
type StatementLine struct {
	ID                uuid.UUID
	StatementID       uuid.UUID
	LineNo            int
	Date              time.Time
	Amount            decimal.Decimal
	Description       string
	MatchStatus       LineMatchStatus
	MatchedMovementID *uuid.UUID
}

// IsMatched returns true if the line is linked to a movement
func (l *StatementLine) IsMatched() bool {
	return l.MatchedMovementID != nil
}

// LineInput is the raw data for a statement line
type LineInput struct {
	Date        time.Time
	Amount      decimal.Decimal
	Description string
}

// JustificationSchemaVersion is the current layout of JustificationSet
const JustificationSchemaVersion = 1

// Justification explains one difference accepted at close
type Justification struct {
	Amount    decimal.Decimal `json:"amount"`
	Concept   string          `json:"concept"`
	Rationale string          `json:"rationale"`
}

// JustificationSet is the versioned audit record stored on a closed statement
type JustificationSet struct {
	Version int             `json:"version"`
	Items   []Justification `json:"items"`
}

// NewJustificationSet wraps items with the current schema version
func NewJustificationSet(items []Justification) JustificationSet {
	if items == nil {
		items = []Justification{}
	}
	return JustificationSet{Version: JustificationSchemaVersion, Items: items}
}

// Net returns the sum of justified amounts
func (j JustificationSet) Net() decimal.Decimal {
	total := decimal.Zero
	for _, it := range j.Items {
		total = total.Add(it.Amount)
	}
	return total
}

// Value implements driver.Valuer for JSON column storage
func (j JustificationSet) Value() (driver.Value, error) {
	if j.Version == 0 {
		j.Version = JustificationSchemaVersion
	}
	if j.Items == nil {
		j.Items = []Justification{}
	}
	return json.Marshal(j)
}

// Scan implements sql.Scanner for JSON column storage
func (j *JustificationSet) Scan(value interface{}) error {
	if value == nil {
		*j = NewJustificationSet(nil)
		return nil
	}

	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return errors.New("failed to scan JustificationSet: unsupported type")
	}

	if len(bytes) == 0 {
		*j = NewJustificationSet(nil)
		return nil
	}
	if err := json.Unmarshal(bytes, j); err != nil {
		return err
	}
	if j.Version == 0 {
		j.Version = JustificationSchemaVersion
	}
	return nil
}

// Statement is a bank statement for one account and period
type Statement struct {
	shared.TenantAggregateRoot
	AccountID            uuid.UUID
	PeriodStart          time.Time
	PeriodEnd            time.Time
	Status               StatementStatus
	Lines                []StatementLine
	Justifications       JustificationSet
	RealBankBalance      *decimal.Decimal
	LedgerBalance        *decimal.Decimal
	AdjustmentMovementID *uuid.UUID
	ClosedAt             *time.Time
	ClosedBy             string
	AttachmentKey        string
	AttachmentPurgedAt   *time.Time
	CreatedBy            string
}

// NewStatement creates a PENDING statement with its lines
func NewStatement(
	tenantID, accountID uuid.UUID,
	periodStart, periodEnd time.Time,
	lines []LineInput,
	createdBy string,
) (*Statement, error) {
	if accountID == uuid.Nil {
		return nil, shared.NewValidationError("Account ID cannot be empty")
	}
	periodStart = DateOf(periodStart)
	periodEnd = DateOf(periodEnd)
	if periodStart.IsZero() || periodEnd.IsZero() || periodEnd.Before(periodStart) {
		return nil, shared.NewValidationError("Statement period is invalid")
	}

	s := &Statement{
		TenantAggregateRoot: shared.NewTenantAggregateRoot(tenantID),
		AccountID:           accountID,
		PeriodStart:         periodStart,
		PeriodEnd:           periodEnd,
		Status:              StatementStatusPending,
		Lines:               make([]StatementLine, 0, len(lines)),
		Justifications:      NewJustificationSet(nil),
		CreatedBy:           createdBy,
	}

	for i, in := range lines {
		if in.Date.IsZero() {
			return nil, shared.NewValidationError("Line %d: date is required", i+1)
		}
		if in.Amount.IsZero() {
			return nil, shared.NewValidationError("Line %d: amount cannot be zero", i+1)
		}
		if err := validateMoneyScale(in.Amount, fmt.Sprintf("Line %d: amount", i+1)); err != nil {
			return nil, err
		}
		s.Lines = append(s.Lines, StatementLine{
			ID:          uuid.New(),
			StatementID: s.ID,
			LineNo:      i + 1,
			Date:        DateOf(in.Date),
			Amount:      in.Amount,
			Description: strings.TrimSpace(in.Description),
			MatchStatus: LineMatchStatusPending,
		})
	}

	return s, nil
}

// EnsureOpen rejects mutations on a closed statement
func (s *Statement) EnsureOpen() error {
	if s.Status.IsClosed() {
		return shared.NewDomainError(CodeStatementClosed,
			fmt.Sprintf("Statement %s is %s and accepts no further changes", s.ID, s.Status))
	}
	return nil
}

// Line returns the line with the given id
func (s *Statement) Line(lineID uuid.UUID) (*StatementLine, error) {
	for i := range s.Lines {
		if s.Lines[i].ID == lineID {
			return &s.Lines[i], nil
		}
	}
	return nil, NewNotFoundError(CodeStatementLineNotFound, "Statement line", lineID)
}

// Counts returns how many lines are matched, pending and in suspense
func (s *Statement) Counts() (matched, pending, suspense int) {
	for i := range s.Lines {
		switch {
		case s.Lines[i].IsMatched():
			matched++
		case s.Lines[i].MatchStatus == LineMatchStatusSuspense:
			suspense++
		default:
			pending++
		}
	}
	return matched, pending, suspense
}

// UnreconciledCount returns pending + suspense
func (s *Statement) UnreconciledCount() int {
	_, pending, suspense := s.Counts()
	return pending + suspense
}

// LinkLine links an unmatched line to a movement
func (s *Statement) LinkLine(lineID, movementID uuid.UUID) error {
	if err := s.EnsureOpen(); err != nil {
		return err
	}
	line, err := s.Line(lineID)
	if err != nil {
		return err
	}
	if line.IsMatched() {
		return shared.NewDomainError(shared.CodeConflict, fmt.Sprintf("Line %d is already matched", line.LineNo))
	}
	for i := range s.Lines {
		if s.Lines[i].MatchedMovementID != nil && *s.Lines[i].MatchedMovementID == movementID {
			return ErrMovementAlreadyLinked
		}
	}
	id := movementID
	line.MatchedMovementID = &id
	line.MatchStatus = LineMatchStatusMatched
	return nil
}

// MarkUnresolved records the outcome for a line left unmatched
func (s *Statement) MarkUnresolved(lineID uuid.UUID, status LineMatchStatus) error {
	line, err := s.Line(lineID)
	if err != nil {
		return err
	}
	if line.IsMatched() || status == LineMatchStatusMatched {
		return nil
	}
	line.MatchStatus = status
	return nil
}

// CloseRequest carries the caller's close decision
type CloseRequest struct {
	Justifications     []Justification
	ForceClose         bool
	GenerateAdjustment bool
	RealBankBalance    *decimal.Decimal
	ClosedBy           string
}

// Validate checks the request shape before any state is touched
func (r CloseRequest) Validate() error {
	for i, j := range r.Justifications {
		if strings.TrimSpace(j.Rationale) == "" {
			return shared.NewValidationError("Justification %d: rationale is required", i+1)
		}
		if err := validateMoneyScale(j.Amount, fmt.Sprintf("Justification %d: amount", i+1)); err != nil {
			return err
		}
	}
	if r.RealBankBalance != nil {
		if err := validateMoneyScale(*r.RealBankBalance, "Real bank balance"); err != nil {
			return err
		}
	}
	return nil
}

// CloseOutcome describes the result of closing a statement
type CloseOutcome struct {
	Status             StatementStatus
	Unreconciled       int
	NetDifference      decimal.Decimal
	AdjustmentRequired bool
}

// Close finalizes the statement. ledgerBalance is the account balance at
// PeriodEnd, recorded next to the bank's figure for audit.
func (s *Statement) Close(req CloseRequest, ledgerBalance decimal.Decimal, now time.Time) (*CloseOutcome, error) {
	if s.Status.IsClosed() {
		return nil, shared.NewDomainError(CodeAlreadyClosed, fmt.Sprintf("Statement %s is already closed as %s", s.ID, s.Status))
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}

	unreconciled := s.UnreconciledCount()
	if unreconciled > 0 && !req.ForceClose {
		return nil, NewUnreconciledItemsError(unreconciled)
	}

	if unreconciled == 0 {
		s.Status = StatementStatusCompleted
	} else {
		s.Status = StatementStatusWithDifferences
	}

	items := make([]Justification, len(req.Justifications))
	copy(items, req.Justifications)
	s.Justifications = NewJustificationSet(items)

	lb := ledgerBalance
	s.LedgerBalance = &lb
	if req.RealBankBalance != nil {
		rb := *req.RealBankBalance
		s.RealBankBalance = &rb
	}

	closedAt := now.UTC()
	s.ClosedAt = &closedAt
	s.ClosedBy = req.ClosedBy
	s.Touch()
	s.IncrementVersion()

	net := s.Justifications.Net()
	return &CloseOutcome{
		Status:             s.Status,
		Unreconciled:       unreconciled,
		NetDifference:      net,
		AdjustmentRequired: req.GenerateAdjustment && !net.IsZero(),
	}, nil
}

// BuildAdjustment creates the movement booking the net justified difference.
// Positive differences are inflows, negative ones outflows.
func (s *Statement) BuildAdjustment(net decimal.Decimal, createdBy string) (*Movement, error) {
	if net.IsZero() {
		return nil, shared.NewValidationError("Adjustment amount cannot be zero")
	}
	direction := DirectionIn
	if net.IsNegative() {
		direction = DirectionOut
	}
	m, err := NewMovement(s.TenantID, s.AccountID, s.PeriodEnd, net.Abs(), direction,
		Reference{Type: ReferenceTypeStatementAdjustment, ID: s.ID},
		fmt.Sprintf("Reconciliation adjustment %s to %s", s.PeriodStart.Format("2006-01-02"), s.PeriodEnd.Format("2006-01-02")),
		createdBy)
	if err != nil {
		return nil, err
	}
	id := m.ID
	s.AdjustmentMovementID = &id
	return m, nil
}

// EnsureDiscardable allows discarding only untouched pending statements
func (s *Statement) EnsureDiscardable() error {
	if err := s.EnsureOpen(); err != nil {
		return err
	}
	matched, _, _ := s.Counts()
	if matched > 0 {
		return shared.NewDomainError(shared.CodeInvalidState,
			fmt.Sprintf("Statement has %d matched line(s) and cannot be discarded", matched))
	}
	return nil
}
