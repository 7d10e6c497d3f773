package treasury

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/erp/treasury/internal/application/idempotency"
	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/erp/treasury/internal/infrastructure/telemetry"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ReconciliationService imports bank statements, matches them against the
// ledger and closes them
type ReconciliationService struct {
	deps     Dependencies
	matching treasury.MatchConfig
	storage  AttachmentStorage
	parser   StatementParser
}

// NewReconciliationService creates a new ReconciliationService.
// storage and parser may be nil when statement import is not used.
func NewReconciliationService(deps Dependencies, matching treasury.MatchConfig, storage AttachmentStorage, parser StatementParser) *ReconciliationService {
	if matching.MaxSuggestions <= 0 {
		matching.MaxSuggestions = treasury.DefaultMatchConfig().MaxSuggestions
	}
	return &ReconciliationService{
		deps:     deps.withDefaults(),
		matching: matching,
		storage:  storage,
		parser:   parser,
	}
}

func loadStatement(ctx context.Context, repo treasury.StatementRepository, tenantID, id uuid.UUID, forUpdate bool) (*treasury.Statement, error) {
	var (
		st  *treasury.Statement
		err error
	)
	if forUpdate {
		st, err = repo.FindByIDForUpdate(ctx, tenantID, id)
	} else {
		st, err = repo.FindByIDForTenant(ctx, tenantID, id)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load statement: %w", err)
	}
	if st == nil {
		return nil, treasury.NewNotFoundError(treasury.CodeStatementNotFound, "Statement", id)
	}
	return st, nil
}

// CreateStatement registers a statement from already parsed lines
func (s *ReconciliationService) CreateStatement(ctx context.Context, cmd CreateStatementCommand) (*StatementResponse, bool, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "create_statement",
		telemetry.SpanAttrTenantID, cmd.TenantID.String(),
		telemetry.SpanAttrAccountID, cmd.AccountID.String(),
	)
	defer span.End()

	resp, replayed, err := idempotency.Execute(ctx, s.deps.Executor, cmd.TenantID, cmd.IdempotencyKey, OpCreateStatement,
		func(ctx context.Context) (*StatementResponse, error) {
			st, err := treasury.NewStatement(cmd.TenantID, cmd.AccountID, cmd.PeriodStart, cmd.PeriodEnd, cmd.Lines, cmd.UserID)
			if err != nil {
				return nil, err
			}
			if err := s.saveNewStatement(ctx, st); err != nil {
				return nil, err
			}
			r := ToStatementResponse(st)
			return &r, nil
		})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, false, err
	}
	return resp, replayed, nil
}

func (s *ReconciliationService) saveNewStatement(ctx context.Context, st *treasury.Statement) error {
	return s.deps.TxScope.Execute(ctx, func(repos TransactionalRepositories) error {
		account, err := loadAccount(ctx, repos.Accounts(), st.TenantID, st.AccountID, false)
		if err != nil {
			return err
		}
		if err := account.EnsureUsableBy(st.TenantID); err != nil {
			return err
		}
		if err := repos.Statements().Save(ctx, st); err != nil {
			return fmt.Errorf("failed to save statement: %w", err)
		}
		return nil
	})
}

// attachmentKey builds the object key of a statement source file
func attachmentKey(tenantID, statementID uuid.UUID, fileName string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '-', r == '_':
			return r
		}
		return '_'
	}, path.Base(strings.ReplaceAll(fileName, "\\", "/")))
	if name == "" || name == "." || name == "_" {
		name = "statement.csv"
	}
	return fmt.Sprintf("statements/%s/%s/%s", tenantID, statementID, name)
}

// ImportStatement parses an uploaded file into a statement and keeps the file
// as an attachment. The upload happens first; if the statement cannot be
// saved the object is deleted again on a best-effort basis.
func (s *ReconciliationService) ImportStatement(ctx context.Context, cmd ImportStatementCommand) (*StatementResponse, bool, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "import_statement",
		telemetry.SpanAttrTenantID, cmd.TenantID.String(),
		telemetry.SpanAttrAccountID, cmd.AccountID.String(),
		"file_name", cmd.FileName,
	)
	defer span.End()

	if s.parser == nil {
		return nil, false, shared.NewDomainError(shared.CodeInvalidState, "Statement import is not configured")
	}
	if cmd.File == nil {
		return nil, false, shared.NewValidationError("Statement file is required")
	}

	resp, replayed, err := idempotency.Execute(ctx, s.deps.Executor, cmd.TenantID, cmd.IdempotencyKey, OpImportStatement,
		func(ctx context.Context) (*StatementResponse, error) {
			data, err := io.ReadAll(cmd.File)
			if err != nil {
				return nil, fmt.Errorf("failed to read statement file: %w", err)
			}
			lines, err := s.parser.Parse(bytes.NewReader(data))
			if err != nil {
				return nil, err
			}
			st, err := treasury.NewStatement(cmd.TenantID, cmd.AccountID, cmd.PeriodStart, cmd.PeriodEnd, lines, cmd.UserID)
			if err != nil {
				return nil, err
			}

			if s.storage != nil {
				key := attachmentKey(cmd.TenantID, st.ID, cmd.FileName)
				contentType := cmd.ContentType
				if contentType == "" {
					contentType = "text/csv"
				}
				if err := s.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
					return nil, fmt.Errorf("failed to upload statement attachment: %w", err)
				}
				st.AttachmentKey = key
			}

			if err := s.saveNewStatement(ctx, st); err != nil {
				s.discardAttachment(ctx, st)
				return nil, err
			}
			r := ToStatementResponse(st)
			return &r, nil
		})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, false, err
	}

	if !replayed {
		s.deps.Logger.Info("Statement imported",
			zap.String("tenant_id", cmd.TenantID.String()),
			zap.String("statement_id", resp.ID.String()),
			zap.Int("lines", len(resp.Lines)),
			zap.String("attachment_key", resp.AttachmentKey),
		)
	}
	return resp, replayed, nil
}

func (s *ReconciliationService) discardAttachment(ctx context.Context, st *treasury.Statement) {
	if s.storage == nil || st.AttachmentKey == "" {
		return
	}
	if err := s.storage.Delete(context.WithoutCancel(ctx), st.AttachmentKey); err != nil {
		s.deps.Logger.Warn("Failed to delete orphaned statement attachment",
			zap.String("tenant_id", st.TenantID.String()),
			zap.String("attachment_key", st.AttachmentKey),
			zap.Error(err),
		)
	}
}

// GetStatement returns a statement with its lines
func (s *ReconciliationService) GetStatement(ctx context.Context, tenantID, id uuid.UUID) (*StatementResponse, error) {
	st, err := loadStatement(ctx, s.deps.Repos.Statements, tenantID, id, false)
	if err != nil {
		return nil, err
	}
	r := ToStatementResponse(st)
	return &r, nil
}

// ListStatements pages through the tenant's statements, newest period first
func (s *ReconciliationService) ListStatements(ctx context.Context, tenantID uuid.UUID, accountID *uuid.UUID, filter shared.Filter) (*shared.Paginated[StatementResponse], error) {
	filter = filter.Normalized()
	statements, total, err := s.deps.Repos.Statements.FindAllForTenant(ctx, tenantID, accountID, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list statements: %w", err)
	}
	items := make([]StatementResponse, len(statements))
	for i := range statements {
		items[i] = ToStatementResponse(&statements[i])
	}
	page := shared.NewPaginated(items, total, filter.Page, filter.PageSize)
	return &page, nil
}

// DiscardStatement soft-deletes a pending statement without matches. Its
// attachment is purged later by the retention job.
func (s *ReconciliationService) DiscardStatement(ctx context.Context, tenantID, id uuid.UUID) error {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "discard_statement",
		telemetry.SpanAttrTenantID, tenantID.String(),
		telemetry.SpanAttrStatementID, id.String(),
	)
	defer span.End()

	err := s.deps.TxScope.Execute(ctx, func(repos TransactionalRepositories) error {
		st, err := loadStatement(ctx, repos.Statements(), tenantID, id, true)
		if err != nil {
			return err
		}
		if err := st.EnsureDiscardable(); err != nil {
			return err
		}
		if err := repos.Statements().SoftDelete(ctx, tenantID, id); err != nil {
			return fmt.Errorf("failed to discard statement: %w", err)
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return err
	}
	return nil
}

// Match links unmatched lines to ledger movements. Re-running it never
// touches lines matched before.
func (s *ReconciliationService) Match(ctx context.Context, tenantID, statementID uuid.UUID) (*MatchSummary, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "match",
		telemetry.SpanAttrTenantID, tenantID.String(),
		telemetry.SpanAttrStatementID, statementID.String(),
	)
	defer span.End()

	var summary *MatchSummary
	err := s.deps.TxScope.Execute(ctx, func(repos TransactionalRepositories) error {
		st, err := loadStatement(ctx, repos.Statements(), tenantID, statementID, true)
		if err != nil {
			return err
		}
		if err := st.EnsureOpen(); err != nil {
			return err
		}

		tol := s.matching.DateToleranceDays
		movements, _, err := repos.Movements().Find(ctx, tenantID, treasury.MovementFilter{
			AccountIDs: []uuid.UUID{st.AccountID},
			From:       st.PeriodStart.AddDate(0, 0, -tol),
			To:         st.PeriodEnd.AddDate(0, 0, tol),
			Unpaged:    true,
		})
		if err != nil {
			return fmt.Errorf("failed to load candidate movements: %w", err)
		}
		linkedIDs, err := repos.Statements().MatchedMovementIDs(ctx, st.AccountID)
		if err != nil {
			return fmt.Errorf("failed to load matched movements: %w", err)
		}
		linked := make(map[uuid.UUID]bool, len(linkedIDs))
		for _, id := range linkedIDs {
			linked[id] = true
		}
		available := make([]treasury.Movement, 0, len(movements))
		for _, m := range movements {
			if !linked[m.ID] {
				available = append(available, m)
			}
		}

		plan := treasury.Match(st.Lines, available, s.matching)
		for _, outcome := range plan.Outcomes {
			if outcome.Status == treasury.LineMatchStatusMatched {
				if err := st.LinkLine(outcome.LineID, *outcome.MovementID); err != nil {
					return err
				}
				continue
			}
			if err := st.MarkUnresolved(outcome.LineID, outcome.Status); err != nil {
				return err
			}
		}
		st.Touch()
		if err := repos.Statements().Save(ctx, st); err != nil {
			return fmt.Errorf("failed to save statement: %w", err)
		}

		matched, pending, suspense := st.Counts()
		suggestions := plan.Suggestions
		if suggestions == nil {
			suggestions = []treasury.Suggestion{}
		}
		summary = &MatchSummary{
			StatementID:  st.ID,
			Matched:      matched,
			Pending:      pending,
			Suspense:     suspense,
			NewlyMatched: len(plan.Links),
			Suggestions:  suggestions,
		}
		return nil
	})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	s.deps.Metrics.RecordMatchRun(ctx, summary.NewlyMatched, summary.Pending, summary.Suspense)
	s.deps.Logger.Info("Statement matched",
		zap.String("tenant_id", tenantID.String()),
		zap.String("statement_id", statementID.String()),
		zap.Int("newly_matched", summary.NewlyMatched),
		zap.Int("pending", summary.Pending),
		zap.Int("suspense", summary.Suspense),
	)
	return summary, nil
}

// ResolveLine links a line to a movement chosen by the user
func (s *ReconciliationService) ResolveLine(ctx context.Context, cmd ResolveLineCommand) (*StatementResponse, bool, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "resolve_line",
		telemetry.SpanAttrTenantID, cmd.TenantID.String(),
		telemetry.SpanAttrStatementID, cmd.StatementID.String(),
		telemetry.SpanAttrMovementID, cmd.MovementID.String(),
	)
	defer span.End()

	resp, replayed, err := idempotency.Execute(ctx, s.deps.Executor, cmd.TenantID, cmd.IdempotencyKey, OpResolveLine,
		func(ctx context.Context) (*StatementResponse, error) {
			var st *treasury.Statement
			err := s.deps.TxScope.Execute(ctx, func(repos TransactionalRepositories) error {
				var err error
				st, err = loadStatement(ctx, repos.Statements(), cmd.TenantID, cmd.StatementID, true)
				if err != nil {
					return err
				}
				if err := st.EnsureOpen(); err != nil {
					return err
				}
				line, err := st.Line(cmd.LineID)
				if err != nil {
					return err
				}

				movement, err := repos.Movements().FindByID(ctx, cmd.TenantID, cmd.MovementID)
				if err != nil {
					return fmt.Errorf("failed to load movement: %w", err)
				}
				if movement == nil {
					return treasury.NewNotFoundError(treasury.CodeMovementNotFound, "Movement", cmd.MovementID)
				}
				if movement.AccountID != st.AccountID {
					return shared.NewValidationError("Movement belongs to another account than the statement")
				}
				if !movement.SignedAmount().Equal(line.Amount) {
					return shared.NewValidationError("Movement amount %s does not match line amount %s",
						movement.SignedAmount().StringFixed(2), line.Amount.StringFixed(2))
				}

				linked, err := repos.Statements().MatchedMovementIDs(ctx, st.AccountID)
				if err != nil {
					return fmt.Errorf("failed to load matched movements: %w", err)
				}
				for _, id := range linked {
					if id == movement.ID {
						return treasury.ErrMovementAlreadyLinked.WithDetail("movement_id", movement.ID.String())
					}
				}

				if err := st.LinkLine(line.ID, movement.ID); err != nil {
					return err
				}
				st.Touch()
				if err := repos.Statements().Save(ctx, st); err != nil {
					return fmt.Errorf("failed to save statement: %w", err)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}
			r := ToStatementResponse(st)
			return &r, nil
		})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, false, err
	}
	return resp, replayed, nil
}

// Close finalizes a statement. The ledger balance at period end is recorded
// next to the bank figure, and a net justified difference may be booked as an
// adjustment in the same transaction.
func (s *ReconciliationService) Close(ctx context.Context, cmd CloseStatementCommand) (*CloseResponse, bool, error) {
	ctx, span := telemetry.StartServiceSpan(ctx, "reconciliation", "close",
		telemetry.SpanAttrTenantID, cmd.TenantID.String(),
		telemetry.SpanAttrStatementID, cmd.StatementID.String(),
	)
	defer span.End()

	req := treasury.CloseRequest{
		Justifications:     cmd.Justifications,
		ForceClose:         cmd.ForceClose,
		GenerateAdjustment: cmd.GenerateAdjustment,
		RealBankBalance:    cmd.RealBankBalance,
		ClosedBy:           cmd.UserID,
	}
	if err := req.Validate(); err != nil {
		return nil, false, err
	}

	var events []shared.DomainEvent
	resp, replayed, err := idempotency.Execute(ctx, s.deps.Executor, cmd.TenantID, cmd.IdempotencyKey, OpCloseStatement,
		func(ctx context.Context) (*CloseResponse, error) {
			var (
				st         *treasury.Statement
				outcome    *treasury.CloseOutcome
				adjustment *treasury.Movement
				ledger     treasury.LedgerTotals
			)
			err := s.deps.TxScope.Execute(ctx, func(repos TransactionalRepositories) error {
				var err error
				st, err = loadStatement(ctx, repos.Statements(), cmd.TenantID, cmd.StatementID, true)
				if err != nil {
					return err
				}
				ledger, err = repos.Movements().Totals(ctx, cmd.TenantID, st.AccountID, st.PeriodEnd)
				if err != nil {
					return fmt.Errorf("failed to compute ledger balance: %w", err)
				}
				outcome, err = st.Close(req, ledger.Balance(), s.deps.Now())
				if err != nil {
					return err
				}
				if outcome.AdjustmentRequired {
					account, err := loadAccount(ctx, repos.Accounts(), cmd.TenantID, st.AccountID, true)
					if err != nil {
						return err
					}
					if err := account.EnsureUsableBy(cmd.TenantID); err != nil {
						return err
					}
					adjustment, err = st.BuildAdjustment(outcome.NetDifference, cmd.UserID)
					if err != nil {
						return err
					}
					if adjustment.Outflow.IsPositive() {
						if err := ensureCanWithdraw(ctx, repos.Movements(), account, adjustment.Outflow); err != nil {
							return err
						}
					}
					if err := repos.Movements().Append(ctx, adjustment); err != nil {
						return fmt.Errorf("failed to append adjustment: %w", err)
					}
				}
				if err := repos.Statements().Save(ctx, st); err != nil {
					return fmt.Errorf("failed to save statement: %w", err)
				}
				return nil
			})
			if err != nil {
				return nil, err
			}

			events = append(events, treasury.NewStatementClosedEvent(st))
			if adjustment != nil {
				events = append(events, treasury.NewLedgerChangedEvent(cmd.TenantID, st.ID, treasury.AggregateTypeStatement, st.AccountID))
			}
			return &CloseResponse{
				StatementID:          st.ID,
				Status:               string(outcome.Status),
				Unreconciled:         outcome.Unreconciled,
				NetDifference:        outcome.NetDifference,
				LedgerBalance:        ledger.Balance(),
				AdjustmentMovementID: st.AdjustmentMovementID,
			}, nil
		})
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, false, err
	}

	telemetry.SetAttributes(span, telemetry.SpanAttrStatus, resp.Status)
	if !replayed {
		s.deps.publish(ctx, events...)
		s.deps.Metrics.RecordStatementClosed(ctx, cmd.TenantID, resp.Status)
		s.deps.Logger.Info("Statement closed",
			zap.String("tenant_id", cmd.TenantID.String()),
			zap.String("statement_id", resp.StatementID.String()),
			zap.String("status", resp.Status),
			zap.Int("unreconciled", resp.Unreconciled),
			zap.String("net_difference", resp.NetDifference.String()),
		)
	}
	return resp, replayed, nil
}

// PurgeAttachments deletes the stored files of statements discarded before
// now-retention and returns how many were purged. A failed delete is logged
// and retried on the next run.
func (s *ReconciliationService) PurgeAttachments(ctx context.Context, now time.Time, retention time.Duration, limit int) (int, error) {
	if s.storage == nil {
		return 0, nil
	}
	statements, err := s.deps.Repos.Statements.FindPurgeableAttachments(ctx, now.Add(-retention), limit)
	if err != nil {
		return 0, fmt.Errorf("failed to find purgeable attachments: %w", err)
	}

	purged := 0
	for i := range statements {
		st := &statements[i]
		if err := s.storage.Delete(ctx, st.AttachmentKey); err != nil {
			s.deps.Logger.Warn("Failed to delete statement attachment",
				zap.String("tenant_id", st.TenantID.String()),
				zap.String("statement_id", st.ID.String()),
				zap.String("attachment_key", st.AttachmentKey),
				zap.Error(err),
			)
			continue
		}
		if err := s.deps.Repos.Statements.MarkAttachmentPurged(ctx, st.ID, now); err != nil {
			return purged, fmt.Errorf("failed to mark attachment purged: %w", err)
		}
		purged++
	}
	return purged, nil
}
