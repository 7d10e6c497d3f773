package statementimport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	apptreasury "github.com/erp/treasury/internal/application/treasury"
	"github.com/erp/treasury/internal/domain/shared"
	"github.com/erp/treasury/internal/domain/treasury"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var _ apptreasury.StatementParser = (*CSVStatementParser)(nil)

// Header aliases, matched after normalizeHeader
var (
	dateHeaders        = []string{"date", "fecha", "value_date", "fecha_valor", "booking_date", "fecha_operacion"}
	amountHeaders      = []string{"amount", "importe", "monto"}
	creditHeaders      = []string{"credit", "abono", "haber", "deposit"}
	debitHeaders       = []string{"debit", "cargo", "debe", "withdrawal"}
	descriptionHeaders = []string{"description", "concepto", "descripcion", "descripción", "detalle", "memo"}
)

// DefaultDateLayouts are tried in order. Day-first layouts precede month-first
// ones because bank exports in the supported locales use them.
var DefaultDateLayouts = []string{
	"2006-01-02",
	"02/01/2006",
	"02-01-2006",
	"02.01.2006",
	"2006/01/02",
	"2/1/2006",
}

// CSVStatementParser reads bank statement CSV exports. A file carries a date
// column and either a signed amount column or separate credit and debit columns.
type CSVStatementParser struct {
	charset     string
	delimiter   rune
	dateLayouts []string
	maxBytes    int64
	maxRows     int
	maxErrors   int
	logger      *zap.Logger
}

// Option configures a CSVStatementParser
type Option func(*CSVStatementParser)

// WithCharset forces a charset instead of detecting it
func WithCharset(name string) Option {
	return func(p *CSVStatementParser) {
		p.charset = name
	}
}

// WithDelimiter forces the field delimiter instead of detecting it
func WithDelimiter(d rune) Option {
	return func(p *CSVStatementParser) {
		p.delimiter = d
	}
}

// WithDateLayouts replaces the accepted date layouts
func WithDateLayouts(layouts ...string) Option {
	return func(p *CSVStatementParser) {
		if len(layouts) > 0 {
			p.dateLayouts = layouts
		}
	}
}

// WithMaxBytes caps the accepted file size
func WithMaxBytes(n int64) Option {
	return func(p *CSVStatementParser) {
		p.maxBytes = n
	}
}

// WithMaxRows caps the number of data rows
func WithMaxRows(n int) Option {
	return func(p *CSVStatementParser) {
		p.maxRows = n
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(p *CSVStatementParser) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewCSVStatementParser creates a parser with detection defaults
func NewCSVStatementParser(opts ...Option) (*CSVStatementParser, error) {
	p := &CSVStatementParser{
		charset:     CharsetAuto,
		dateLayouts: DefaultDateLayouts,
		maxBytes:    10 << 20,
		maxRows:     10000,
		maxErrors:   20,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if _, err := lookupCharset(p.charset); err != nil {
		return nil, err
	}
	return p, nil
}

// Parse implements apptreasury.StatementParser. File level and row level
// problems are returned as a single validation error; row errors are listed
// under the "errors" detail.
func (p *CSVStatementParser) Parse(r io.Reader) ([]treasury.LineInput, error) {
	raw, err := io.ReadAll(io.LimitReader(r, p.maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read statement file: %w", err)
	}
	if int64(len(raw)) > p.maxBytes {
		return nil, fileError(ErrFileTooLarge)
	}
	if len(strings.TrimSpace(string(raw))) == 0 {
		return nil, fileError(ErrEmptyFile)
	}

	body, err := decode(raw, p.charset)
	if err != nil {
		return nil, fileError(err)
	}
	delimiter := p.delimiter
	if delimiter == 0 {
		delimiter = detectDelimiter(body)
	}

	reader := newCSVReader(body, delimiter)
	if err := reader.readHeader(); err != nil {
		return nil, fileError(err)
	}
	cols, err := resolveColumns(reader)
	if err != nil {
		return nil, err
	}

	errs := NewErrorCollection(p.maxErrors)
	var lines []treasury.LineInput
	for {
		row, err := reader.next()
		if err == io.EOF {
			break
		}
		if err != nil {
			errs.Add(RowError{Row: reader.line, Code: ErrCodeMalformedRow, Message: err.Error()})
			continue
		}
		if row.IsEmpty() {
			continue
		}
		if len(lines)+errs.TotalCount() >= p.maxRows {
			return nil, fileError(ErrTooManyRows).WithDetail("max_rows", p.maxRows)
		}
		if line, ok := p.parseRow(row, cols, errs); ok {
			lines = append(lines, line)
		}
	}

	if errs.HasErrors() {
		return nil, shared.NewValidationError("Statement file has %d invalid rows", errs.TotalCount()).
			WithDetail("errors", errs.Errors()).
			WithDetail("truncated", errs.IsTruncated())
	}
	if len(lines) == 0 {
		return nil, fileError(ErrNoDataRows)
	}

	p.logger.Debug("Statement file parsed",
		zap.Int("lines", len(lines)),
		zap.String("delimiter", string(delimiter)),
	)
	return lines, nil
}

func fileError(err error) *shared.DomainError {
	msg := err.Error()
	return shared.NewValidationError("%s", strings.ToUpper(msg[:1])+msg[1:])
}

// columns holds the resolved header names of one file
type columns struct {
	date        string
	amount      string
	credit      string
	debit       string
	description string
}

func resolveColumns(r *csvReader) (columns, error) {
	var c columns
	var ok bool
	var missing []string

	if c.date, ok = r.column(dateHeaders...); !ok {
		missing = append(missing, "date")
	}
	c.amount, _ = r.column(amountHeaders...)
	c.credit, _ = r.column(creditHeaders...)
	c.debit, _ = r.column(debitHeaders...)
	if c.amount == "" && c.credit == "" && c.debit == "" {
		missing = append(missing, "amount")
	}
	c.description, _ = r.column(descriptionHeaders...)

	if len(missing) > 0 {
		return c, shared.NewValidationError("Statement file is missing required columns: %s", strings.Join(missing, ", ")).
			WithDetail("missing", missing)
	}
	return c, nil
}

func (p *CSVStatementParser) parseRow(row *Row, cols columns, errs *ErrorCollection) (treasury.LineInput, bool) {
	var line treasury.LineInput
	valid := true

	dateStr := row.Get(cols.date)
	if dateStr == "" {
		errs.AddRequired(row.LineNumber, cols.date)
		valid = false
	} else if date, err := p.parseDate(dateStr); err != nil {
		errs.Add(RowError{Row: row.LineNumber, Column: cols.date, Code: ErrCodeInvalidDate, Message: "unrecognized date", Value: dateStr})
		valid = false
	} else {
		line.Date = date
	}

	amount, column, err := rowAmount(row, cols)
	switch {
	case errors.Is(err, errMissingAmount):
		errs.AddRequired(row.LineNumber, column)
		valid = false
	case err != nil:
		errs.Add(RowError{Row: row.LineNumber, Column: column, Code: ErrCodeInvalidAmount, Message: "invalid amount", Value: row.Get(column)})
		valid = false
	case amount.IsZero():
		errs.Add(RowError{Row: row.LineNumber, Column: column, Code: ErrCodeZeroAmount, Message: "amount cannot be zero"})
		valid = false
	default:
		line.Amount = amount
	}

	if cols.description != "" {
		line.Description = row.Get(cols.description)
	}
	return line, valid
}

func (p *CSVStatementParser) parseDate(s string) (time.Time, error) {
	for _, layout := range p.dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", s)
}

var errMissingAmount = errors.New("missing amount")

// rowAmount returns the signed amount of a row. A signed amount column wins;
// otherwise credit minus debit.
func rowAmount(row *Row, cols columns) (decimal.Decimal, string, error) {
	if cols.amount != "" {
		s := row.Get(cols.amount)
		if s == "" {
			return decimal.Zero, cols.amount, errMissingAmount
		}
		d, err := ParseAmount(s)
		return d, cols.amount, err
	}

	credit, debit := row.Get(cols.credit), row.Get(cols.debit)
	if credit == "" && debit == "" {
		column := cols.credit
		if column == "" {
			column = cols.debit
		}
		return decimal.Zero, column, errMissingAmount
	}
	total := decimal.Zero
	if credit != "" {
		d, err := ParseAmount(credit)
		if err != nil {
			return decimal.Zero, cols.credit, err
		}
		total = total.Add(d.Abs())
	}
	if debit != "" {
		d, err := ParseAmount(debit)
		if err != nil {
			return decimal.Zero, cols.debit, err
		}
		total = total.Sub(d.Abs())
	}
	column := cols.credit
	if column == "" {
		column = cols.debit
	}
	return total, column, nil
}

// ParseAmount reads amounts written with either decimal convention
// ("1,234.56", "1.234,56", "-12,5"), optional currency symbols and
// accounting parentheses for negatives.
func ParseAmount(s string) (decimal.Decimal, error) {
	s = strings.TrimSpace(s)
	negative := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		negative = true
		s = s[1 : len(s)-1]
	}

	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			b.WriteRune(r)
		case r == '-':
			negative = !negative
		case r == '+', r == ' ', r == ' ', r == '$', r == '€', r == '£', r == '\'':
		default:
			return decimal.Zero, fmt.Errorf("invalid amount %q", s)
		}
	}
	num := b.String()

	lastDot := strings.LastIndex(num, ".")
	lastComma := strings.LastIndex(num, ",")
	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case lastComma >= 0:
		// A single comma followed by one or two digits is a decimal comma
		if strings.Count(num, ",") == 1 && len(num)-lastComma-1 <= 2 {
			num = strings.Replace(num, ",", ".", 1)
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case strings.Count(num, ".") > 1:
		num = strings.ReplaceAll(num, ".", "")
	}

	d, err := decimal.NewFromString(num)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if negative {
		d = d.Neg()
	}
	return d, nil
}
