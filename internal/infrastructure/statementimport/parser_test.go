package statementimport

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/erp/treasury/internal/domain/shared"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding/charmap"
)

func newParser(t *testing.T, opts ...Option) *CSVStatementParser {
	t.Helper()
	p, err := NewCSVStatementParser(opts...)
	require.NoError(t, err)
	return p
}

func requireValidation(t *testing.T, err error) *shared.DomainError {
	t.Helper()
	require.Error(t, err)
	de, ok := shared.AsDomainError(err)
	require.True(t, ok, "expected domain error, got %v", err)
	assert.Equal(t, shared.CodeValidation, de.Code)
	return de
}

func TestParse_SignedAmountColumn(t *testing.T) {
	csv := "Date,Amount,Description\n" +
		"2024-04-02,100.00,Deposit\n" +
		"2024-04-03,-20.5,Bank fee\n" +
		"\n" +
		"2024-04-04,\"1,234.56\",Wire\n"

	lines, err := newParser(t).Parse(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, lines, 3)

	assert.Equal(t, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), lines[0].Date)
	assert.True(t, lines[0].Amount.Equal(decimal.RequireFromString("100")))
	assert.Equal(t, "Deposit", lines[0].Description)
	assert.True(t, lines[1].Amount.Equal(decimal.RequireFromString("-20.5")))
	assert.True(t, lines[2].Amount.Equal(decimal.RequireFromString("1234.56")))
}

func TestParse_SemicolonWithCreditDebitColumns(t *testing.T) {
	csv := "Fecha;Concepto;Cargo;Abono\n" +
		"02/04/2024;Comisión;15,00;\n" +
		"03/04/2024;Transferencia;;1.500,75\n"

	lines, err := newParser(t).Parse(strings.NewReader(csv))
	require.NoError(t, err)
	require.Len(t, lines, 2)

	assert.Equal(t, time.Date(2024, 4, 2, 0, 0, 0, 0, time.UTC), lines[0].Date)
	assert.True(t, lines[0].Amount.Equal(decimal.RequireFromString("-15")))
	assert.Equal(t, "Comisión", lines[0].Description)
	assert.True(t, lines[1].Amount.Equal(decimal.RequireFromString("1500.75")))
}

func TestParse_Charsets(t *testing.T) {
	utf8CSV := "fecha;importe;concepto\n02/04/2024;-3,50;Cuota de mantenimiento año\n"

	t.Run("windows-1252 is detected", func(t *testing.T) {
		encoded, err := charmap.Windows1252.NewEncoder().Bytes([]byte(utf8CSV))
		require.NoError(t, err)
		require.NotEqual(t, []byte(utf8CSV), encoded)

		lines, err := newParser(t).Parse(bytes.NewReader(encoded))
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.Equal(t, "Cuota de mantenimiento año", lines[0].Description)
	})

	t.Run("forced latin-1", func(t *testing.T) {
		encoded, err := charmap.ISO8859_1.NewEncoder().Bytes([]byte(utf8CSV))
		require.NoError(t, err)

		lines, err := newParser(t, WithCharset(CharsetISO88591)).Parse(bytes.NewReader(encoded))
		require.NoError(t, err)
		assert.Equal(t, "Cuota de mantenimiento año", lines[0].Description)
	})

	t.Run("utf-8 BOM is stripped", func(t *testing.T) {
		lines, err := newParser(t).Parse(strings.NewReader("\xEF\xBB\xBF" + utf8CSV))
		require.NoError(t, err)
		require.Len(t, lines, 1)
		assert.True(t, lines[0].Amount.Equal(decimal.RequireFromString("-3.5")))
	})

	t.Run("unknown charset is rejected", func(t *testing.T) {
		_, err := NewCSVStatementParser(WithCharset("ebcdic"))
		assert.ErrorIs(t, err, ErrUnsupportedCharset)
	})
}

func TestParse_FileErrors(t *testing.T) {
	p := newParser(t)

	t.Run("empty file", func(t *testing.T) {
		_, err := p.Parse(strings.NewReader("  \n"))
		requireValidation(t, err)
	})

	t.Run("header only", func(t *testing.T) {
		_, err := p.Parse(strings.NewReader("date,amount\n"))
		de := requireValidation(t, err)
		assert.Contains(t, de.Message, "no data rows")
	})

	t.Run("missing columns", func(t *testing.T) {
		_, err := p.Parse(strings.NewReader("when,what\n2024-04-02,x\n"))
		de := requireValidation(t, err)
		assert.Equal(t, []string{"date", "amount"}, de.Details["missing"])
	})

	t.Run("too large", func(t *testing.T) {
		small := newParser(t, WithMaxBytes(16))
		_, err := small.Parse(strings.NewReader("date,amount\n2024-04-02,1\n"))
		de := requireValidation(t, err)
		assert.Contains(t, de.Message, "maximum allowed size")
	})

	t.Run("too many rows", func(t *testing.T) {
		few := newParser(t, WithMaxRows(1))
		_, err := few.Parse(strings.NewReader("date,amount\n2024-04-02,1\n2024-04-03,2\n"))
		de := requireValidation(t, err)
		assert.Equal(t, 1, de.Details["max_rows"])
	})
}

func TestParse_RowErrors(t *testing.T) {
	csv := "date,amount,description\n" +
		"2024-04-02,100,ok\n" +
		"not-a-date,5,bad date\n" +
		"2024-04-04,abc,bad amount\n" +
		"2024-04-05,0,zero\n" +
		"2024-04-06,,missing\n"

	_, err := newParser(t).Parse(strings.NewReader(csv))
	de := requireValidation(t, err)

	rowErrs, ok := de.Details["errors"].([]RowError)
	require.True(t, ok)
	require.Len(t, rowErrs, 4)
	assert.Equal(t, 3, rowErrs[0].Row)
	assert.Equal(t, ErrCodeInvalidDate, rowErrs[0].Code)
	assert.Equal(t, ErrCodeInvalidAmount, rowErrs[1].Code)
	assert.Equal(t, ErrCodeZeroAmount, rowErrs[2].Code)
	assert.Equal(t, ErrCodeRequiredField, rowErrs[3].Code)
	assert.Equal(t, false, de.Details["truncated"])
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"100", "100"},
		{"-12.50", "-12.5"},
		{"1,234.56", "1234.56"},
		{"1.234,56", "1234.56"},
		{"12,5", "12.5"},
		{"1,234", "1234"},
		{"1.234.567", "1234567"},
		{"(42.00)", "-42"},
		{"$ 1,000.00", "1000"},
		{"€-7,25", "-7.25"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tt.want)), "got %s", got)
		})
	}

	_, err := ParseAmount("12a")
	assert.Error(t, err)
	_, err = ParseAmount("")
	assert.Error(t, err)
}

func TestDetectDelimiter(t *testing.T) {
	assert.Equal(t, ';', detectDelimiter([]byte("a;b;c\n1;2;3")))
	assert.Equal(t, '\t', detectDelimiter([]byte("a\tb\n1\t2")))
	assert.Equal(t, ',', detectDelimiter([]byte("single")))
}

func TestErrorCollection_Truncates(t *testing.T) {
	ec := NewErrorCollection(2)
	for i := 0; i < 5; i++ {
		ec.AddRequired(i+2, "date")
	}
	assert.Len(t, ec.Errors(), 2)
	assert.Equal(t, 5, ec.TotalCount())
	assert.True(t, ec.IsTruncated())
	assert.Equal(t, "row 2, column 'date': field 'date' is required", ec.Errors()[0].Error())
}
