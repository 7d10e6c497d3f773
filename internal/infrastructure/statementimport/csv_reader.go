// Package statementimport turns bank statement exports into statement lines.
package statementimport

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Charset names accepted by WithCharset
const (
	CharsetAuto        = "auto"
	CharsetUTF8        = "utf-8"
	CharsetWindows1252 = "windows-1252"
	CharsetISO88591    = "iso-8859-1"
)

// lookupCharset resolves a charset name; auto returns nil
func lookupCharset(name string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", CharsetAuto:
		return nil, nil
	case CharsetUTF8, "utf8":
		return unicode.UTF8, nil
	case CharsetWindows1252, "cp1252":
		return charmap.Windows1252, nil
	case CharsetISO88591, "latin1", "latin-1":
		return charmap.ISO8859_1, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrUnsupportedCharset, name)
}

// decode converts raw file bytes to UTF-8. A byte order mark always wins;
// otherwise auto mode keeps valid UTF-8 and falls back to Windows-1252,
// the usual export charset of spreadsheet tools.
func decode(data []byte, charset string) ([]byte, error) {
	enc, err := lookupCharset(charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		if utf8.Valid(data) {
			enc = unicode.UTF8
		} else {
			enc = charmap.Windows1252
		}
	}

	out, err := io.ReadAll(transform.NewReader(bytes.NewReader(data), unicode.BOMOverride(enc.NewDecoder())))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEncoding, err)
	}
	return out, nil
}

// detectDelimiter picks the most frequent separator on the header line
func detectDelimiter(data []byte) rune {
	first := data
	if i := bytes.IndexByte(data, '\n'); i >= 0 {
		first = data[:i]
	}
	best, bestCount := ',', 0
	for _, c := range []rune{',', ';', '\t', '|'} {
		if n := bytes.Count(first, []byte(string(c))); n > bestCount {
			best, bestCount = c, n
		}
	}
	return best
}

// Row is a data row keyed by normalized header name
type Row struct {
	LineNumber int
	Data       map[string]string
}

// Get returns the value for a column
func (r *Row) Get(header string) string {
	return r.Data[header]
}

// IsEmpty returns true if the row has no non-empty values
func (r *Row) IsEmpty() bool {
	for _, v := range r.Data {
		if v != "" {
			return false
		}
	}
	return true
}

// csvReader reads a decoded CSV body with a header row
type csvReader struct {
	reader    *csv.Reader
	headers   []string
	headerMap map[string]int
	line      int
}

func newCSVReader(body []byte, delimiter rune) *csvReader {
	r := csv.NewReader(bytes.NewReader(body))
	r.Comma = delimiter
	r.LazyQuotes = true
	r.TrimLeadingSpace = true
	r.FieldsPerRecord = -1
	return &csvReader{reader: r, headerMap: make(map[string]int)}
}

// normalizeHeader lowercases and joins words with underscores
func normalizeHeader(h string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(h))), "_")
}

func (p *csvReader) readHeader() error {
	record, err := p.reader.Read()
	if err == io.EOF {
		return ErrMissingHeader
	}
	if err != nil {
		return fmt.Errorf("failed to read header: %w", err)
	}
	p.line = 1

	p.headers = make([]string, len(record))
	for i, h := range record {
		name := normalizeHeader(h)
		p.headers[i] = name
		if _, dup := p.headerMap[name]; !dup && name != "" {
			p.headerMap[name] = i
		}
	}
	if len(p.headerMap) == 0 {
		return ErrMissingHeader
	}
	return nil
}

// column returns the first header present among names
func (p *csvReader) column(names ...string) (string, bool) {
	for _, n := range names {
		if _, ok := p.headerMap[n]; ok {
			return n, true
		}
	}
	return "", false
}

// next returns the next row or io.EOF
func (p *csvReader) next() (*Row, error) {
	record, err := p.reader.Read()
	if err == io.EOF {
		return nil, io.EOF
	}
	p.line++
	if err != nil {
		return nil, fmt.Errorf("error reading row %d: %w", p.line, err)
	}

	row := &Row{LineNumber: p.line, Data: make(map[string]string, len(p.headerMap))}
	for name, i := range p.headerMap {
		if i < len(record) {
			row.Data[name] = strings.TrimSpace(record[i])
		} else {
			row.Data[name] = ""
		}
	}
	return row, nil
}
