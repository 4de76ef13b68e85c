package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/galois26/procurement-ingester/internal/config"
)

// csvFormat is a resolved csv: block.
type csvFormat struct {
	enc   encoding.Encoding
	comma rune
}

func newCSVFormat(c config.CSVSettings) (csvFormat, error) {
	f := csvFormat{enc: unicode.UTF8, comma: ','}
	if label := strings.TrimSpace(c.Encoding); label != "" {
		enc, err := htmlindex.Get(label)
		if err != nil {
			return f, fmt.Errorf("csv.encoding %q: %w", label, err)
		}
		f.enc = enc
	}
	if c.Delimiter != "" {
		r, n := utf8.DecodeRuneInString(c.Delimiter)
		if n != len(c.Delimiter) || r == utf8.RuneError || r == '"' || r == '\r' || r == '\n' {
			return f, fmt.Errorf("csv.delimiter %q: must be one character", c.Delimiter)
		}
		f.comma = r
	}
	return f, nil
}

// readRows decodes r to UTF-8 and calls emit with each data row keyed by
// the header. A leading byte-order mark is dropped. Reading stops when emit
// returns false.
func (f csvFormat) readRows(r io.Reader, emit func(Row) bool) error {
	dec := unicode.BOMOverride(f.enc.NewDecoder())
	cr := csv.NewReader(transform.NewReader(r, dec))
	cr.Comma = f.comma
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		row := make(Row, len(header))
		for i, name := range header {
			if i < len(rec) && name != "" {
				row[name] = rec[i]
			}
		}
		if !emit(row) {
			return nil
		}
	}
}
