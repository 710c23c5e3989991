package fetcher

import (
	"encoding/csv"
	"errors"
	"io"
	"strings"

	"github.com/jszwec/csvutil"
	"github.com/rotisserie/eris"
)

// DecodeCSV decodes every record of a CSV feed into v, which must point to a
// slice of structs with `csv` tags. Header names are normalized first (see
// NormalizeHeader), so tags use lower_snake_case. An empty feed decodes to
// an empty slice.
func DecodeCSV(r io.Reader, v any) error {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true
	cr.ReuseRecord = false
	return decodeRecords(cr, v)
}

// DecodeRows decodes pre-split rows (header first) the same way DecodeCSV does.
func DecodeRows(rows [][]string, v any) error {
	return decodeRecords(&rowReader{rows: rows}, v)
}

func decodeRecords(r csvutil.Reader, v any) error {
	header, err := r.Read()
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err != nil {
		return eris.Wrap(err, "fetcher: read header")
	}

	dec, err := csvutil.NewDecoder(r, NormalizeHeader(header)...)
	if err != nil {
		return eris.Wrap(err, "fetcher: new decoder")
	}
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return eris.Wrap(err, "fetcher: decode records")
	}
	return nil
}

// NormalizeHeader lower-cases header names, strips a UTF-8 BOM, and replaces
// spaces and hyphens with underscores: "Ex Date" becomes "ex_date".
func NormalizeHeader(header []string) []string {
	out := make([]string, len(header))
	r := strings.NewReplacer(" ", "_", "-", "_")
	for i, h := range header {
		h = strings.TrimPrefix(h, "\ufeff")
		out[i] = r.Replace(strings.ToLower(strings.TrimSpace(h)))
	}
	return out
}

// rowReader adapts in-memory rows to csvutil.Reader. Short rows are padded
// to the header width and blank rows are skipped.
type rowReader struct {
	rows  [][]string
	pos   int
	width int
}

func (r *rowReader) Read() ([]string, error) {
	for r.pos < len(r.rows) {
		row := r.rows[r.pos]
		r.pos++
		if r.width == 0 {
			r.width = len(row)
			return row, nil
		}
		if blank(row) {
			continue
		}
		if len(row) < r.width {
			padded := make([]string, r.width)
			copy(padded, row)
			row = padded
		}
		return row[:r.width], nil
	}
	return nil, io.EOF
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
