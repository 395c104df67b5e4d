package dataset

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

var missingTokens = map[string]bool{
	"":     true,
	"NA":   true,
	"N/A":  true,
	"NaN":  true,
	"nan":  true,
	"null": true,
	"NULL": true,
	"None": true,
	"#N/A": true,
}

// IsMissingToken reports whether a raw cell denotes a missing value.
func IsMissingToken(s string) bool {
	return missingTokens[strings.TrimSpace(s)]
}

// ReadCSV parses delimited text with a header row. Column kinds are inferred:
// numeric when every non-missing cell parses as a float, integer flagged when
// additionally every cell is a present integer.
func ReadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errorutil.Wrapf(errorutil.ErrEmptyInput, "missing CSV header")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	raw := make([][]string, len(header))
	line := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV record: %w", err)
		}
		line++
		if len(record) != len(header) {
			return nil, errorutil.Wrapf(errorutil.ErrShapeMismatch,
				"line %d has %d fields, header has %d", line, len(record), len(header))
		}
		for j, cell := range record {
			raw[j] = append(raw[j], cell)
		}
	}

	cols := make([]*Column, len(header))
	for j, name := range header {
		cols[j] = inferColumn(name, raw[j])
	}
	return New(cols...)
}

func inferColumn(name string, cells []string) *Column {
	floats := make([]float64, len(cells))
	numeric, integer := true, true
	for i, cell := range cells {
		cell = strings.TrimSpace(cell)
		if IsMissingToken(cell) {
			floats[i] = math.NaN()
			integer = false
			continue
		}
		v, err := strconv.ParseFloat(cell, 64)
		if err != nil {
			numeric = false
			break
		}
		floats[i] = v
		if integer {
			if _, err := strconv.ParseInt(cell, 10, 64); err != nil {
				integer = false
			}
		}
	}
	if numeric {
		if cells == nil {
			floats = []float64{}
		}
		return &Column{Name: name, Kind: Numeric, Integer: integer && len(cells) > 0, Floats: floats}
	}

	strs := make([]string, len(cells))
	for i, cell := range cells {
		if !IsMissingToken(cell) {
			strs[i] = cell
		}
	}
	return NewCategorical(name, strs)
}

// WriteCSV renders the table with a header row. Missing cells are written empty.
func WriteCSV(w io.Writer, t *Table) error {
	writer := csv.NewWriter(w)
	if err := writer.Write(t.Names()); err != nil {
		return err
	}
	record := make([]string, t.NumCols())
	for i := 0; i < t.NumRows(); i++ {
		for j, c := range t.Columns() {
			record[j] = c.StringAt(i)
		}
		if err := writer.Write(record); err != nil {
			return err
		}
	}
	writer.Flush()
	return writer.Error()
}
