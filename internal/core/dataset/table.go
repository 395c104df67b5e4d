// Package dataset holds the in-memory table that flows through every pipeline stage.
package dataset

import (
	"fmt"
	"math"
	"strconv"

	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

// Kind is the storage class of a column.
type Kind int

const (
	Numeric Kind = iota
	Categorical
)

func (k Kind) String() string {
	if k == Numeric {
		return "numeric"
	}
	return "categorical"
}

// Column is a named vector. Numeric columns store NaN for missing cells,
// categorical columns store the empty string.
type Column struct {
	Name    string
	Kind    Kind
	Integer bool
	Floats  []float64
	Strings []string
}

// NewNumeric builds a numeric column.
func NewNumeric(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Numeric, Floats: values}
}

// NewInteger builds a numeric column flagged as integer typed.
func NewInteger(name string, values []float64) *Column {
	return &Column{Name: name, Kind: Numeric, Integer: true, Floats: values}
}

// NewCategorical builds a categorical column.
func NewCategorical(name string, values []string) *Column {
	return &Column{Name: name, Kind: Categorical, Strings: values}
}

// Len returns the number of cells.
func (c *Column) Len() int {
	if c.Kind == Numeric {
		return len(c.Floats)
	}
	return len(c.Strings)
}

// IsMissing reports whether cell i holds no value.
func (c *Column) IsMissing(i int) bool {
	if c.Kind == Numeric {
		return math.IsNaN(c.Floats[i])
	}
	return c.Strings[i] == ""
}

// StringAt renders cell i. Numbers use the shortest round-trip form so that a
// numeric label 3 becomes "3".
func (c *Column) StringAt(i int) string {
	if c.Kind == Categorical {
		return c.Strings[i]
	}
	if math.IsNaN(c.Floats[i]) {
		return ""
	}
	return strconv.FormatFloat(c.Floats[i], 'f', -1, 64)
}

// Strs renders the whole column as strings.
func (c *Column) Strs() []string {
	out := make([]string, c.Len())
	for i := range out {
		out[i] = c.StringAt(i)
	}
	return out
}

// Clone returns a deep copy.
func (c *Column) Clone() *Column {
	cp := &Column{Name: c.Name, Kind: c.Kind, Integer: c.Integer}
	if c.Floats != nil {
		cp.Floats = append([]float64(nil), c.Floats...)
	}
	if c.Strings != nil {
		cp.Strings = append([]string(nil), c.Strings...)
	}
	return cp
}

// Take returns a new column holding the cells at idx, in order.
func (c *Column) Take(idx []int) *Column {
	out := &Column{Name: c.Name, Kind: c.Kind, Integer: c.Integer}
	if c.Kind == Numeric {
		out.Floats = make([]float64, len(idx))
		for i, j := range idx {
			out.Floats[i] = c.Floats[j]
		}
		return out
	}
	out.Strings = make([]string, len(idx))
	for i, j := range idx {
		out.Strings[i] = c.Strings[j]
	}
	return out
}

// Distinct counts the distinct non-missing values.
func (c *Column) Distinct() int {
	if c.Kind == Numeric {
		seen := make(map[float64]struct{})
		for _, v := range c.Floats {
			if !math.IsNaN(v) {
				seen[v] = struct{}{}
			}
		}
		return len(seen)
	}
	seen := make(map[string]struct{})
	for _, v := range c.Strings {
		if v != "" {
			seen[v] = struct{}{}
		}
	}
	return len(seen)
}

// Table is an ordered set of equally long columns. By convention the last
// column is the label.
type Table struct {
	columns []*Column
	index   map[string]int
	rows    int
}

// New assembles a table and validates that all columns have the same length
// and unique names.
func New(columns ...*Column) (*Table, error) {
	t := &Table{index: make(map[string]int, len(columns))}
	for i, c := range columns {
		if c == nil {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "column %d is nil", i)
		}
		if _, dup := t.index[c.Name]; dup {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "duplicate column %q", c.Name)
		}
		if i == 0 {
			t.rows = c.Len()
		} else if c.Len() != t.rows {
			return nil, errorutil.Wrapf(errorutil.ErrShapeMismatch,
				"column %q has %d rows, expected %d", c.Name, c.Len(), t.rows)
		}
		t.index[c.Name] = i
		t.columns = append(t.columns, c)
	}
	return t, nil
}

// MustNew is New for statically known tables; it panics on error.
func MustNew(columns ...*Column) *Table {
	t, err := New(columns...)
	if err != nil {
		panic(err)
	}
	return t
}

// NumRows returns the shared row count.
func (t *Table) NumRows() int { return t.rows }

// NumCols returns the number of columns including the label.
func (t *Table) NumCols() int { return len(t.columns) }

// Names returns the column names in order.
func (t *Table) Names() []string {
	names := make([]string, len(t.columns))
	for i, c := range t.columns {
		names[i] = c.Name
	}
	return names
}

// Columns exposes the columns in order. The slice must not be modified.
func (t *Table) Columns() []*Column { return t.columns }

// Column looks a column up by name.
func (t *Table) Column(name string) (*Column, bool) {
	i, ok := t.index[name]
	if !ok {
		return nil, false
	}
	return t.columns[i], true
}

// Has reports whether the table carries a column with the given name.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Label returns the last column.
func (t *Table) Label() (*Column, error) {
	if len(t.columns) == 0 {
		return nil, errorutil.Wrapf(errorutil.ErrEmptyInput, "table has no columns")
	}
	return t.columns[len(t.columns)-1], nil
}

// LabelName returns the name of the last column or "" for an empty table.
func (t *Table) LabelName() string {
	if len(t.columns) == 0 {
		return ""
	}
	return t.columns[len(t.columns)-1].Name
}

// Features returns every column except the label.
func (t *Table) Features() []*Column {
	if len(t.columns) == 0 {
		return nil
	}
	return t.columns[:len(t.columns)-1]
}

// Clone deep-copies the table.
func (t *Table) Clone() *Table {
	cp := &Table{index: make(map[string]int, len(t.columns)), rows: t.rows}
	for i, c := range t.columns {
		cp.columns = append(cp.columns, c.Clone())
		cp.index[c.Name] = i
	}
	return cp
}

// Set replaces the column with the same name in place, or appends it.
func (t *Table) Set(c *Column) error {
	if len(t.columns) > 0 && c.Len() != t.rows {
		return errorutil.Wrapf(errorutil.ErrShapeMismatch,
			"column %q has %d rows, expected %d", c.Name, c.Len(), t.rows)
	}
	if len(t.columns) == 0 {
		t.rows = c.Len()
	}
	if i, ok := t.index[c.Name]; ok {
		t.columns[i] = c
		return nil
	}
	t.index[c.Name] = len(t.columns)
	t.columns = append(t.columns, c)
	return nil
}

// Drop removes the named columns; unknown names are ignored.
func (t *Table) Drop(names ...string) {
	drop := make(map[string]bool, len(names))
	for _, n := range names {
		drop[n] = true
	}
	kept := t.columns[:0]
	for _, c := range t.columns {
		if !drop[c.Name] {
			kept = append(kept, c)
		}
	}
	t.columns = kept
	t.reindex()
}

// MoveToEnd repositions a column as the last one.
func (t *Table) MoveToEnd(name string) error {
	i, ok := t.index[name]
	if !ok {
		return errorutil.Wrapf(errorutil.ErrInvalidInput, "column %q not found", name)
	}
	c := t.columns[i]
	t.columns = append(append(t.columns[:i:i], t.columns[i+1:]...), c)
	t.reindex()
	return nil
}

// Take returns a new table holding the rows at idx, in order.
func (t *Table) Take(idx []int) *Table {
	out := &Table{index: make(map[string]int, len(t.columns)), rows: len(idx)}
	for i, c := range t.columns {
		out.columns = append(out.columns, c.Take(idx))
		out.index[c.Name] = i
	}
	return out
}

// FeatureMatrix returns the non-label columns as row-major vectors. Every
// feature column must be numeric.
func (t *Table) FeatureMatrix() ([][]float64, error) {
	feats := t.Features()
	for _, c := range feats {
		if c.Kind != Numeric {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "feature column %q is %s", c.Name, c.Kind)
		}
	}
	return rowsOf(feats, t.rows), nil
}

// Matrix returns all columns as row-major vectors. Every column must be numeric.
func (t *Table) Matrix() ([][]float64, error) {
	for _, c := range t.columns {
		if c.Kind != Numeric {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "column %q is %s", c.Name, c.Kind)
		}
	}
	return rowsOf(t.columns, t.rows), nil
}

func rowsOf(cols []*Column, n int) [][]float64 {
	out := make([][]float64, n)
	for i := range out {
		row := make([]float64, len(cols))
		for j, c := range cols {
			row[j] = c.Floats[i]
		}
		out[i] = row
	}
	return out
}

// Equal reports whether two tables hold the same columns, kinds and values.
// NaN cells compare equal to each other.
func (t *Table) Equal(o *Table) bool {
	if t.rows != o.rows || len(t.columns) != len(o.columns) {
		return false
	}
	for i, c := range t.columns {
		d := o.columns[i]
		if c.Name != d.Name || c.Kind != d.Kind || c.Integer != d.Integer {
			return false
		}
		for r := 0; r < t.rows; r++ {
			if c.Kind == Numeric {
				a, b := c.Floats[r], d.Floats[r]
				if a != b && !(math.IsNaN(a) && math.IsNaN(b)) {
					return false
				}
			} else if c.Strings[r] != d.Strings[r] {
				return false
			}
		}
	}
	return true
}

// String renders a short shape description.
func (t *Table) String() string {
	return fmt.Sprintf("Table(%d rows x %d cols)", t.rows, len(t.columns))
}

func (t *Table) reindex() {
	t.index = make(map[string]int, len(t.columns))
	for i, c := range t.columns {
		t.index[c.Name] = i
	}
	if len(t.columns) == 0 {
		t.rows = 0
	}
}
