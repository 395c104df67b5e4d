package engineering

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

var timeParts = []string{"year", "month", "day", "hour", "minute", "second"}

var isoLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
	"2006-01-02",
}

var strftimeVerbs = map[byte]string{
	'Y': "2006",
	'y': "06",
	'm': "01",
	'd': "02",
	'H': "15",
	'I': "03",
	'M': "04",
	'S': "05",
	'f': "000000",
	'p': "PM",
	'b': "Jan",
	'B': "January",
	'a': "Mon",
	'A': "Monday",
	'j': "002",
	'z': "-0700",
	'Z': "MST",
	'%': "%",
}

// TimeSeriesExpand parses each column as a timestamp and replaces it with
// year, month, day, hour, minute and second columns. With more than one
// column the new names are prefixed with "<column>_". The label is moved back
// to the end.
type TimeSeriesExpand struct {
	Columns []string
	Target  string
	Format  string
}

func (TimeSeriesExpand) Name() string { return "time_series_expand" }

func (s TimeSeriesExpand) Apply(t *dataset.Table) (*dataset.Table, error) {
	target, err := targetColumn(t, s.Target)
	if err != nil {
		return nil, err
	}
	layouts, err := Layouts(s.Format)
	if err != nil {
		return nil, err
	}

	out := t.Clone()
	for _, name := range s.Columns {
		c, ok := out.Column(name)
		if !ok {
			return nil, errorutil.Wrapf(errorutil.ErrInvalidInput, "column %q does not exist", name)
		}
		parts := make([][]float64, len(timeParts))
		for p := range parts {
			parts[p] = make([]float64, c.Len())
		}
		complete := true
		for i := 0; i < c.Len(); i++ {
			if c.IsMissing(i) {
				complete = false
				for p := range parts {
					parts[p][i] = math.NaN()
				}
				continue
			}
			ts, err := parseTime(c.StringAt(i), layouts)
			if err != nil {
				return nil, fmt.Errorf("column %q row %d: %w", name, i, err)
			}
			parts[0][i] = float64(ts.Year())
			parts[1][i] = float64(ts.Month())
			parts[2][i] = float64(ts.Day())
			parts[3][i] = float64(ts.Hour())
			parts[4][i] = float64(ts.Minute())
			parts[5][i] = float64(ts.Second())
		}

		out.Drop(name)
		for p, part := range timeParts {
			colName := part
			if len(s.Columns) > 1 {
				colName = name + "_" + part
			}
			col := dataset.NewNumeric(colName, parts[p])
			col.Integer = complete
			if err := out.Set(col); err != nil {
				return nil, err
			}
		}
	}

	if out.Has(target.Name) && out.LabelName() != target.Name {
		if err := out.MoveToEnd(target.Name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Layouts resolves a format name into Go time layouts. "ISO8601" expands to
// the common ISO 8601 forms, formats containing '%' are read as strftime
// directives and anything else is used as a Go layout.
func Layouts(format string) ([]string, error) {
	switch {
	case format == "" || strings.EqualFold(format, DefaultTimestampFormat):
		return isoLayouts, nil
	case strings.Contains(format, "%"):
		layout, err := strftimeToLayout(format)
		if err != nil {
			return nil, err
		}
		return []string{layout}, nil
	default:
		return []string{format}, nil
	}
}

func strftimeToLayout(format string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(format); i++ {
		if format[i] != '%' {
			b.WriteByte(format[i])
			continue
		}
		if i+1 >= len(format) {
			return "", errorutil.Wrapf(errorutil.ErrInvalidConfig, "dangling %% in format %q", format)
		}
		i++
		verb, ok := strftimeVerbs[format[i]]
		if !ok {
			return "", errorutil.Wrapf(errorutil.ErrInvalidConfig, "unsupported directive %%%c in format %q", format[i], format)
		}
		b.WriteString(verb)
	}
	return b.String(), nil
}

func parseTime(value string, layouts []string) (time.Time, error) {
	value = strings.TrimSpace(value)
	var lastErr error
	for _, layout := range layouts {
		ts, err := time.Parse(layout, value)
		if err == nil {
			return ts, nil
		}
		lastErr = err
	}
	return time.Time{}, errorutil.Wrapf(errorutil.ErrInvalidInput, "cannot parse timestamp %q: %v", value, lastErr)
}
