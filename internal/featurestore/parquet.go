package featurestore

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

var timestampType = &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}

// schema lays out the join key, the event timestamp, the feature fields and,
// when present, the label.
func (d Definition) schema(label string) *arrow.Schema {
	fields := []arrow.Field{
		{Name: d.Entity.JoinKey, Type: arrow.BinaryTypes.String},
		{Name: d.TimestampField, Type: timestampType},
	}
	for _, f := range d.Fields {
		fields = append(fields, arrow.Field{Name: f.Name, Type: arrow.PrimitiveTypes.Float64, Nullable: true})
	}
	if label != "" {
		fields = append(fields, arrow.Field{Name: label, Type: arrow.BinaryTypes.String, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

// ExportParquet writes the feature view rows of t to path, stamping every row
// with now. The label column is kept unless it is itself a field.
func ExportParquet(ctx context.Context, t *dataset.Table, def Definition, path string, now time.Time) error {
	if err := def.Validate(t); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	label := t.LabelName()
	for _, f := range def.Fields {
		if f.Name == label {
			label = ""
			break
		}
	}

	mem := memory.NewGoAllocator()
	schema := def.schema(label)
	rb := array.NewRecordBuilder(mem, schema)
	defer rb.Release()

	ids := def.entityIDs(t)
	idb := rb.Field(0).(*array.StringBuilder)
	tsb := rb.Field(1).(*array.TimestampBuilder)
	stamp := arrow.Timestamp(now.UTC().UnixMicro())
	for i := range ids {
		idb.Append(ids[i])
		tsb.Append(stamp)
	}

	for j, f := range def.Fields {
		c, _ := t.Column(f.Name)
		fb := rb.Field(2 + j).(*array.Float64Builder)
		for _, v := range c.Floats {
			if math.IsNaN(v) {
				fb.AppendNull()
				continue
			}
			fb.Append(v)
		}
	}

	if label != "" {
		lc, _ := t.Column(label)
		lb := rb.Field(2 + len(def.Fields)).(*array.StringBuilder)
		for i := 0; i < t.NumRows(); i++ {
			if lc.IsMissing(i) {
				lb.AppendNull()
				continue
			}
			lb.Append(lc.StringAt(i))
		}
	}

	rec := rb.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	w, err := pqarrow.NewFileWriter(schema, &buf, parquet.NewWriterProperties(), pqarrow.NewArrowWriterProperties(pqarrow.WithStoreSchema()))
	if err != nil {
		return fmt.Errorf("failed to create parquet writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		return fmt.Errorf("failed to write parquet record: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("failed to close parquet writer: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// ReadParquet loads an offline store file back into a Table. Float columns
// stay numeric; strings and timestamps become categorical.
func ReadParquet(ctx context.Context, path string) (*dataset.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errorutil.Wrapf(errorutil.ErrIngestion, "open %s: %v", path, err)
	}
	defer f.Close()

	mem := memory.NewGoAllocator()
	tbl, err := pqarrow.ReadTable(ctx, f, parquet.NewReaderProperties(mem), pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, errorutil.Wrapf(errorutil.ErrIngestion, "read %s: %v", path, err)
	}
	defer tbl.Release()

	cols := make([]*dataset.Column, 0, int(tbl.NumCols()))
	for i := 0; i < int(tbl.NumCols()); i++ {
		field := tbl.Schema().Field(i)
		c, err := toColumn(field, tbl.Column(i).Data().Chunks())
		if err != nil {
			return nil, err
		}
		cols = append(cols, c)
	}
	return dataset.New(cols...)
}

func toColumn(field arrow.Field, chunks []arrow.Array) (*dataset.Column, error) {
	switch field.Type.ID() {
	case arrow.FLOAT64:
		var values []float64
		for _, chunk := range chunks {
			arr := chunk.(*array.Float64)
			for i := 0; i < arr.Len(); i++ {
				if arr.IsNull(i) {
					values = append(values, math.NaN())
					continue
				}
				values = append(values, arr.Value(i))
			}
		}
		return dataset.NewNumeric(field.Name, values), nil
	case arrow.STRING:
		var values []string
		for _, chunk := range chunks {
			arr := chunk.(*array.String)
			for i := 0; i < arr.Len(); i++ {
				if arr.IsNull(i) {
					values = append(values, "")
					continue
				}
				values = append(values, arr.Value(i))
			}
		}
		return dataset.NewCategorical(field.Name, values), nil
	case arrow.TIMESTAMP:
		unit := field.Type.(*arrow.TimestampType).Unit
		var values []string
		for _, chunk := range chunks {
			arr := chunk.(*array.Timestamp)
			for i := 0; i < arr.Len(); i++ {
				if arr.IsNull(i) {
					values = append(values, "")
					continue
				}
				values = append(values, arr.Value(i).ToTime(unit).UTC().Format(time.RFC3339Nano))
			}
		}
		return dataset.NewCategorical(field.Name, values), nil
	default:
		return nil, errorutil.Wrapf(errorutil.ErrUnsupportedFormat, "column %q has unsupported type %s", field.Name, field.Type)
	}
}
