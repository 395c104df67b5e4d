// Package featurestore registers the selected principal component features
// and moves them to the offline (parquet) and online (redis) stores.
package featurestore

import (
	"fmt"
	"strconv"
	"time"

	"github.com/theblitlabs/misuse-detection/internal/core/dataset"
	"github.com/theblitlabs/misuse-detection/internal/utils/errorutil"
)

type Entity struct {
	Name        string
	JoinKey     string
	Description string
}

type Field struct {
	Name        string
	Description string
}

// Definition describes one feature view and where its data lives. Every
// field is a float64.
type Definition struct {
	Project        string
	Description    string
	Entity         Entity
	View           string
	Fields         []Field
	TTL            time.Duration
	Online         bool
	SourcePath     string
	TimestampField string
	Tags           map[string]string
}

// Default returns the misuse detection feature view over PC1..PC9.
func Default() Definition {
	fields := make([]Field, 9)
	for i := range fields {
		fields[i] = Field{
			Name:        fmt.Sprintf("PC%d", i+1),
			Description: fmt.Sprintf("Feature %d", i+1),
		}
	}
	return Definition{
		Project:     "feature_store",
		Description: "A project for misuse detection in containers using classification algorithms.",
		Entity: Entity{
			Name:        "misuse_det_entity",
			JoinKey:     "feature_id",
			Description: "An entity for misuse detection in containers using classification algorithms.",
		},
		View:           "misuse_det_feature_view",
		Fields:         fields,
		TTL:            24 * time.Hour,
		Online:         true,
		SourcePath:     "data/predictors.parquet",
		TimestampField: "event_timestamp",
		Tags:           map[string]string{"release": "final"},
	}
}

func (d Definition) FieldNames() []string {
	names := make([]string, len(d.Fields))
	for i, f := range d.Fields {
		names[i] = f.Name
	}
	return names
}

// Key is the online store key of one entity row.
func (d Definition) Key(id string) string {
	return d.View + ":" + id
}

// Validate checks that t provides every field as a numeric column.
func (d Definition) Validate(t *dataset.Table) error {
	if t == nil {
		return errorutil.Wrapf(errorutil.ErrInvalidInput, "nil table")
	}
	if len(d.Fields) == 0 {
		return errorutil.Wrapf(errorutil.ErrInvalidConfig, "feature view %q has no fields", d.View)
	}
	for _, f := range d.Fields {
		c, ok := t.Column(f.Name)
		if !ok {
			return errorutil.Wrapf(errorutil.ErrInvalidInput, "feature view %q: missing field %q", d.View, f.Name)
		}
		if c.Kind != dataset.Numeric {
			return errorutil.Wrapf(errorutil.ErrInvalidInput, "feature view %q: field %q is %s", d.View, f.Name, c.Kind)
		}
	}
	return nil
}

// entityIDs returns the join key of every row: the join key column when the
// table has one, otherwise the row position.
func (d Definition) entityIDs(t *dataset.Table) []string {
	ids := make([]string, t.NumRows())
	if c, ok := t.Column(d.Entity.JoinKey); ok {
		for i := range ids {
			ids[i] = c.StringAt(i)
		}
		return ids
	}
	for i := range ids {
		ids[i] = strconv.Itoa(i)
	}
	return ids
}
