package infer

import (
	"time"

	"github.com/apache/arrow-go/v18/arrow"

	"github.com/lineforge/jsontable/parse"
)

// TimestampType is the type inferred for ISO-8601 date and datetime
// strings.
var TimestampType = &arrow.TimestampType{Unit: arrow.Second}

var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z07:00",
	"2006-01-02",
}

// ParseTimestamp interprets s as an ISO-8601 date or datetime and returns
// seconds since the Unix epoch. Dates resolve to midnight UTC; datetimes
// without a zone are taken as UTC, and an explicit "Z" or "±hh:mm" offset
// is honored.
func ParseTimestamp(s string) (int64, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.Unix(), true
		}
	}
	return 0, false
}

// TypeOf infers the type of a single parsed value.
func TypeOf(v parse.Value) (arrow.DataType, error) {
	switch v.Kind() {
	case parse.KindNull:
		return arrow.Null, nil
	case parse.KindBool:
		return arrow.FixedWidthTypes.Boolean, nil
	case parse.KindInt:
		return arrow.PrimitiveTypes.Int64, nil
	case parse.KindFloat:
		return arrow.PrimitiveTypes.Float64, nil
	case parse.KindString:
		if _, ok := ParseTimestamp(v.Str()); ok {
			return TimestampType, nil
		}
		return arrow.BinaryTypes.String, nil
	case parse.KindArray:
		elem := arrow.DataType(arrow.Null)
		for _, e := range v.Elems() {
			et, err := TypeOf(e)
			if err != nil {
				return nil, err
			}
			elem, err = Unify(elem, et)
			if err != nil {
				return nil, err
			}
		}
		return arrow.ListOf(elem), nil
	case parse.KindObject:
		fields := make([]arrow.Field, 0, len(v.Fields()))
		for _, f := range v.Fields() {
			ft, err := TypeOf(f.Value)
			if err != nil {
				return nil, err
			}
			fields = append(fields, arrow.Field{Name: f.Name, Type: ft, Nullable: true})
		}
		return arrow.StructOf(fields...), nil
	}
	return arrow.Null, nil
}

// FieldDraft is one drafted field: a name and the type folded from all its
// observed values so far.
type FieldDraft struct {
	Name string
	Type arrow.DataType
}

// Draft is an ordered set of drafted fields. Order is first-seen order,
// which later determines the position of inferred fields in the unified
// schema.
type Draft struct {
	Fields []FieldDraft
	index  map[string]int
}

// NewDraft returns an empty draft.
func NewDraft() *Draft {
	return &Draft{index: make(map[string]int)}
}

// Observe folds one observed type into the draft.
func (d *Draft) Observe(name string, dt arrow.DataType) error {
	if i, ok := d.index[name]; ok {
		merged, err := Unify(d.Fields[i].Type, dt)
		if err != nil {
			return err
		}
		d.Fields[i].Type = merged
		return nil
	}
	d.index[name] = len(d.Fields)
	d.Fields = append(d.Fields, FieldDraft{Name: name, Type: dt})
	return nil
}

// TypeByName returns the drafted type for a field, if present.
func (d *Draft) TypeByName(name string) (arrow.DataType, bool) {
	if i, ok := d.index[name]; ok {
		return d.Fields[i].Type, true
	}
	return nil, false
}

// FromRows computes a block's local draft by folding the types of every
// value seen for each field.
func FromRows(rows []parse.Row) (*Draft, error) {
	d := NewDraft()
	for _, row := range rows {
		for _, f := range row.Fields {
			ft, err := TypeOf(f.Value)
			if err != nil {
				return nil, err
			}
			if err := d.Observe(f.Name, ft); err != nil {
				return nil, err
			}
		}
	}
	return d, nil
}

// Merge folds another draft into this one. Folding per-block drafts in
// block-sequence order yields first-seen field ordering that is independent
// of task completion order.
func (d *Draft) Merge(other *Draft) error {
	for _, f := range other.Fields {
		if err := d.Observe(f.Name, f.Type); err != nil {
			return err
		}
	}
	return nil
}
