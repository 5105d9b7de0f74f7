// Package assemble converts parsed rows plus a finalized block schema into
// typed Arrow array segments.
package assemble

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/lineforge/jsontable/infer"
	"github.com/lineforge/jsontable/parse"
	"github.com/lineforge/jsontable/taberr"
)

// Block builds one record batch from a block's rows using the finalized
// schema. Every field produces a segment of length exactly len(rows), with
// nulls where a row lacks the field. A zero-row block yields a zero-row
// record, not an absent one.
func Block(mem memory.Allocator, rows []parse.Row, schema *arrow.Schema) (rec arrow.Record, err error) {
	// Arrow builders panic when storage cannot be obtained; surface that
	// as an allocation error instead of crashing the pipeline.
	defer func() {
		if r := recover(); r != nil {
			rec = nil
			err = taberr.New(taberr.Allocation, "building arrays: %v", r)
		}
	}()

	if schema.NumFields() == 0 {
		return array.NewRecord(schema, nil, int64(len(rows))), nil
	}

	builder := array.NewRecordBuilder(mem, schema)
	defer builder.Release()

	for _, row := range rows {
		for i, field := range schema.Fields() {
			v, ok := row.FieldByName(field.Name)
			if !ok {
				v = parse.Null
			}
			if err := appendValue(builder.Field(i), field.Type, v); err != nil {
				return nil, err
			}
		}
	}
	return builder.NewRecord(), nil
}

// appendValue appends one parsed value to a builder of the target type,
// applying only the allowed conversions: numeric widening, ISO-8601 strings
// into timestamps, and array literals into list shapes. Anything else is a
// type conflict.
func appendValue(b array.Builder, dt arrow.DataType, v parse.Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}

	switch bld := b.(type) {
	case *array.BooleanBuilder:
		if v.Kind() == parse.KindBool {
			bld.Append(v.Bool())
			return nil
		}
	case *array.Int64Builder:
		if v.Kind() == parse.KindInt {
			bld.Append(v.Int())
			return nil
		}
	case *array.Float64Builder:
		if v.Kind() == parse.KindInt || v.Kind() == parse.KindFloat {
			bld.Append(v.Float())
			return nil
		}
	case *array.StringBuilder:
		if v.Kind() == parse.KindString {
			bld.Append(v.Str())
			return nil
		}
	case *array.TimestampBuilder:
		if v.Kind() == parse.KindString {
			secs, ok := infer.ParseTimestamp(v.Str())
			if !ok {
				return taberr.New(taberr.TypeConflict,
					"cannot convert %q to timestamp", v.Str())
			}
			bld.Append(scaleTimestamp(secs, dt.(*arrow.TimestampType).Unit))
			return nil
		}
	case *array.ListBuilder:
		if v.Kind() == parse.KindArray {
			bld.Append(true)
			elem := dt.(*arrow.ListType).Elem()
			vb := bld.ValueBuilder()
			for _, e := range v.Elems() {
				if err := appendValue(vb, elem, e); err != nil {
					return err
				}
			}
			return nil
		}
	case *array.FixedSizeListBuilder:
		if v.Kind() == parse.KindArray {
			fsl := dt.(*arrow.FixedSizeListType)
			if int32(len(v.Elems())) != fsl.Len() {
				return taberr.New(taberr.Schema,
					"fixed-size list of length %d got %d elements",
					fsl.Len(), len(v.Elems()))
			}
			bld.Append(true)
			vb := bld.ValueBuilder()
			for _, e := range v.Elems() {
				if err := appendValue(vb, fsl.Elem(), e); err != nil {
					return err
				}
			}
			return nil
		}
	case *array.StructBuilder:
		if v.Kind() == parse.KindObject {
			bld.Append(true)
			st := dt.(*arrow.StructType)
			for i, f := range st.Fields() {
				child, ok := v.FieldByName(f.Name)
				if !ok {
					child = parse.Null
				}
				if err := appendValue(bld.FieldBuilder(i), f.Type, child); err != nil {
					return err
				}
			}
			return nil
		}
	case *array.NullBuilder:
		// Only nulls reach a null-typed column; handled above.
	default:
		return taberr.New(taberr.Schema, "unsupported column type %s", dt)
	}

	return taberr.New(taberr.TypeConflict,
		"cannot convert %s value to %s", v.Kind(), dt)
}

func scaleTimestamp(secs int64, unit arrow.TimeUnit) arrow.Timestamp {
	switch unit {
	case arrow.Second:
		return arrow.Timestamp(secs)
	case arrow.Millisecond:
		return arrow.Timestamp(secs * 1e3)
	case arrow.Microsecond:
		return arrow.Timestamp(secs * 1e6)
	default:
		return arrow.Timestamp(secs * 1e9)
	}
}
