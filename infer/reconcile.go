package infer

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// Reconcile merges an optional explicit schema with a draft of inferred
// fields into one deterministic schema: explicit fields first, in declared
// order, followed by inferred-only fields in first-seen order.
//
// Declared types are authoritative. A declared struct may still be extended
// with inferred child fields that the declaration does not mention; the
// declared children keep their declared types.
func Reconcile(explicit *arrow.Schema, inferred *Draft) *arrow.Schema {
	var fields []arrow.Field
	declared := make(map[string]bool)

	if explicit != nil {
		for _, f := range explicit.Fields() {
			declared[f.Name] = true
			dt := f.Type
			if it, ok := inferred.TypeByName(f.Name); ok {
				dt = reconcileType(f.Type, it)
			}
			fields = append(fields, arrow.Field{Name: f.Name, Type: dt, Nullable: true})
		}
	}
	for _, f := range inferred.Fields {
		if declared[f.Name] {
			continue
		}
		fields = append(fields, arrow.Field{Name: f.Name, Type: f.Type, Nullable: true})
	}
	return arrow.NewSchema(fields, nil)
}

func reconcileType(declared, inferred arrow.DataType) arrow.DataType {
	if inferred == nil || allNull(inferred) {
		return declared
	}
	switch dt := declared.(type) {
	case *arrow.StructType:
		it, ok := inferred.(*arrow.StructType)
		if !ok {
			return declared
		}
		var fields []arrow.Field
		seen := make(map[string]bool, dt.NumFields())
		for _, f := range dt.Fields() {
			seen[f.Name] = true
			child := f.Type
			if ic, ok := it.FieldByName(f.Name); ok {
				child = reconcileType(f.Type, ic.Type)
			}
			fields = append(fields, arrow.Field{Name: f.Name, Type: child, Nullable: true})
		}
		for _, f := range it.Fields() {
			if seen[f.Name] {
				continue
			}
			fields = append(fields, arrow.Field{Name: f.Name, Type: f.Type, Nullable: true})
		}
		return arrow.StructOf(fields...)
	case *arrow.ListType:
		if it, ok := inferred.(*arrow.ListType); ok {
			return arrow.ListOf(reconcileType(dt.Elem(), it.Elem()))
		}
		return declared
	case *arrow.FixedSizeListType:
		// Array values always draft as variable-size lists; the declared
		// length stays fixed.
		if it, ok := inferred.(*arrow.ListType); ok {
			return arrow.FixedSizeListOf(dt.Len(), reconcileType(dt.Elem(), it.Elem()))
		}
		if it, ok := inferred.(*arrow.FixedSizeListType); ok {
			return arrow.FixedSizeListOf(dt.Len(), reconcileType(dt.Elem(), it.Elem()))
		}
		return declared
	default:
		return declared
	}
}
