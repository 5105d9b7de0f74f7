// Package infer implements type unification and schema drafting for parsed
// JSON rows.
//
// Unification is commutative and associative: the type a field resolves to
// is independent of the order in which blocks (or rows within a block) are
// folded. Null is the bottom element of the lattice.
package infer

import (
	"github.com/apache/arrow-go/v18/arrow"

	"github.com/lineforge/jsontable/taberr"
)

// Unify combines two observed field types into the single type both can
// losslessly convert into.
func Unify(a, b arrow.DataType) (arrow.DataType, error) {
	if arrow.TypeEqual(a, b) {
		return a, nil
	}
	if a.ID() == arrow.NULL {
		return b, nil
	}
	if b.ID() == arrow.NULL {
		return a, nil
	}

	// Int64 widens to Float64, never the reverse.
	if (a.ID() == arrow.INT64 && b.ID() == arrow.FLOAT64) ||
		(a.ID() == arrow.FLOAT64 && b.ID() == arrow.INT64) {
		return arrow.PrimitiveTypes.Float64, nil
	}

	if la, ok := a.(*arrow.ListType); ok {
		if lb, ok := b.(*arrow.ListType); ok {
			elem, err := Unify(la.Elem(), lb.Elem())
			if err != nil {
				return nil, err
			}
			return arrow.ListOf(elem), nil
		}
	}

	if fa, ok := a.(*arrow.FixedSizeListType); ok {
		if fb, ok := b.(*arrow.FixedSizeListType); ok && fa.Len() == fb.Len() {
			elem, err := Unify(fa.Elem(), fb.Elem())
			if err != nil {
				return nil, err
			}
			return arrow.FixedSizeListOf(fa.Len(), elem), nil
		}
	}

	if sa, ok := a.(*arrow.StructType); ok {
		if sb, ok := b.(*arrow.StructType); ok {
			return unifyStructs(sa, sb)
		}
	}

	return nil, taberr.New(taberr.TypeConflict, "cannot unify %s with %s", a, b)
}

// unifyStructs unifies two struct types field-by-field. Field names must
// match; a side whose fields carry no type information at all adopts the
// other's shape.
func unifyStructs(a, b *arrow.StructType) (arrow.DataType, error) {
	if allNull(a) {
		return b, nil
	}
	if allNull(b) {
		return a, nil
	}
	if a.NumFields() != b.NumFields() {
		return nil, taberr.New(taberr.TypeConflict,
			"struct field mismatch: %s vs %s", a, b)
	}
	fields := make([]arrow.Field, a.NumFields())
	for i, fa := range a.Fields() {
		fb, ok := b.FieldByName(fa.Name)
		if !ok {
			return nil, taberr.New(taberr.TypeConflict,
				"struct field %q missing from %s", fa.Name, b)
		}
		child, err := Unify(fa.Type, fb.Type)
		if err != nil {
			return nil, err
		}
		fields[i] = arrow.Field{Name: fa.Name, Type: child, Nullable: true}
	}
	return arrow.StructOf(fields...), nil
}

// allNull reports whether a type carries no concrete type information:
// Null itself, or a container shape whose leaves are all Null.
func allNull(dt arrow.DataType) bool {
	switch t := dt.(type) {
	case *arrow.NullType:
		return true
	case *arrow.StructType:
		for _, f := range t.Fields() {
			if !allNull(f.Type) {
				return false
			}
		}
		return true
	case *arrow.ListType:
		return allNull(t.Elem())
	case *arrow.FixedSizeListType:
		return allNull(t.Elem())
	default:
		return false
	}
}
