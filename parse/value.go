package parse

// Kind identifies the shape of a parsed JSON value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is the parsed-but-untyped representation of one JSON value.
// Composite values keep their children in input order.
type Value struct {
	kind  Kind
	b     bool
	i     int64
	f     float64
	s     string
	elems []Value
	// object fields, in input order
	fields []Field
}

// Field is one named member of an object Value or of a Row.
type Field struct {
	Name  string
	Value Value
}

// Null is the JSON null value.
var Null = Value{kind: KindNull}

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{kind: KindBool, b: b} }

// IntValue returns an integer Value.
func IntValue(i int64) Value { return Value{kind: KindInt, i: i} }

// FloatValue returns a floating-point Value.
func FloatValue(f float64) Value { return Value{kind: KindFloat, f: f} }

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{kind: KindString, s: s} }

// ArrayValue returns an array Value over the given elements.
func ArrayValue(elems []Value) Value { return Value{kind: KindArray, elems: elems} }

// ObjectValue returns an object Value over the given ordered fields.
func ObjectValue(fields []Field) Value { return Value{kind: KindObject, fields: fields} }

// Kind reports the value's shape.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is JSON null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// Bool returns the boolean payload. Valid only for KindBool.
func (v Value) Bool() bool { return v.b }

// Int returns the integer payload. Valid only for KindInt.
func (v Value) Int() int64 { return v.i }

// Float returns the floating-point payload. For KindInt values the widened
// integer is returned.
func (v Value) Float() float64 {
	if v.kind == KindInt {
		return float64(v.i)
	}
	return v.f
}

// Str returns the string payload. Valid only for KindString.
func (v Value) Str() string { return v.s }

// Elems returns the array elements. Valid only for KindArray.
func (v Value) Elems() []Value { return v.elems }

// Fields returns the ordered object fields. Valid only for KindObject.
func (v Value) Fields() []Field { return v.fields }

// FieldByName returns the named object member and whether it is present.
func (v Value) FieldByName(name string) (Value, bool) {
	for _, f := range v.fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Null, false
}

// Row is one parsed input record: the ordered fields of its top-level
// object.
type Row struct {
	Fields []Field
}

// FieldByName returns the named row field and whether it is present.
func (r Row) FieldByName(name string) (Value, bool) {
	for _, f := range r.Fields {
		if f.Name == name {
			return f.Value, true
		}
	}
	return Null, false
}
