// Package parse turns record-aligned blocks of JSON Lines bytes into
// sequences of untyped rows.
//
// Tokenization is delegated to goccy/go-json; this package enforces the
// one-object-per-line shape, applies the unexpected-field policy against an
// optional explicit schema, and preserves field order for later type
// inference.
package parse

import (
	"bytes"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/goccy/go-json"

	"github.com/lineforge/jsontable/taberr"
)

// UnexpectedFieldBehavior controls what happens to input fields absent from
// the explicit schema.
type UnexpectedFieldBehavior int

const (
	// InferType keeps unexpected fields; their type is inferred later.
	InferType UnexpectedFieldBehavior = iota
	// Ignore drops unexpected fields silently.
	Ignore
	// Error aborts parsing when an unexpected field appears.
	Error
)

func (b UnexpectedFieldBehavior) String() string {
	switch b {
	case InferType:
		return "infer"
	case Ignore:
		return "ignore"
	case Error:
		return "error"
	default:
		return "unknown"
	}
}

// Options configures block parsing.
type Options struct {
	// Schema is the caller-declared field list, or nil.
	Schema *arrow.Schema
	// Behavior applies wherever Schema (or a declared struct type within
	// it) does not mention an input field.
	Behavior UnexpectedFieldBehavior
}

// schemaNode mirrors the declared type tree for unexpected-field decisions.
// children is non-nil only at struct-shaped levels.
type schemaNode struct {
	children map[string]*schemaNode
	order    []string
	elem     *schemaNode
}

func nodeForType(dt arrow.DataType) *schemaNode {
	switch t := dt.(type) {
	case *arrow.StructType:
		n := &schemaNode{children: make(map[string]*schemaNode, t.NumFields())}
		for _, f := range t.Fields() {
			n.children[f.Name] = nodeForType(f.Type)
			n.order = append(n.order, f.Name)
		}
		return n
	case *arrow.ListType:
		return &schemaNode{elem: nodeForType(t.Elem())}
	case *arrow.FixedSizeListType:
		return &schemaNode{elem: nodeForType(t.Elem())}
	default:
		return &schemaNode{}
	}
}

func rootNode(schema *arrow.Schema) *schemaNode {
	if schema == nil {
		return nil
	}
	n := &schemaNode{children: make(map[string]*schemaNode, schema.NumFields())}
	for _, f := range schema.Fields() {
		n.children[f.Name] = nodeForType(f.Type)
		n.order = append(n.order, f.Name)
	}
	return n
}

// ParseBlock parses one block's bytes into rows. Blank lines and stray
// carriage returns between records yield no rows. Every record must be a
// top-level JSON object.
func ParseBlock(data []byte, opts Options) ([]Row, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	root := rootNode(opts.Schema)
	var rows []Row
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return rows, nil
		}
		if err != nil {
			return nil, taberr.New(taberr.Parse, "invalid JSON: %v", err)
		}
		delim, ok := tok.(json.Delim)
		if !ok || delim != '{' {
			return nil, taberr.New(taberr.Parse,
				"each record must be a JSON object, got %v", tok)
		}
		fields, err := parseObjectFields(dec, root, opts.Behavior)
		if err != nil {
			return nil, err
		}
		if root != nil {
			fields = appendMissing(fields, root)
		}
		rows = append(rows, Row{Fields: fields})
	}
}

// appendMissing records declared fields absent from this row as nulls.
func appendMissing(fields []Field, root *schemaNode) []Field {
	for _, name := range root.order {
		found := false
		for _, f := range fields {
			if f.Name == name {
				found = true
				break
			}
		}
		if !found {
			fields = append(fields, Field{Name: name, Value: Null})
		}
	}
	return fields
}

// parseObjectFields consumes an object body after its opening brace.
func parseObjectFields(dec *json.Decoder, node *schemaNode, behavior UnexpectedFieldBehavior) ([]Field, error) {
	var fields []Field
	for {
		tok, err := dec.Token()
		if err != nil {
			return nil, taberr.New(taberr.Parse, "invalid JSON object: %v", err)
		}
		if delim, ok := tok.(json.Delim); ok {
			if delim == '}' {
				return fields, nil
			}
			return nil, taberr.New(taberr.Parse, "unexpected %v in object", delim)
		}
		key, ok := tok.(string)
		if !ok {
			return nil, taberr.New(taberr.Parse, "object key must be a string, got %v", tok)
		}

		child := (*schemaNode)(nil)
		if node != nil && node.children != nil {
			declared, known := node.children[key]
			if known {
				child = declared
			} else {
				switch behavior {
				case Ignore:
					if err := skipValue(dec); err != nil {
						return nil, err
					}
					continue
				case Error:
					return nil, taberr.New(taberr.Schema,
						"unexpected field %q", key)
				}
			}
		}

		v, err := parseValue(dec, child, behavior)
		if err != nil {
			return nil, err
		}
		fields = append(fields, Field{Name: key, Value: v})
	}
}

func parseValue(dec *json.Decoder, node *schemaNode, behavior UnexpectedFieldBehavior) (Value, error) {
	tok, err := dec.Token()
	if err != nil {
		return Null, taberr.New(taberr.Parse, "invalid JSON value: %v", err)
	}
	return valueFromToken(dec, tok, node, behavior)
}

func valueFromToken(dec *json.Decoder, tok json.Token, node *schemaNode, behavior UnexpectedFieldBehavior) (Value, error) {
	switch t := tok.(type) {
	case json.Delim:
		switch t {
		case '{':
			fields, err := parseObjectFields(dec, node, behavior)
			if err != nil {
				return Null, err
			}
			return ObjectValue(fields), nil
		case '[':
			var elem *schemaNode
			if node != nil {
				elem = node.elem
			}
			var elems []Value
			for {
				etok, err := dec.Token()
				if err != nil {
					return Null, taberr.New(taberr.Parse, "invalid JSON array: %v", err)
				}
				if d, ok := etok.(json.Delim); ok && d == ']' {
					return ArrayValue(elems), nil
				}
				v, err := valueFromToken(dec, etok, elem, behavior)
				if err != nil {
					return Null, err
				}
				elems = append(elems, v)
			}
		default:
			return Null, taberr.New(taberr.Parse, "unexpected %v", t)
		}
	case bool:
		return BoolValue(t), nil
	case string:
		return StringValue(t), nil
	case json.Number:
		return numberValue(t)
	case nil:
		return Null, nil
	default:
		return Null, taberr.New(taberr.Parse, "unexpected token %v", tok)
	}
}

// numberValue keeps integers and floating-point numbers distinct so that
// widening happens only during unification.
func numberValue(n json.Number) (Value, error) {
	s := n.String()
	if !strings.ContainsAny(s, ".eE") {
		if i, err := n.Int64(); err == nil {
			return IntValue(i), nil
		}
	}
	f, err := n.Float64()
	if err != nil {
		return Null, taberr.New(taberr.Parse, "invalid number %q", s)
	}
	return FloatValue(f), nil
}

// skipValue consumes and discards one complete JSON value.
func skipValue(dec *json.Decoder) error {
	depth := 0
	for {
		tok, err := dec.Token()
		if err != nil {
			return taberr.New(taberr.Parse, "invalid JSON: %v", err)
		}
		if d, ok := tok.(json.Delim); ok {
			switch d {
			case '{', '[':
				depth++
			case '}', ']':
				depth--
			}
		}
		if depth == 0 {
			return nil
		}
	}
}
