package reader

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/lineforge/jsontable/infer"
	"github.com/lineforge/jsontable/parse"
	"github.com/lineforge/jsontable/taberr"
)

// modes runs a subtest once sequentially and once on the worker pool; the
// two must produce identical tables.
func modes(t *testing.T, f func(t *testing.T, useThreads bool)) {
	t.Helper()
	for _, useThreads := range []bool{false, true} {
		name := "serial"
		if useThreads {
			name = "threaded"
		}
		t.Run(name, func(t *testing.T) { f(t, useThreads) })
	}
}

func readTable(t *testing.T, mem memory.Allocator, input string, ro ReadOptions, po ParseOptions) arrow.Table {
	t.Helper()
	r, err := NewTableReader(mem, strings.NewReader(input), ro, po)
	if err != nil {
		t.Fatalf("NewTableReader failed: %v", err)
	}
	table, err := r.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	return table
}

// concatColumn flattens a column's chunks into one array for comparison.
func concatColumn(t *testing.T, mem memory.Allocator, table arrow.Table, i int) arrow.Array {
	t.Helper()
	arr, err := array.Concatenate(table.Column(i).Data().Chunks(), mem)
	if err != nil {
		t.Fatalf("Concatenate failed: %v", err)
	}
	return arr
}

func checkColumn(t *testing.T, mem memory.Allocator, table arrow.Table, i int, json string) {
	t.Helper()
	got := concatColumn(t, mem, table, i)
	defer got.Release()
	want, _, err := array.FromJSON(mem, table.Schema().Field(i).Type, strings.NewReader(json))
	if err != nil {
		t.Fatalf("FromJSON failed: %v", err)
	}
	defer want.Release()
	if !array.Equal(got, want) {
		t.Errorf("Column %q: got %v, want %v", table.Schema().Field(i).Name, got, want)
	}
}

func checkSchema(t *testing.T, table arrow.Table, want *arrow.Schema) {
	t.Helper()
	if !table.Schema().Equal(want) {
		t.Errorf("Schema mismatch:\ngot  %v\nwant %v", table.Schema(), want)
	}
}

func TestReadEmptyRows(t *testing.T) {
	for _, input := range []string{"{}\n{}\n", "{}\n{}", "{}\n\n{}\r\n\n"} {
		modes(t, func(t *testing.T, useThreads bool) {
			mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
			defer mem.AssertSize(t, 0)

			table := readTable(t, mem, input, ReadOptions{UseThreads: useThreads, BlockSize: 64}, ParseOptions{})
			defer table.Release()

			if table.NumRows() != 2 || table.NumCols() != 0 {
				t.Errorf("%q: expected 2 rows and no columns, got %dx%d",
					input, table.NumRows(), table.NumCols())
			}
		})
	}
}

func TestReadEmptyInput(t *testing.T) {
	modes(t, func(t *testing.T, useThreads bool) {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)

		table := readTable(t, mem, "", ReadOptions{UseThreads: useThreads, BlockSize: 64}, ParseOptions{})
		defer table.Release()

		if table.NumRows() != 0 || table.NumCols() != 0 {
			t.Errorf("Expected empty table, got %dx%d", table.NumRows(), table.NumCols())
		}
	})
}

const scalarsSrc = `{"hello": 3.5, "world": false, "yo": "thing"}
{"hello": 3.25}
{"hello": 3.125, "yo": "忍"}
{"hello": 0.0, "world": true}
`

func TestReadBasics(t *testing.T) {
	modes(t, func(t *testing.T, useThreads bool) {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)

		table := readTable(t, mem, scalarsSrc, ReadOptions{UseThreads: useThreads, BlockSize: 1 << 20}, ParseOptions{})
		defer table.Release()

		checkSchema(t, table, arrow.NewSchema([]arrow.Field{
			{Name: "hello", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
			{Name: "world", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
			{Name: "yo", Type: arrow.BinaryTypes.String, Nullable: true},
		}, nil))
		checkColumn(t, mem, table, 0, `[3.5, 3.25, 3.125, 0.0]`)
		checkColumn(t, mem, table, 1, `[false, null, null, true]`)
		checkColumn(t, mem, table, 2, `["thing", null, "忍", null]`)
	})
}

func TestReadNested(t *testing.T) {
	src := `{"hello": 3.5, "world": false, "yo": "thing", "arr": [1, 2, 3], "nuf": {}}
{"hello": 3.25, "world": null, "yo": "忍", "arr": [2], "nuf": null}
{"hello": 3.125, "world": null, "yo": "忍", "arr": [], "nuf": {"ps": 78}}
{"hello": 0.0, "world": true, "yo": null, "arr": null, "nuf": {"ps": 90}}
`
	modes(t, func(t *testing.T, useThreads bool) {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)

		table := readTable(t, mem, src, ReadOptions{UseThreads: useThreads, BlockSize: 1 << 20}, ParseOptions{})
		defer table.Release()

		checkSchema(t, table, arrow.NewSchema([]arrow.Field{
			{Name: "hello", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
			{Name: "world", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
			{Name: "yo", Type: arrow.BinaryTypes.String, Nullable: true},
			{Name: "arr", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64), Nullable: true},
			{Name: "nuf", Type: arrow.StructOf(
				arrow.Field{Name: "ps", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
			), Nullable: true},
		}, nil))
		checkColumn(t, mem, table, 3, `[[1, 2, 3], [2], [], null]`)
		checkColumn(t, mem, table, 4, `[{"ps": null}, null, {"ps": 78}, {"ps": 90}]`)
	})
}

func TestReadListExplicit(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.ListOf(arrow.PrimitiveTypes.Int64), Nullable: true},
	}, nil)
	src := `{"a": [1, 2, 3]}
{"a": [4, 5, 6, 7]}
`
	modes(t, func(t *testing.T, useThreads bool) {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)

		table := readTable(t, mem, src, ReadOptions{UseThreads: useThreads, BlockSize: 1 << 20},
			ParseOptions{ExplicitSchema: schema})
		defer table.Release()

		checkSchema(t, table, schema)
		checkColumn(t, mem, table, 0, `[[1, 2, 3], [4, 5, 6, 7]]`)
	})
}

func TestReadPartialSchema(t *testing.T) {
	explicit := arrow.NewSchema([]arrow.Field{
		{Name: "nuf", Type: arrow.StructOf(
			arrow.Field{Name: "absent", Type: infer.TimestampType, Nullable: true},
		), Nullable: true},
		{Name: "arr", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64), Nullable: true},
	}, nil)
	src := `{"hello": 3.5, "world": false, "yo": "thing", "arr": [1, 2, 3], "nuf": {}}
{"hello": 3.25, "world": null, "yo": "忍", "arr": [2], "nuf": {"ps": 78}}
`
	modes(t, func(t *testing.T, useThreads bool) {
		// Field ordering must not depend on the block size chosen.
		for _, blockSize := range []int{1 << 20, 32} {
			mem := memory.NewCheckedAllocator(memory.NewGoAllocator())

			table := readTable(t, mem, src, ReadOptions{UseThreads: useThreads, BlockSize: blockSize},
				ParseOptions{ExplicitSchema: explicit})

			// Declared fields lead; the declared struct is extended with
			// the inferred child.
			checkSchema(t, table, arrow.NewSchema([]arrow.Field{
				{Name: "nuf", Type: arrow.StructOf(
					arrow.Field{Name: "absent", Type: infer.TimestampType, Nullable: true},
					arrow.Field{Name: "ps", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
				), Nullable: true},
				{Name: "arr", Type: arrow.ListOf(arrow.PrimitiveTypes.Float64), Nullable: true},
				{Name: "hello", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
				{Name: "world", Type: arrow.FixedWidthTypes.Boolean, Nullable: true},
				{Name: "yo", Type: arrow.BinaryTypes.String, Nullable: true},
			}, nil))
			checkColumn(t, mem, table, 0, `[{"absent": null, "ps": null}, {"absent": null, "ps": 78}]`)
			checkColumn(t, mem, table, 1, `[[1.0, 2.0, 3.0], [2.0]]`)
			checkColumn(t, mem, table, 2, `[3.5, 3.25]`)

			table.Release()
			mem.AssertSize(t, 0)
		}
	})
}

func TestReadInferredTimestamps(t *testing.T) {
	src := `{"ts": null, "f": null}
{"ts": "1970-01-01", "f": 3}
{"ts": "2018-11-13 17:11:10", "f": 3.125}
`
	modes(t, func(t *testing.T, useThreads bool) {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)

		table := readTable(t, mem, src, ReadOptions{UseThreads: useThreads, BlockSize: 1 << 20}, ParseOptions{})
		defer table.Release()

		checkSchema(t, table, arrow.NewSchema([]arrow.Field{
			{Name: "ts", Type: infer.TimestampType, Nullable: true},
			{Name: "f", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		}, nil))

		b := array.NewTimestampBuilder(mem, infer.TimestampType)
		defer b.Release()
		b.AppendNull()
		b.Append(arrow.Timestamp(0))
		b.Append(arrow.Timestamp(1542129070))
		want := b.NewArray()
		defer want.Release()

		got := concatColumn(t, mem, table, 0)
		defer got.Release()
		if !array.Equal(got, want) {
			t.Errorf("Timestamp column: got %v, want %v", got, want)
		}
		checkColumn(t, mem, table, 1, `[null, 3.0, 3.125]`)
	})
}

func TestReadMultipleChunks(t *testing.T) {
	// Block size 8 puts each record in its own block; every block becomes
	// one chunk of every column.
	src := "{\"a\": 1}\n{\"a\": 2}\n{\"a\": 3}\n"
	modes(t, func(t *testing.T, useThreads bool) {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)

		table := readTable(t, mem, src, ReadOptions{UseThreads: useThreads, BlockSize: 8}, ParseOptions{})
		defer table.Release()

		chunks := table.Column(0).Data().Chunks()
		if len(chunks) != 3 {
			t.Errorf("Expected 3 chunks, got %d", len(chunks))
		}
		checkColumn(t, mem, table, 0, `[1, 2, 3]`)
	})
}

func TestReadPreservesEmptyChunk(t *testing.T) {
	// The second block holds only whitespace and must still contribute a
	// zero-length chunk.
	src := "{\"a\": 1}\n    \r\n"
	modes(t, func(t *testing.T, useThreads bool) {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)

		table := readTable(t, mem, src, ReadOptions{UseThreads: useThreads, BlockSize: 9}, ParseOptions{})
		defer table.Release()

		chunks := table.Column(0).Data().Chunks()
		if len(chunks) != 2 {
			t.Fatalf("Expected 2 chunks, got %d", len(chunks))
		}
		if chunks[0].Len() != 1 || chunks[1].Len() != 0 {
			t.Errorf("Expected chunk lengths [1, 0], got [%d, %d]", chunks[0].Len(), chunks[1].Len())
		}
	})
}

func TestReadPromotesAcrossBlocks(t *testing.T) {
	// The integer block must be re-assembled once a later block widens the
	// field to float64.
	src := "{\"f\": 3}\n{\"f\": 3.5}\n"
	modes(t, func(t *testing.T, useThreads bool) {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)

		table := readTable(t, mem, src, ReadOptions{UseThreads: useThreads, BlockSize: 2}, ParseOptions{})
		defer table.Release()

		checkSchema(t, table, arrow.NewSchema([]arrow.Field{
			{Name: "f", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		}, nil))
		checkColumn(t, mem, table, 0, `[3.0, 3.5]`)
	})
}

func TestReadThreadedMatchesSerial(t *testing.T) {
	var sb strings.Builder
	numRows := 1 << 10
	for i := 0; i < numRows; i++ {
		fmt.Fprintf(&sb, "{\"a\": %d, \"b\": \"r%d\"}\n", i, i)
	}
	src := sb.String()

	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	serial := readTable(t, mem, src, ReadOptions{BlockSize: 512}, ParseOptions{})
	defer serial.Release()
	threaded := readTable(t, mem, src, ReadOptions{UseThreads: true, BlockSize: 512}, ParseOptions{})
	defer threaded.Release()

	if !serial.Schema().Equal(threaded.Schema()) {
		t.Fatalf("Schemas differ: %v vs %v", serial.Schema(), threaded.Schema())
	}
	if serial.NumRows() != threaded.NumRows() {
		t.Fatalf("Row counts differ: %d vs %d", serial.NumRows(), threaded.NumRows())
	}
	for i := 0; i < int(serial.NumCols()); i++ {
		a := concatColumn(t, mem, serial, i)
		b := concatColumn(t, mem, threaded, i)
		if !array.Equal(a, b) {
			t.Errorf("Column %d differs between modes", i)
		}
		sc := len(serial.Column(i).Data().Chunks())
		tc := len(threaded.Column(i).Data().Chunks())
		if sc != tc {
			t.Errorf("Column %d chunk counts differ: %d vs %d", i, sc, tc)
		}
		a.Release()
		b.Release()
	}
}

func TestReadReportsLowestFailingBlock(t *testing.T) {
	// Block size 1 puts each record in its own block; records 2 and 4 are
	// malformed, and the earliest one must win regardless of mode.
	src := "{\"a\": 1}\n{\"a\": 2}\n{\"a\":\n{\"a\": 4}\n{\"a\":\n{\"a\": 6}\n"
	modes(t, func(t *testing.T, useThreads bool) {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)

		r, err := NewTableReader(mem, strings.NewReader(src),
			ReadOptions{UseThreads: useThreads, BlockSize: 1}, ParseOptions{})
		if err != nil {
			t.Fatalf("NewTableReader failed: %v", err)
		}
		_, err = r.Read()
		if !taberr.IsKind(err, taberr.Parse) {
			t.Fatalf("Expected parse error, got %v", err)
		}
		var te *taberr.Error
		if !errors.As(err, &te) {
			t.Fatalf("Expected classified error, got %T", err)
		}
		if te.Block != 2 {
			t.Errorf("Expected failure in block 2, got block %d", te.Block)
		}
	})
}

func TestReadUnexpectedFieldBehavior(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "a", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
	}, nil)
	src := "{\"a\": 1, \"b\": 2}\n"

	modes(t, func(t *testing.T, useThreads bool) {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)

		// Ignore keeps only the declared column.
		table := readTable(t, mem, src, ReadOptions{UseThreads: useThreads, BlockSize: 64},
			ParseOptions{ExplicitSchema: schema, UnexpectedFieldBehavior: parse.Ignore})
		checkSchema(t, table, schema)
		table.Release()

		// Error aborts the read.
		r, err := NewTableReader(mem, strings.NewReader(src),
			ReadOptions{UseThreads: useThreads, BlockSize: 64},
			ParseOptions{ExplicitSchema: schema, UnexpectedFieldBehavior: parse.Error})
		if err != nil {
			t.Fatalf("NewTableReader failed: %v", err)
		}
		if _, err := r.Read(); !taberr.IsKind(err, taberr.Schema) {
			t.Errorf("Expected schema error, got %v", err)
		}
	})
}

func TestReadTypeConflict(t *testing.T) {
	src := "{\"a\": 1}\n{\"a\": \"hello\"}\n"
	modes(t, func(t *testing.T, useThreads bool) {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)

		r, err := NewTableReader(mem, strings.NewReader(src),
			ReadOptions{UseThreads: useThreads, BlockSize: 4}, ParseOptions{})
		if err != nil {
			t.Fatalf("NewTableReader failed: %v", err)
		}
		if _, err := r.Read(); !taberr.IsKind(err, taberr.TypeConflict) {
			t.Errorf("Expected type conflict, got %v", err)
		}
	})
}

// brokenReader hands out its data once and then fails, so blocks assemble
// successfully before the stream error arrives.
type brokenReader struct {
	data []byte
	err  error
	sent bool
}

func (r *brokenReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, r.data), nil
	}
	return 0, r.err
}

func TestReadStreamErrorReleasesBlocks(t *testing.T) {
	modes(t, func(t *testing.T, useThreads bool) {
		mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
		defer mem.AssertSize(t, 0)

		in := &brokenReader{
			data: []byte("{\"a\": 1}\n{\"a\": 2}\n"),
			err:  errors.New("connection reset"),
		}
		r, err := NewTableReader(mem, in, ReadOptions{UseThreads: useThreads, BlockSize: 4}, ParseOptions{})
		if err != nil {
			t.Fatalf("NewTableReader failed: %v", err)
		}
		if _, err := r.Read(); !taberr.IsKind(err, taberr.Stream) {
			t.Errorf("Expected stream error, got %v", err)
		}
	})
}

func TestReadIsSingleShot(t *testing.T) {
	mem := memory.NewCheckedAllocator(memory.NewGoAllocator())
	defer mem.AssertSize(t, 0)

	r, err := NewTableReader(mem, strings.NewReader("{}\n"), DefaultReadOptions(), ParseOptions{})
	if err != nil {
		t.Fatalf("NewTableReader failed: %v", err)
	}
	table, err := r.Read()
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	table.Release()

	if _, err := r.Read(); err == nil {
		t.Error("Expected second Read to fail")
	}
}

func TestNewTableReaderValidation(t *testing.T) {
	if _, err := NewTableReader(nil, nil, DefaultReadOptions(), ParseOptions{}); err == nil {
		t.Error("Expected error for nil input")
	}
	if _, err := NewTableReader(nil, strings.NewReader(""), ReadOptions{BlockSize: 0}, ParseOptions{}); err == nil {
		t.Error("Expected error for zero block size")
	}
	if _, err := NewTableReader(nil, strings.NewReader(""), DefaultReadOptions(), ParseOptions{}); err != nil {
		t.Errorf("Nil allocator should fall back to the default: %v", err)
	}
}
