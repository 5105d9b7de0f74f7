package serve

import (
	"bytes"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// EncodeTable serializes a table to Arrow IPC stream bytes, one record
// batch per chunk.
func EncodeTable(mem memory.Allocator, table arrow.Table) ([]byte, error) {
	var buf bytes.Buffer
	w := ipc.NewWriter(&buf, ipc.WithSchema(table.Schema()), ipc.WithAllocator(mem))

	tr := array.NewTableReader(table, -1)
	defer tr.Release()
	for tr.Next() {
		if err := w.Write(tr.Record()); err != nil {
			return nil, fmt.Errorf("failed to write record: %w", err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("failed to close writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeTable deserializes Arrow IPC stream bytes back into a table.
// The caller owns the returned table.
func DecodeTable(data []byte) (arrow.Table, error) {
	r, err := ipc.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create reader: %w", err)
	}
	defer r.Release()

	var recs []arrow.Record
	defer func() {
		for _, rec := range recs {
			rec.Release()
		}
	}()
	for r.Next() {
		rec := r.Record()
		rec.Retain()
		recs = append(recs, rec)
	}
	if r.Err() != nil {
		return nil, r.Err()
	}
	return array.NewTableFromRecords(r.Schema(), recs), nil
}
