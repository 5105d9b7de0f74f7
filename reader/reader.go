// Package reader exposes the single-shot table reader facade over the
// ingestion pipeline: segmentation, row parsing, type inference, column
// assembly, and ordered merge into one Arrow table.
package reader

import (
	"errors"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/lineforge/jsontable/assemble"
	"github.com/lineforge/jsontable/engine"
	"github.com/lineforge/jsontable/infer"
	"github.com/lineforge/jsontable/metrics"
	"github.com/lineforge/jsontable/parse"
	"github.com/lineforge/jsontable/segment"
	"github.com/lineforge/jsontable/taberr"
)

// DefaultBlockSize is the default parse-unit size in bytes.
const DefaultBlockSize = 1 << 20

// ReadOptions configures stream segmentation and execution mode.
type ReadOptions struct {
	// UseThreads runs per-block work on a worker pool. Output is
	// identical to sequential mode regardless of completion order.
	UseThreads bool
	// BlockSize is the target block size in bytes; must be positive.
	BlockSize int
}

// DefaultReadOptions returns sequential execution with the default block
// size.
func DefaultReadOptions() ReadOptions {
	return ReadOptions{BlockSize: DefaultBlockSize}
}

// ParseOptions configures row parsing and schema reconciliation.
type ParseOptions struct {
	// ExplicitSchema declares fields whose types are authoritative and
	// which always lead the final schema, in declared order.
	ExplicitSchema *arrow.Schema
	// UnexpectedFieldBehavior applies to input fields absent from
	// ExplicitSchema. Defaults to parse.InferType.
	UnexpectedFieldBehavior parse.UnexpectedFieldBehavior
}

// TableReader reads one JSON Lines stream into one Arrow table.
type TableReader struct {
	mem       memory.Allocator
	input     io.Reader
	readOpts  ReadOptions
	parseOpts ParseOptions
	consumed  int32
}

// NewTableReader validates the configuration and creates a reader over the
// input stream. The reader supports exactly one Read call.
func NewTableReader(mem memory.Allocator, input io.Reader, readOpts ReadOptions, parseOpts ParseOptions) (*TableReader, error) {
	if input == nil {
		return nil, errors.New("input stream is required")
	}
	if readOpts.BlockSize <= 0 {
		return nil, errors.New("block size must be positive")
	}
	if mem == nil {
		mem = memory.DefaultAllocator
	}
	return &TableReader{
		mem:       mem,
		input:     input,
		readOpts:  readOpts,
		parseOpts: parseOpts,
	}, nil
}

// blockResult is one block's immutable output: its rows, local type draft,
// locally reconciled schema, and assembled segments.
type blockResult struct {
	seq    int
	bytes  int
	rows   []parse.Row
	draft  *infer.Draft
	schema *arrow.Schema
	rec    arrow.Record
}

// Read drives the pipeline to completion and returns the final table. It
// may be called once; the first error (by stream order) aborts the whole
// read and no partial table is returned.
func (r *TableReader) Read() (arrow.Table, error) {
	if !atomic.CompareAndSwapInt32(&r.consumed, 0, 1) {
		return nil, errors.New("reader is exhausted: Read may only be called once")
	}

	start := time.Now()
	table, rows, bytes, blocks, err := r.read()
	metrics.Default.RecordRead(int64(blocks), rows, bytes, err == nil, time.Since(start))
	return table, err
}

func (r *TableReader) read() (arrow.Table, int64, int64, int, error) {
	results, err := r.collect()
	if err != nil {
		return nil, 0, 0, 0, err
	}
	var bytes int64
	for _, res := range results {
		bytes += int64(res.bytes)
	}
	table, rows, err := r.merge(results)
	if err != nil {
		return nil, 0, 0, 0, err
	}
	return table, rows, bytes, len(results), nil
}

// collect produces one blockResult per input block, in sequence order.
func (r *TableReader) collect() ([]*blockResult, error) {
	seg := segment.NewSegmenter(r.input, r.readOpts.BlockSize)
	if !r.readOpts.UseThreads {
		return r.collectSequential(seg)
	}
	return r.collectParallel(seg)
}

// releaseBlockResults releases any record still held by the given results.
func releaseBlockResults(results []*blockResult) {
	for _, res := range results {
		if res.rec != nil {
			res.rec.Release()
			res.rec = nil
		}
	}
}

func (r *TableReader) collectSequential(seg *segment.Segmenter) ([]*blockResult, error) {
	var results []*blockResult
	for {
		b, err := seg.Next()
		if errors.Is(err, io.EOF) {
			return results, nil
		}
		if err != nil {
			releaseBlockResults(results)
			return nil, taberr.Wrap(taberr.Stream, err)
		}
		res, err := r.processBlock(b)
		if err != nil {
			releaseBlockResults(results)
			return nil, err
		}
		results = append(results, res)
	}
}

func (r *TableReader) collectParallel(seg *segment.Segmenter) ([]*blockResult, error) {
	pool := engine.NewPool("jsontable-read", runtime.NumCPU())
	for {
		if pool.HasFailed() {
			break
		}
		b, err := seg.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			releaseSettled(pool.Abort())
			return nil, taberr.Wrap(taberr.Stream, err)
		}
		block := b
		task := &engine.Task{
			Seq: block.Seq,
			Run: func() (interface{}, error) {
				return r.processBlock(block)
			},
		}
		if err := pool.Submit(task); err != nil {
			break
		}
	}

	values, err := pool.Wait()
	if err != nil {
		releaseSettled(values)
		return nil, err
	}
	results := make([]*blockResult, len(values))
	for i, v := range values {
		results[i] = v.(*blockResult)
	}
	return results, nil
}

// releaseSettled reclaims the records of block tasks that succeeded before
// the pool failed or was aborted.
func releaseSettled(values []interface{}) {
	for _, v := range values {
		if res, ok := v.(*blockResult); ok && res.rec != nil {
			res.rec.Release()
			res.rec = nil
		}
	}
}

// processBlock runs the CPU-bound work for one block: parse, local type
// inference, local schema reconciliation, and column assembly. It touches
// no state shared with other blocks.
func (r *TableReader) processBlock(b *segment.Block) (*blockResult, error) {
	rows, err := parse.ParseBlock(b.Data, parse.Options{
		Schema:   r.parseOpts.ExplicitSchema,
		Behavior: r.parseOpts.UnexpectedFieldBehavior,
	})
	if err != nil {
		return nil, taberr.WithBlock(err, taberr.Parse, b.Seq)
	}
	draft, err := infer.FromRows(rows)
	if err != nil {
		return nil, taberr.WithBlock(err, taberr.TypeConflict, b.Seq)
	}
	local := infer.Reconcile(r.parseOpts.ExplicitSchema, draft)
	rec, err := assemble.Block(r.mem, rows, local)
	if err != nil {
		return nil, taberr.WithBlock(err, taberr.TypeConflict, b.Seq)
	}
	return &blockResult{seq: b.Seq, bytes: len(b.Data), rows: rows, draft: draft, schema: local, rec: rec}, nil
}

// merge folds per-block drafts into the unified schema and concatenates
// block segments, in sequence order, into chunked columns. Blocks whose
// local field types were promoted by other blocks are re-assembled from
// their retained rows against the final schema.
func (r *TableReader) merge(results []*blockResult) (arrow.Table, int64, error) {
	// Registered before any early return so block records never outlive a
	// failed merge.
	recs := make([]arrow.Record, len(results))
	defer func() {
		for _, rec := range recs {
			if rec != nil {
				rec.Release()
			}
		}
		releaseBlockResults(results)
	}()

	total := infer.NewDraft()
	var rows int64
	for _, res := range results {
		if err := total.Merge(res.draft); err != nil {
			return nil, 0, taberr.WithBlock(err, taberr.TypeConflict, res.seq)
		}
		rows += int64(len(res.rows))
	}
	final := infer.Reconcile(r.parseOpts.ExplicitSchema, total)

	for i, res := range results {
		if res.schema.Equal(final) {
			recs[i] = res.rec
			res.rec = nil
			continue
		}
		res.rec.Release()
		res.rec = nil
		rec, err := assemble.Block(r.mem, res.rows, final)
		if err != nil {
			return nil, 0, taberr.WithBlock(err, taberr.TypeConflict, res.seq)
		}
		recs[i] = rec
	}

	if final.NumFields() == 0 {
		return array.NewTable(final, []arrow.Column{}, rows), rows, nil
	}
	return array.NewTableFromRecords(final, recs), rows, nil
}
