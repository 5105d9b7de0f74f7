// Package segment splits a byte stream into record-aligned blocks.
//
// A block is a contiguous byte range of a JSON Lines input that always ends
// at a record boundary (a newline, optionally preceded by a carriage return)
// or at end of stream, so that no JSON object is ever split across blocks.
package segment

import (
	"bufio"
	"errors"
	"fmt"
	"io"
)

// Block is one record-aligned byte range of the input stream.
// Seq is the block's position in stream order, starting at zero.
type Block struct {
	Seq  int
	Data []byte
}

// Segmenter reads record-aligned blocks from an input stream.
type Segmenter struct {
	r         *bufio.Reader
	blockSize int
	seq       int
	done      bool
}

// NewSegmenter creates a Segmenter producing blocks of at least blockSize
// bytes (except the last). blockSize must be positive.
func NewSegmenter(r io.Reader, blockSize int) *Segmenter {
	return &Segmenter{
		r:         bufio.NewReader(r),
		blockSize: blockSize,
	}
}

// Next returns the next block of the stream. It returns io.EOF once the
// stream is exhausted. Any other error is a failure of the underlying
// reader.
func (s *Segmenter) Next() (*Block, error) {
	if s.done {
		return nil, io.EOF
	}

	buf := make([]byte, s.blockSize)
	filled := 0
	for filled < s.blockSize {
		n, err := s.r.Read(buf[filled:])
		filled += n
		if err == io.EOF {
			s.done = true
			if filled == 0 {
				return nil, io.EOF
			}
			return s.emit(buf[:filled]), nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading input stream: %w", err)
		}
	}
	buf = buf[:filled]

	// Extend to the next record terminator so the block never ends
	// mid-record.
	if len(buf) == 0 || buf[len(buf)-1] != '\n' {
		rest, err := s.r.ReadBytes('\n')
		buf = append(buf, rest...)
		if err == io.EOF {
			s.done = true
			if len(buf) == 0 {
				return nil, io.EOF
			}
			return s.emit(buf), nil
		}
		if err != nil {
			return nil, fmt.Errorf("reading input stream: %w", err)
		}
	}

	return s.emit(buf), nil
}

func (s *Segmenter) emit(data []byte) *Block {
	b := &Block{Seq: s.seq, Data: data}
	s.seq++
	return b
}

// Collect drains the segmenter and returns all remaining blocks.
func (s *Segmenter) Collect() ([]*Block, error) {
	var blocks []*Block
	for {
		b, err := s.Next()
		if errors.Is(err, io.EOF) {
			return blocks, nil
		}
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, b)
	}
}
