// Copyright 2023 Sneller, Inc.
//
//  Licensed under the Apache License, Version 2.0 (the "License");
//  you may not use this file except in compliance with the License.
//  You may obtain a copy of the License at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
//  Unless required by applicable law or agreed to in writing, software
//  distributed under the License is distributed on an "AS IS" BASIS,
//  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
//  See the License for the specific language governing permissions and
//  limitations under the License.

package sorting

import (
	"fmt"

	"github.com/SnellerInc/chunksort/chunk"
	"github.com/SnellerInc/chunksort/heap"
)

// SortedRun is the ordered range [Start, End) of the rows
// of Chunk, together with the order-by columns of Chunk.
type SortedRun struct {
	Chunk   *chunk.Chunk
	OrderBy []chunk.Column
	Start   int
	End     int
}

func runOf(s *Segment, start, end int) SortedRun {
	return SortedRun{Chunk: s.Chunk, OrderBy: s.OrderBy, Start: start, End: end}
}

// NumRows returns the number of rows in the run.
func (r *SortedRun) NumRows() int { return r.End - r.Start }

// Materialize returns the rows of the run as a chunk
// that shares storage with r.Chunk.
func (r *SortedRun) Materialize() *chunk.Chunk {
	if r.Start == 0 && r.End == r.Chunk.NumRows() {
		return r.Chunk
	}
	return r.Chunk.Slice(r.Start, r.End)
}

func (r *SortedRun) segment() *Segment {
	return &Segment{Chunk: r.Chunk, OrderBy: r.OrderBy}
}

// SortedRuns is an ordered sequence of runs: the rows of
// every run sort before the rows of the run that follows it.
//
// The runs are views; none of them may be modified.
type SortedRuns []SortedRun

// NumRows returns the number of rows in all the runs.
func (rs SortedRuns) NumRows() int {
	n := 0
	for i := range rs {
		n += rs[i].NumRows()
	}
	return n
}

// Chunks materializes every run.
func (rs SortedRuns) Chunks() []*chunk.Chunk {
	out := make([]*chunk.Chunk, len(rs))
	for i := range rs {
		out[i] = rs[i].Materialize()
	}
	return out
}

// mergeCursor is the read position in one SortedRuns.
type mergeCursor struct {
	stream int // index into Merger.streams
	run    int // index into Merger.streams[stream]
	row    int
	source int // index into Merger.srcs
}

// Merger merges several SortedRuns, typically the
// outputs of sorters that ran in parallel on parts
// of the same input, into one ordered stream.
type Merger struct {
	streams []SortedRuns
	descs   SortDescs
	batch   int

	srcs    []*Segment
	chunks  []*chunk.Chunk
	offsets []int // offsets[s] is the index in srcs of streams[s][0]
	heap    *heap.Heap[mergeCursor]
	err     error // set when the runs cannot be merged
}

// MergeRuns returns a Merger producing chunks of at most
// batchSize rows from the rows of runs, ordered by descs.
// Rows that compare equal are taken from the earlier stream first.
// Runs with differing schemas or key types are reported by Next.
func MergeRuns(runs []SortedRuns, descs SortDescs, batchSize int) *Merger {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	m := &Merger{streams: runs, descs: descs, batch: batchSize}
	for s := range runs {
		m.offsets = append(m.offsets, len(m.srcs))
		for r := range runs[s] {
			m.srcs = append(m.srcs, runs[s][r].segment())
			m.chunks = append(m.chunks, runs[s][r].Chunk)
		}
	}
	m.heap = heap.New(m.less)
	if m.err = m.check(); m.err != nil {
		return m
	}
	for s := range runs {
		if c, ok := m.seek(mergeCursor{stream: s, run: 0, row: -1}); ok {
			m.heap.Push(c)
		}
	}
	return m
}

func (m *Merger) less(a, b mergeCursor) bool {
	c := m.srcs[a.source].CompareAt(a.row, m.srcs[b.source], b.row, m.descs)
	if c != 0 {
		return c < 0
	}
	return a.stream < b.stream
}

// seek moves c to the row that follows it,
// skipping exhausted and empty runs.
func (m *Merger) seek(c mergeCursor) (mergeCursor, bool) {
	runs := m.streams[c.stream]
	if c.row < 0 {
		if len(runs) == 0 {
			return c, false
		}
		c.row = runs[0].Start - 1
	}
	c.row++
	for c.run < len(runs) && c.row >= runs[c.run].End {
		c.run++
		if c.run < len(runs) {
			c.row = runs[c.run].Start
		}
	}
	if c.run >= len(runs) {
		return c, false
	}
	c.source = m.offsets[c.stream] + c.run
	return c, true
}

func (m *Merger) check() error {
	if len(m.srcs) == 0 {
		return nil
	}
	ref := m.srcs[0]
	for i := 1; i < len(m.srcs); i++ {
		s := m.srcs[i]
		if !chunk.SameSchema(ref.Chunk, s.Chunk) {
			return fmt.Errorf("sorting: %w: run %d does not have the schema of the first run", ErrTypeMismatch, i)
		}
		if err := ref.checkKeys(s); err != nil {
			return fmt.Errorf("sorting: run %d: %w", i, err)
		}
	}
	return nil
}

// Next returns the next batch of merged rows, or a nil
// chunk and eos == true once every row has been returned.
func (m *Merger) Next() (*chunk.Chunk, bool, error) {
	if m.err != nil {
		return nil, false, m.err
	}
	if m.heap.Len() == 0 {
		return nil, true, nil
	}
	refs := make([]chunk.RowRef, 0, m.batch)
	for len(refs) < m.batch && m.heap.Len() > 0 {
		c := m.heap.Top()
		refs = append(refs, chunk.RowRef{Source: c.source, Row: c.row})
		if next, ok := m.seek(c); ok {
			m.heap.ReplaceTop(next)
		} else {
			m.heap.Pop()
		}
	}
	return chunk.GatherChunks(m.chunks, refs), false, nil
}
