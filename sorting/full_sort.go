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
	"time"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/SnellerInc/chunksort/chunk"
	"github.com/SnellerInc/chunksort/heap"
	"github.com/SnellerInc/chunksort/rtfilter"
)

// FullSorter buffers every input chunk and sorts
// them all at once when Done is called.
//
// Each chunk is sorted on its own, in parallel, and the
// sorted chunks are then merged into a single order.
type FullSorter struct {
	sorterBase

	segments []*Segment
	rows     int

	// after Done
	chunks     []*chunk.Chunk
	order      []chunk.RowRef // rows [0, end) of the output
	start, end int
	cursor     int
}

func (f *FullSorter) Update(c *chunk.Chunk) error {
	seg, err := f.segment(c, f.rows)
	if err != nil {
		return err
	}
	f.admit(seg)
	if seg.NumRows() > 0 {
		f.segments = append(f.segments, seg)
		f.rows += seg.NumRows()
	}
	return nil
}

func (f *FullSorter) Done() error {
	if f.done {
		return nil
	}
	f.done = true

	start := time.Now()
	sorted := make([]*Segment, len(f.segments))
	var g errgroup.Group
	g.SetLimit(f.cfg.Parallelism)
	for i, seg := range f.segments {
		g.Go(func() error {
			sorted[i] = seg.permute(seg.sortedPermutation(f.descs))
			return nil
		})
	}
	err := g.Wait()
	for i := range f.segments {
		f.segments[i].Clear()
	}
	if err != nil {
		return err
	}
	f.segments = sorted
	f.profile.SortTime += time.Since(start)

	start = time.Now()
	f.chunks = make([]*chunk.Chunk, len(f.segments))
	for i := range f.segments {
		f.chunks[i] = f.segments[i].Chunk
	}
	f.start, f.end = f.limit.Window(f.rows)
	f.order = f.merge(f.end)
	f.cursor = f.start
	f.profile.OutputRows = int64(f.end - f.start)
	f.profile.MergeTime += time.Since(start)
	return nil
}

type segmentCursor struct {
	seg, row int
}

// merge returns the first n rows of the
// k-way merge of the sorted segments.
func (f *FullSorter) merge(n int) []chunk.RowRef {
	h := heap.New(func(a, b segmentCursor) bool {
		c := f.segments[a.seg].CompareAt(a.row, f.segments[b.seg], b.row, f.descs)
		if c != 0 {
			return c < 0
		}
		return a.seg < b.seg
	})
	for i := range f.segments {
		h.Push(segmentCursor{seg: i})
	}
	out := make([]chunk.RowRef, 0, n)
	for len(out) < n && h.Len() > 0 {
		c := h.Top()
		out = append(out, chunk.RowRef{Source: c.seg, Row: c.row})
		c.row++
		if c.row < f.segments[c.seg].NumRows() {
			h.ReplaceTop(c)
		} else {
			h.Pop()
		}
	}
	return out
}

func (f *FullSorter) Next() (*chunk.Chunk, bool, error) {
	f.mustBeDone("Next")
	if f.cursor >= f.end {
		f.recordOutput()
		return nil, true, nil
	}
	start := time.Now()
	n := min(f.cfg.BatchSize, f.end-f.cursor)
	c := chunk.GatherChunks(f.chunks, f.order[f.cursor:f.cursor+n])
	f.cursor += n
	f.profile.OutputTime += time.Since(start)
	return c, false, nil
}

// SortedRuns returns the output window. A single sorted
// chunk is returned as a view; otherwise the window is
// materialized in runs of at most BatchSize rows.
func (f *FullSorter) SortedRuns() SortedRuns {
	f.mustBeDone("SortedRuns")
	if f.start == f.end {
		return nil
	}
	if len(f.segments) == 1 {
		return SortedRuns{runOf(f.segments[0], f.start, f.end)}
	}
	start := time.Now()
	var runs SortedRuns
	for i := f.start; i < f.end; i += f.cfg.BatchSize {
		j := min(i+f.cfg.BatchSize, f.end)
		seg := gatherSegments(f.segments, f.order[i:j])
		runs = append(runs, runOf(seg, 0, j-i))
	}
	f.profile.OutputTime += time.Since(start)
	f.recordOutput()
	return runs
}

// RuntimeFilters returns nil: a full sort
// cannot reject any row before seeing all of them.
func (f *FullSorter) RuntimeFilters() []rtfilter.Filter { return nil }

func (f *FullSorter) OutputRows() int {
	if !f.done {
		return 0
	}
	return f.end - f.start
}

func (f *FullSorter) MemUsage() int64 {
	var n int64
	for i := range f.segments {
		n += f.segments[i].MemUsage()
	}
	return n + int64(cap(f.order))*int64(unsafe.Sizeof(chunk.RowRef{}))
}

func (f *FullSorter) Finish() error { return f.finish(f) }
