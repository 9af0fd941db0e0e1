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
	"log/slog"
	"time"

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/chunksort/chunk"
	"github.com/SnellerInc/chunksort/rtfilter"
)

// TopNSorter keeps only the first OFFSET+LIMIT rows
// of the sorted input.
//
// Input chunks are buffered and periodically merged into
// a sorted segment of at most OFFSET+LIMIT rows. Once that
// segment is full, FilterArray drops the buffered rows that
// sort after its last row before anything is sorted.
type TopNSorter struct {
	sorterBase

	keep        int      // OFFSET+LIMIT
	merged      *Segment // sorted; at most keep rows
	pending     []*Segment
	pendingRows int

	filter rtfilter.Filter

	start, end int
	cursor     int
}

func (t *TopNSorter) buffered() int {
	n := t.pendingRows
	if t.merged != nil {
		n += t.merged.NumRows()
	}
	return n
}

func (t *TopNSorter) Update(c *chunk.Chunk) error {
	seg, err := t.segment(c, t.buffered())
	if err != nil {
		return err
	}
	t.admit(seg)
	if seg.NumRows() == 0 {
		return nil
	}
	if t.keep == 0 {
		t.profile.PrunedRows += int64(seg.NumRows())
		return nil
	}
	t.pending = append(t.pending, seg)
	t.pendingRows += seg.NumRows()
	if t.pendingRows >= max(t.cfg.TopNBufferRows, t.keep) {
		return t.mergePending()
	}
	return nil
}

// mergePending merges the buffered segments
// into the merged segment.
func (t *TopNSorter) mergePending() error {
	if len(t.pending) == 0 {
		return nil
	}
	start := time.Now()
	cands := t.pending
	var refs []chunk.RowRef
	if t.full() {
		cls, err := t.merged.FilterArray(cands, t.keep, t.descs)
		if err != nil {
			return err
		}
		// when enough rows sort before the current first
		// row, the rows between first and last can't survive
		lessOnly := cls.LessCount >= t.keep
		for i := range cands {
			for _, r := range cls.Kept(i, lessOnly) {
				refs = append(refs, chunk.RowRef{Source: i, Row: r})
			}
		}
		t.profile.PrunedRows += int64(t.pendingRows - len(refs))
	} else {
		refs = make([]chunk.RowRef, 0, t.pendingRows)
		for i := range cands {
			for r := 0; r < cands[i].NumRows(); r++ {
				refs = append(refs, chunk.RowRef{Source: i, Row: r})
			}
		}
	}

	sortStart := time.Now()
	slices.SortFunc(refs, func(a, b chunk.RowRef) int {
		return cands[a.Source].CompareAt(a.Row, cands[b.Source], b.Row, t.descs)
	})
	t.profile.SortTime += time.Since(sortStart)

	// merge with the current segment; on ties the
	// rows already admitted come first
	srcs := cands
	mergedRows := 0
	if t.merged != nil {
		srcs = append(srcs[:len(srcs):len(srcs)], t.merged)
		mergedRows = t.merged.NumRows()
	}
	self := len(cands)
	out := make([]chunk.RowRef, 0, min(t.keep, len(refs)+mergedRows))
	i, j := 0, 0
	for len(out) < t.keep && (i < len(refs) || j < mergedRows) {
		if j < mergedRows && (i == len(refs) ||
			cands[refs[i].Source].CompareAt(refs[i].Row, t.merged, j, t.descs) >= 0) {
			out = append(out, chunk.RowRef{Source: self, Row: j})
			j++
		} else {
			out = append(out, refs[i])
			i++
		}
	}
	if i > 0 {
		t.merged = gatherSegments(srcs, out)
	}
	for _, s := range t.pending {
		s.Clear()
	}
	t.pending = nil
	t.pendingRows = 0
	t.profile.MergeTime += time.Since(start)

	if t.full() {
		t.updateFilter()
	}
	return nil
}

func (t *TopNSorter) full() bool {
	return t.merged != nil && t.merged.NumRows() >= t.keep
}

// updateFilter builds or narrows the runtime filter
// on the first key from the last admitted row.
func (t *TopNSorter) updateFilter() {
	col := t.merged.OrderBy[0]
	row := t.keep - 1
	ascending := t.descs[0].Direction == Ascending
	if t.filter == nil {
		t.filter = rtfilter.Build(col, row, ascending, t.descs[0].Nulls == NullsFirst)
		if t.filter == nil {
			return
		}
	} else if !rtfilter.Update(t.filter, col, row, ascending) {
		return
	}
	t.logger.Debug("runtime filter updated",
		slog.String("sorter", t.name),
		slog.String("id", t.id.String()),
		slog.String("filter", t.filter.String()))
	if t.hub != nil {
		t.hub.Publish(t.id, t.keys[0].Expr.String(), t.filter)
	}
}

func (t *TopNSorter) Done() error {
	if t.done {
		return nil
	}
	t.done = true
	if err := t.mergePending(); err != nil {
		return err
	}
	rows := 0
	if t.merged != nil {
		rows = t.merged.NumRows()
	}
	t.start, t.end = t.limit.Window(rows)
	t.cursor = t.start
	t.profile.OutputRows = int64(t.end - t.start)
	return nil
}

func (t *TopNSorter) Next() (*chunk.Chunk, bool, error) {
	t.mustBeDone("Next")
	if t.cursor >= t.end {
		t.recordOutput()
		return nil, true, nil
	}
	start := time.Now()
	n := min(t.cfg.BatchSize, t.end-t.cursor)
	c := t.merged.Chunk.Slice(t.cursor, t.cursor+n)
	t.cursor += n
	t.profile.OutputTime += time.Since(start)
	return c, false, nil
}

// SortedRuns returns a single run viewing the output
// rows of the merged segment.
func (t *TopNSorter) SortedRuns() SortedRuns {
	t.mustBeDone("SortedRuns")
	if t.start == t.end {
		return nil
	}
	return SortedRuns{runOf(t.merged, t.start, t.end)}
}

// RuntimeFilters returns the filter on the first sort key,
// or nil until OFFSET+LIMIT rows have been admitted.
func (t *TopNSorter) RuntimeFilters() []rtfilter.Filter {
	if t.filter == nil {
		return nil
	}
	return []rtfilter.Filter{t.filter}
}

func (t *TopNSorter) OutputRows() int {
	if !t.done {
		return 0
	}
	return t.end - t.start
}

func (t *TopNSorter) MemUsage() int64 {
	var n int64
	if t.merged != nil {
		n += t.merged.MemUsage()
	}
	for i := range t.pending {
		n += t.pending[i].MemUsage()
	}
	return n
}

func (t *TopNSorter) Finish() error { return t.finish(t) }
