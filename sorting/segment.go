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

	"golang.org/x/exp/slices"

	"github.com/SnellerInc/chunksort/chunk"
)

// Segment pairs a chunk with the evaluated values
// of the sort keys over that chunk.
//
// A segment never modifies its chunk, so the chunk
// may be shared with other readers while it is sorted.
type Segment struct {
	Chunk   *chunk.Chunk
	OrderBy []chunk.Column
}

// NewSegment evaluates every sort key against c.
func NewSegment(keys []SortKey, c *chunk.Chunk) (*Segment, error) {
	s := &Segment{Chunk: c, OrderBy: make([]chunk.Column, len(keys))}
	for i := range keys {
		col, err := keys[i].Expr.Eval(c)
		if err == nil && col.Len() != c.NumRows() {
			err = fmt.Errorf("got %d rows, want %d", col.Len(), c.NumRows())
		}
		if err != nil {
			return nil, &EvaluationError{Key: i, Expr: keys[i].Expr.String(), Err: err}
		}
		s.OrderBy[i] = col
	}
	return s, nil
}

// NumRows returns the number of rows in the segment.
func (s *Segment) NumRows() int {
	if s.Chunk == nil {
		return 0
	}
	return s.Chunk.NumRows()
}

// KeyTypes returns the runtime type of every order-by column.
func (s *Segment) KeyTypes() []chunk.Type {
	t := make([]chunk.Type, len(s.OrderBy))
	for i := range s.OrderBy {
		t[i] = s.OrderBy[i].Type()
	}
	return t
}

// MemUsage returns the memory held by the chunk and
// by the order-by columns that are not simply columns
// of the chunk.
func (s *Segment) MemUsage() int64 {
	if s.Chunk == nil {
		return 0
	}
	n := s.Chunk.MemoryUsage()
	for i := range s.OrderBy {
		if s.alias(i) < 0 {
			n += s.OrderBy[i].MemoryUsage()
		}
	}
	return n
}

// Clear releases the segment's references.
func (s *Segment) Clear() {
	s.Chunk = nil
	s.OrderBy = nil
}

// alias returns the index of the chunk column that
// order-by column k is, or -1.
func (s *Segment) alias(k int) int {
	for i, c := range s.Chunk.Columns() {
		if c == s.OrderBy[k] {
			return i
		}
	}
	return -1
}

// CompareAt compares row i of s with row j of other
// key by key and returns the first non-zero result,
// negated for descending keys. Equal rows yield 0.
func (s *Segment) CompareAt(i int, other *Segment, j int, descs SortDescs) int {
	for k := range descs {
		c := s.OrderBy[k].CompareAt(i, j, other.OrderBy[k], descs.NullsLow(k))
		if c != 0 {
			return c * int(descs[k].Direction)
		}
	}
	return 0
}

// Label is the position of a row relative to
// the range of rows held by a reference segment.
type Label uint8

const (
	// GreaterThanSegmentMax rows sort after the admission boundary.
	GreaterThanSegmentMax Label = iota
	// IncludeInSegment rows fall between the first row
	// and the admission boundary (inclusive).
	IncludeInSegment
	// LessThanSegmentMin rows sort before the first row.
	LessThanSegmentMin
)

func (l Label) String() string {
	switch l {
	case GreaterThanSegmentMax:
		return "greater"
	case IncludeInSegment:
		return "include"
	case LessThanSegmentMin:
		return "less"
	}
	return fmt.Sprintf("Label(%d)", uint8(l))
}

// Classification is the result of FilterArray.
type Classification struct {
	// Labels[s][r] is the label of row r of candidate s.
	Labels [][]Label
	// LessCount is the number of LessThanSegmentMin rows.
	LessCount int
	// IncludedCount is the number of IncludeInSegment rows.
	IncludedCount int
}

// Kept returns the row indexes of candidate s that are not
// GreaterThanSegmentMax. When lessOnly is set only the
// LessThanSegmentMin rows are returned.
func (c *Classification) Kept(s int, lessOnly bool) []int {
	var out []int
	for r, l := range c.Labels[s] {
		if l == LessThanSegmentMin || (!lessOnly && l == IncludeInSegment) {
			out = append(out, r)
		}
	}
	return out
}

// FilterArray classifies every row of every candidate against
// rows [0, rowsToSort) of s, which must be sorted by descs.
//
// A row that compares greater than row rowsToSort-1 is labelled
// GreaterThanSegmentMax. Of the remaining rows, those that compare
// less than row 0 are labelled LessThanSegmentMin and the others
// IncludeInSegment.
//
// The key types of every candidate are checked before any row is
// compared; a mismatch is reported as ErrTypeMismatch and no
// classification is returned.
func (s *Segment) FilterArray(candidates []*Segment, rowsToSort int, descs SortDescs) (*Classification, error) {
	if rowsToSort < 1 || rowsToSort > s.NumRows() {
		panic(fmt.Sprintf("sorting.FilterArray: rowsToSort %d out of range [1, %d]", rowsToSort, s.NumRows()))
	}
	for i := range candidates {
		if err := s.checkKeys(candidates[i]); err != nil {
			return nil, fmt.Errorf("candidate %d: %w", i, err)
		}
	}
	c := &Classification{Labels: make([][]Label, len(candidates))}
	boundary := rowsToSort - 1
	for i, cand := range candidates {
		labels := make([]Label, cand.NumRows())
		for r := range labels {
			if cand.CompareAt(r, s, boundary, descs) <= 0 {
				labels[r] = IncludeInSegment
			}
		}
		for r := range labels {
			if labels[r] != IncludeInSegment {
				continue
			}
			if cand.CompareAt(r, s, 0, descs) < 0 {
				labels[r] = LessThanSegmentMin
				c.LessCount++
			} else {
				c.IncludedCount++
			}
		}
		c.Labels[i] = labels
	}
	return c, nil
}

func (s *Segment) checkKeys(other *Segment) error {
	if len(other.OrderBy) != len(s.OrderBy) {
		return fmt.Errorf("%w: %d sort keys, want %d", ErrTypeMismatch, len(other.OrderBy), len(s.OrderBy))
	}
	return checkKeyTypes(s.KeyTypes(), other)
}

func checkKeyTypes(want []chunk.Type, seg *Segment) error {
	for k := range seg.OrderBy {
		if got := seg.OrderBy[k].Type(); got != want[k] {
			return fmt.Errorf("%w: key #%d is %s, want %s", ErrTypeMismatch, k, got, want[k])
		}
	}
	return nil
}

// sortedPermutation returns the row indexes of s
// in the order given by descs.
func (s *Segment) sortedPermutation(descs SortDescs) []int {
	perm := make([]int, s.NumRows())
	for i := range perm {
		perm[i] = i
	}
	slices.SortStableFunc(perm, func(a, b int) int {
		return s.CompareAt(a, s, b, descs)
	})
	return perm
}

// permute returns a segment holding rows idx of s, in that order.
func (s *Segment) permute(idx []int) *Segment {
	out := &Segment{
		Chunk:   s.Chunk.Gather(idx),
		OrderBy: make([]chunk.Column, len(s.OrderBy)),
	}
	for k := range s.OrderBy {
		if i := s.alias(k); i >= 0 {
			out.OrderBy[k] = out.Chunk.Column(i)
		} else {
			out.OrderBy[k] = s.OrderBy[k].Gather(idx)
		}
	}
	return out
}

// gatherSegments builds a segment from rows picked out of srcs.
// Order-by columns that alias a chunk column in the first source
// are taken from the gathered chunk instead of being gathered twice.
func gatherSegments(srcs []*Segment, refs []chunk.RowRef) *Segment {
	chunks := make([]*chunk.Chunk, len(srcs))
	for i := range srcs {
		chunks[i] = srcs[i].Chunk
	}
	out := &Segment{
		Chunk:   chunk.GatherChunks(chunks, refs),
		OrderBy: make([]chunk.Column, len(srcs[0].OrderBy)),
	}
	cols := make([]chunk.Column, len(srcs))
	for k := range out.OrderBy {
		if i := aliasAll(srcs, k); i >= 0 {
			out.OrderBy[k] = out.Chunk.Column(i)
			continue
		}
		for i := range srcs {
			cols[i] = srcs[i].OrderBy[k]
		}
		out.OrderBy[k] = chunk.GatherRows(cols, refs)
	}
	return out
}

func aliasAll(srcs []*Segment, k int) int {
	i := srcs[0].alias(k)
	if i < 0 {
		return -1
	}
	for _, s := range srcs[1:] {
		if s.Chunk.Column(i) != s.OrderBy[k] {
			return -1
		}
	}
	return i
}
