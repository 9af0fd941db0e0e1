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

// Package chunk implements the columnar batches
// consumed by the sorting operators.
//
// A Chunk is never mutated once built: operators
// that reorder rows produce new chunks through
// Gather or GatherChunks, so the same chunk can be
// shared freely between a producer and any number
// of readers.
package chunk

import (
	"fmt"
	"strings"
)

// Chunk is a batch of named, row-aligned columns.
type Chunk struct {
	names []string
	cols  []Column
	index map[string]int
}

// New builds a chunk from parallel slices of names and columns.
func New(names []string, cols []Column) (*Chunk, error) {
	if len(names) != len(cols) {
		return nil, fmt.Errorf("chunk.New: %d names for %d columns", len(names), len(cols))
	}
	index := make(map[string]int, len(names))
	for i := range cols {
		if cols[i].Len() != cols[0].Len() {
			return nil, fmt.Errorf("chunk.New: column %q has %d rows, column %q has %d",
				names[i], cols[i].Len(), names[0], cols[0].Len())
		}
		if _, dup := index[names[i]]; dup {
			return nil, fmt.Errorf("chunk.New: duplicate column name %q", names[i])
		}
		index[names[i]] = i
	}
	return &Chunk{names: names, cols: cols, index: index}, nil
}

// MustNew is like New but panics on error.
func MustNew(names []string, cols []Column) *Chunk {
	c, err := New(names, cols)
	if err != nil {
		panic(err)
	}
	return c
}

// NumRows returns the number of rows in the chunk.
func (c *Chunk) NumRows() int {
	if len(c.cols) == 0 {
		return 0
	}
	return c.cols[0].Len()
}

func (c *Chunk) NumColumns() int     { return len(c.cols) }
func (c *Chunk) Column(i int) Column { return c.cols[i] }
func (c *Chunk) Columns() []Column   { return c.cols }
func (c *Chunk) Names() []string     { return c.names }

// ColumnByName returns the column with the given name.
func (c *Chunk) ColumnByName(name string) (Column, bool) {
	i, ok := c.index[name]
	if !ok {
		return nil, false
	}
	return c.cols[i], true
}

// Types returns the runtime type of every column.
func (c *Chunk) Types() []Type {
	t := make([]Type, len(c.cols))
	for i := range c.cols {
		t[i] = c.cols[i].Type()
	}
	return t
}

// Slice returns rows [from, to) sharing storage with c.
func (c *Chunk) Slice(from, to int) *Chunk {
	cols := make([]Column, len(c.cols))
	for i := range c.cols {
		cols[i] = c.cols[i].Slice(from, to)
	}
	return &Chunk{names: c.names, cols: cols, index: c.index}
}

// Gather returns a new chunk holding rows idx of c, in that order.
func (c *Chunk) Gather(idx []int) *Chunk {
	cols := make([]Column, len(c.cols))
	for i := range c.cols {
		cols[i] = c.cols[i].Gather(idx)
	}
	return &Chunk{names: c.names, cols: cols, index: c.index}
}

// MemoryUsage estimates the bytes held by the chunk's columns.
func (c *Chunk) MemoryUsage() int64 {
	var n int64
	for i := range c.cols {
		n += c.cols[i].MemoryUsage()
	}
	return n
}

// SameSchema reports whether a and b have the same
// column names and types, in the same order.
func SameSchema(a, b *Chunk) bool {
	if len(a.cols) != len(b.cols) {
		return false
	}
	for i := range a.cols {
		if a.names[i] != b.names[i] || a.cols[i].Type() != b.cols[i].Type() {
			return false
		}
	}
	return true
}

func (c *Chunk) String() string {
	var sb strings.Builder
	sb.WriteString(strings.Join(c.names, ","))
	for r := 0; r < c.NumRows(); r++ {
		sb.WriteByte('\n')
		for i := range c.cols {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(FormatValue(c.cols[i].Value(r)))
		}
	}
	return sb.String()
}

// RowRef addresses one row of one source in a multi-source gather.
type RowRef struct {
	Source int
	Row    int
}

// GatherRows builds a column from rows picked out of several
// source columns of the same type. refs[i].Source indexes srcs.
func GatherRows(srcs []Column, refs []RowRef) Column {
	if len(srcs) == 0 {
		panic("chunk.GatherRows: no sources")
	}
	return srcs[0].gatherRows(srcs, refs)
}

// GatherChunks builds a chunk from rows picked out of several
// source chunks sharing one schema. The result takes the column
// names of srcs[0].
func GatherChunks(srcs []*Chunk, refs []RowRef) *Chunk {
	if len(srcs) == 0 {
		panic("chunk.GatherChunks: no sources")
	}
	first := srcs[0]
	cols := make([]Column, len(first.cols))
	col := make([]Column, len(srcs))
	for i := range cols {
		for s := range srcs {
			col[s] = srcs[s].cols[i]
		}
		cols[i] = GatherRows(col, refs)
	}
	return &Chunk{names: first.names, cols: cols, index: first.index}
}
