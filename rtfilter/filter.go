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

// Package rtfilter implements runtime filters: predicates
// derived while a query runs and pushed to upstream stages
// so that they can discard rows early.
//
// A filter is only ever a hint. A row rejected by a filter
// is guaranteed not to be needed downstream, but a row
// accepted by it may still be discarded later.
package rtfilter

import (
	"github.com/RoaringBitmap/roaring/v2"

	"github.com/SnellerInc/chunksort/chunk"
)

// Filter is a pushable predicate over the values of one column.
type Filter interface {
	// Type is the column type the filter applies to.
	Type() chunk.Type
	// Evaluate returns the set of rows of col that may
	// pass. It panics with *chunk.TypeMismatchError if
	// col does not have the filter's type.
	Evaluate(col chunk.Column) *roaring.Bitmap
	// Test reports whether a single value may pass.
	// A nil v stands for NULL.
	Test(v any) bool
	String() string
}

// Build synthesizes a range filter from row of col, the
// current admission boundary of an ordered key. Ascending
// keys admit values <= the boundary, descending keys values
// >= the boundary. NULLs pass iff nullsFirst.
//
// Build returns nil when the boundary is NULL or when
// the column type has no range filter (Bool).
func Build(col chunk.Column, row int, ascending, nullsFirst bool) Filter {
	if col.IsNull(row) {
		return nil
	}
	switch v := col.(type) {
	case *chunk.Vector[int8]:
		return buildRange(v, row, ascending, nullsFirst)
	case *chunk.Vector[int16]:
		return buildRange(v, row, ascending, nullsFirst)
	case *chunk.Vector[int32]:
		return buildRange(v, row, ascending, nullsFirst)
	case *chunk.Vector[int64]:
		return buildRange(v, row, ascending, nullsFirst)
	case *chunk.Vector[uint8]:
		if v.Type() == chunk.Bool {
			return nil
		}
		return buildRange(v, row, ascending, nullsFirst)
	case *chunk.Vector[uint16]:
		return buildRange(v, row, ascending, nullsFirst)
	case *chunk.Vector[uint32]:
		return buildRange(v, row, ascending, nullsFirst)
	case *chunk.Vector[uint64]:
		return buildRange(v, row, ascending, nullsFirst)
	case *chunk.Vector[float32]:
		return buildRange(v, row, ascending, nullsFirst)
	case *chunk.Vector[float64]:
		return buildRange(v, row, ascending, nullsFirst)
	case *chunk.Vector[string]:
		return buildRange(v, row, ascending, nullsFirst)
	}
	return nil
}

func buildRange[T chunk.Primitive](v *chunk.Vector[T], row int, ascending, nullsFirst bool) Filter {
	r := NewRange[T](v.Type(), nullsFirst)
	if ascending {
		r.SetUpper(v.Data()[row])
	} else {
		r.SetLower(v.Data()[row])
	}
	return r
}

// Update narrows f, built by Build with the same ascending
// flag, to the boundary at row of col. It never widens f
// and returns true if the bound moved. A NULL boundary
// leaves f unchanged.
//
// Update panics with *chunk.TypeMismatchError if col does
// not have the type f was built for.
func Update(f Filter, col chunk.Column, row int, ascending bool) bool {
	if f.Type() != col.Type() {
		panic(&chunk.TypeMismatchError{Op: "rtfilter.Update", Want: f.Type(), Got: col.Type()})
	}
	if col.IsNull(row) {
		return false
	}
	switch r := f.(type) {
	case *Range[int8]:
		return narrow(r, col, row, ascending)
	case *Range[int16]:
		return narrow(r, col, row, ascending)
	case *Range[int32]:
		return narrow(r, col, row, ascending)
	case *Range[int64]:
		return narrow(r, col, row, ascending)
	case *Range[uint8]:
		return narrow(r, col, row, ascending)
	case *Range[uint16]:
		return narrow(r, col, row, ascending)
	case *Range[uint32]:
		return narrow(r, col, row, ascending)
	case *Range[uint64]:
		return narrow(r, col, row, ascending)
	case *Range[float32]:
		return narrow(r, col, row, ascending)
	case *Range[float64]:
		return narrow(r, col, row, ascending)
	case *Range[string]:
		return narrow(r, col, row, ascending)
	}
	return false
}

func narrow[T chunk.Primitive](r *Range[T], col chunk.Column, row int, ascending bool) bool {
	v, ok := col.(*chunk.Vector[T])
	if !ok {
		panic(&chunk.TypeMismatchError{Op: "rtfilter.Update", Want: r.Type(), Got: col.Type()})
	}
	if ascending {
		return r.NarrowUpper(v.Data()[row])
	}
	return r.NarrowLower(v.Data()[row])
}
