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

package chunk

import (
	"cmp"
	"unsafe"

	"golang.org/x/exp/constraints"
)

// Primitive is the set of Go types backing a Vector.
type Primitive interface {
	constraints.Integer | constraints.Float | ~string
}

// Column is an immutable, row-addressable array of values
// of a single runtime type.
//
// The set of implementations is closed: every column
// is a *Vector[T] for one of the Primitive types.
type Column interface {
	Type() Type
	Len() int
	IsNull(i int) bool
	// Value returns the i-th value boxed as its Go type,
	// or nil for NULL.
	Value(i int) any
	// CompareAt compares row i of this column with row j
	// of other and returns -1, 0 or +1. When nullsLow is set
	// NULL compares lower than any value, otherwise higher;
	// two NULLs are equal.
	CompareAt(i, j int, other Column, nullsLow bool) int
	Gather(idx []int) Column
	Slice(from, to int) Column
	MemoryUsage() int64

	gatherRows(srcs []Column, refs []RowRef) Column
}

// Vector is a nullable column of T.
//
// nulls is nil when the vector holds no NULL values.
type Vector[T Primitive] struct {
	typ   Type
	data  []T
	nulls []bool
}

// NewVector wraps data (and an optional null mask of
// the same length) into a column of type typ.
// The slices are retained, not copied.
func NewVector[T Primitive](typ Type, data []T, nulls []bool) *Vector[T] {
	if nulls != nil && len(nulls) != len(data) {
		panic("chunk.NewVector: null mask length mismatch")
	}
	v := &Vector[T]{typ: typ, data: data}
	for i := range nulls {
		if nulls[i] {
			v.nulls = nulls
			break
		}
	}
	return v
}

func (v *Vector[T]) Type() Type { return v.typ }
func (v *Vector[T]) Len() int   { return len(v.data) }

// Data returns the backing values. Entries at NULL
// positions hold the zero value.
func (v *Vector[T]) Data() []T { return v.data }

func (v *Vector[T]) IsNull(i int) bool {
	return v.nulls != nil && v.nulls[i]
}

// HasNulls returns true if at least one row is NULL.
func (v *Vector[T]) HasNulls() bool { return v.nulls != nil }

func (v *Vector[T]) Value(i int) any {
	if v.IsNull(i) {
		return nil
	}
	return v.data[i]
}

func (v *Vector[T]) same(other Column, op string) *Vector[T] {
	o, ok := other.(*Vector[T])
	if !ok || o.typ != v.typ {
		panic(&TypeMismatchError{Op: op, Want: v.typ, Got: other.Type()})
	}
	return o
}

func (v *Vector[T]) CompareAt(i, j int, other Column, nullsLow bool) int {
	o := v.same(other, "CompareAt")
	ni, nj := v.IsNull(i), o.IsNull(j)
	if ni || nj {
		if ni && nj {
			return 0
		}
		rel := 1
		if ni {
			rel = -1
		}
		if !nullsLow {
			rel = -rel
		}
		return rel
	}
	return cmp.Compare(v.data[i], o.data[j])
}

func (v *Vector[T]) Gather(idx []int) Column {
	data := make([]T, len(idx))
	for i, j := range idx {
		data[i] = v.data[j]
	}
	var nulls []bool
	if v.nulls != nil {
		nulls = make([]bool, len(idx))
		for i, j := range idx {
			nulls[i] = v.nulls[j]
		}
	}
	return NewVector(v.typ, data, nulls)
}

// Slice returns rows [from, to) without copying.
func (v *Vector[T]) Slice(from, to int) Column {
	out := &Vector[T]{typ: v.typ, data: v.data[from:to:to]}
	if v.nulls != nil {
		out.nulls = v.nulls[from:to:to]
	}
	return out
}

func (v *Vector[T]) MemoryUsage() int64 {
	var zero T
	size := int64(unsafe.Sizeof(zero)) * int64(cap(v.data))
	if s, ok := any(v.data).([]string); ok {
		for i := range s {
			size += int64(len(s[i]))
		}
	}
	return size + int64(cap(v.nulls))
}

func (v *Vector[T]) gatherRows(srcs []Column, refs []RowRef) Column {
	typed := make([]*Vector[T], len(srcs))
	anyNulls := false
	for i := range srcs {
		typed[i] = v.same(srcs[i], "GatherRows")
		anyNulls = anyNulls || typed[i].nulls != nil
	}
	data := make([]T, len(refs))
	for i, r := range refs {
		data[i] = typed[r.Source].data[r.Row]
	}
	var nulls []bool
	if anyNulls {
		nulls = make([]bool, len(refs))
		for i, r := range refs {
			nulls[i] = typed[r.Source].IsNull(r.Row)
		}
	}
	return NewVector(v.typ, data, nulls)
}
