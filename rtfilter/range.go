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

package rtfilter

import (
	"cmp"
	"fmt"
	"strings"
	"sync"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/SnellerInc/chunksort/chunk"
)

// Range admits the values in [lo, hi], where either
// bound may be absent, optionally intersected with
// a bloom filter.
//
// The bounds may be narrowed while other goroutines
// evaluate the filter.
type Range[T chunk.Primitive] struct {
	typ       chunk.Type
	nullsPass bool

	mu           sync.RWMutex
	lo, hi       T
	hasLo, hasHi bool
	bloom        *Bloom
}

// NewRange returns an unbounded range over values of typ.
func NewRange[T chunk.Primitive](typ chunk.Type, nullsPass bool) *Range[T] {
	return &Range[T]{typ: typ, nullsPass: nullsPass}
}

func (r *Range[T]) Type() chunk.Type { return r.typ }

// NullsPass reports whether NULL values pass the filter.
func (r *Range[T]) NullsPass() bool { return r.nullsPass }

// SetLower unconditionally sets the lower bound.
func (r *Range[T]) SetLower(v T) {
	r.mu.Lock()
	r.lo, r.hasLo = v, true
	r.mu.Unlock()
}

// SetUpper unconditionally sets the upper bound.
func (r *Range[T]) SetUpper(v T) {
	r.mu.Lock()
	r.hi, r.hasHi = v, true
	r.mu.Unlock()
}

// NarrowLower raises the lower bound to v if that
// makes the range narrower. It returns true if it did.
func (r *Range[T]) NarrowLower(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasLo && cmp.Compare(v, r.lo) <= 0 {
		return false
	}
	r.lo, r.hasLo = v, true
	return true
}

// NarrowUpper lowers the upper bound to v if that
// makes the range narrower. It returns true if it did.
func (r *Range[T]) NarrowUpper(v T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hasHi && cmp.Compare(v, r.hi) >= 0 {
		return false
	}
	r.hi, r.hasHi = v, true
	return true
}

// Lower returns the lower bound, if any.
func (r *Range[T]) Lower() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lo, r.hasLo
}

// Upper returns the upper bound, if any.
func (r *Range[T]) Upper() (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.hi, r.hasHi
}

// WithBloom attaches a membership filter: values must
// then also be present in b to pass.
func (r *Range[T]) WithBloom(b *Bloom) *Range[T] {
	r.mu.Lock()
	r.bloom = b
	r.mu.Unlock()
	return r
}

func (r *Range[T]) contains(v T) bool {
	if r.hasLo && cmp.Compare(v, r.lo) < 0 {
		return false
	}
	if r.hasHi && cmp.Compare(v, r.hi) > 0 {
		return false
	}
	return r.bloom == nil || r.bloom.Test(v)
}

// Contains reports whether the non-NULL value v passes.
func (r *Range[T]) Contains(v T) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.contains(v)
}

// Test implements Filter.Test. Values of a Go type
// other than T are never rejected.
func (r *Range[T]) Test(v any) bool {
	if v == nil {
		return r.nullsPass
	}
	t, ok := v.(T)
	if !ok {
		return true
	}
	return r.Contains(t)
}

// Evaluate implements Filter.Evaluate.
func (r *Range[T]) Evaluate(col chunk.Column) *roaring.Bitmap {
	v, ok := col.(*chunk.Vector[T])
	if !ok || v.Type() != r.typ {
		panic(&chunk.TypeMismatchError{Op: "rtfilter.Evaluate", Want: r.typ, Got: col.Type()})
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := roaring.New()
	data := v.Data()
	for i := range data {
		if v.IsNull(i) {
			if r.nullsPass {
				out.Add(uint32(i))
			}
			continue
		}
		if r.contains(data[i]) {
			out.Add(uint32(i))
		}
	}
	return out
}

func (r *Range[T]) String() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var parts []string
	if r.hasLo {
		parts = append(parts, fmt.Sprintf(">= %v", r.lo))
	}
	if r.hasHi {
		parts = append(parts, fmt.Sprintf("<= %v", r.hi))
	}
	if r.bloom != nil {
		parts = append(parts, "in "+r.bloom.String())
	}
	if len(parts) == 0 {
		parts = append(parts, "any")
	}
	nulls := "nulls rejected"
	if r.nullsPass {
		nulls = "nulls pass"
	}
	return fmt.Sprintf("%s %s (%s)", r.typ, strings.Join(parts, " and "), nulls)
}
