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

// Package heap implements a generic binary min-heap.
package heap

// Heap is a min-heap ordered by a caller-supplied
// comparison function. The zero value is not usable;
// construct one with New.
type Heap[T any] struct {
	items []T
	less  func(x, y T) bool
}

// New returns an empty heap ordered by less.
func New[T any](less func(x, y T) bool) *Heap[T] {
	return &Heap[T]{less: less}
}

// Init replaces the heap contents with items
// (which the heap takes ownership of) and
// restores the heap invariant.
func (h *Heap[T]) Init(items []T) {
	h.items = items
	for i := len(h.items)/2 - 1; i >= 0; i-- {
		h.siftDown(i)
	}
}

// Len returns the number of items in the heap.
func (h *Heap[T]) Len() int { return len(h.items) }

// Top returns the "smallest" item without removing it.
func (h *Heap[T]) Top() T { return h.items[0] }

// Push adds item while preserving the heap invariant.
func (h *Heap[T]) Push(item T) {
	h.items = append(h.items, item)
	h.siftUp(len(h.items) - 1)
}

// Pop removes and returns the "smallest" item.
func (h *Heap[T]) Pop() T {
	ret := h.items[0]
	last := len(h.items) - 1
	h.items[0] = h.items[last]
	var zero T
	h.items[last] = zero
	h.items = h.items[:last]
	if last > 0 {
		h.siftDown(0)
	}
	return ret
}

// ReplaceTop overwrites the "smallest" item with item
// and restores the heap invariant. It is equivalent to
// Pop followed by Push, but does a single sift.
func (h *Heap[T]) ReplaceTop(item T) {
	h.items[0] = item
	h.siftDown(0)
}

// Fix restores the heap invariant after the item
// at index i has changed its ordering.
func (h *Heap[T]) Fix(i int) {
	h.siftDown(i)
	h.siftUp(i)
}

func (h *Heap[T]) siftUp(index int) {
	x := h.items
	for index > 0 {
		p := (index - 1) / 2
		if !h.less(x[index], x[p]) {
			break
		}
		x[p], x[index] = x[index], x[p]
		index = p
	}
}

func (h *Heap[T]) siftDown(index int) {
	x := h.items
	for {
		c := index*2 + 1
		if c >= len(x) {
			break
		}
		if r := c + 1; r < len(x) && h.less(x[r], x[c]) {
			c = r
		}
		if !h.less(x[c], x[index]) {
			break
		}
		x[c], x[index] = x[index], x[c]
		index = c
	}
}
