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
	"sync"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/google/uuid"

	"github.com/SnellerInc/chunksort/chunk"
)

type published struct {
	producer uuid.UUID
	filter   Filter
}

// Hub is a registry through which producers (sorters)
// hand filters to consumers (scans) of the same column.
//
// A Hub is safe for concurrent use.
type Hub struct {
	mu      sync.Mutex
	columns map[string][]published
}

// NewHub returns an empty registry.
func NewHub() *Hub {
	return &Hub{columns: make(map[string][]published)}
}

// Publish registers f as the filter of producer for column,
// replacing whatever producer published there before.
func (h *Hub) Publish(producer uuid.UUID, column string, f Filter) {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.columns[column]
	for i := range list {
		if list[i].producer == producer {
			list[i].filter = f
			return
		}
	}
	h.columns[column] = append(list, published{producer: producer, filter: f})
}

// Withdraw removes every filter published by producer.
func (h *Hub) Withdraw(producer uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for column, list := range h.columns {
		kept := list[:0]
		for _, p := range list {
			if p.producer != producer {
				kept = append(kept, p)
			}
		}
		if len(kept) == 0 {
			delete(h.columns, column)
		} else {
			h.columns[column] = kept
		}
	}
}

// Lookup returns the filters published for column,
// in publication order.
func (h *Hub) Lookup(column string) []Filter {
	h.mu.Lock()
	defer h.mu.Unlock()
	list := h.columns[column]
	out := make([]Filter, len(list))
	for i := range list {
		out[i] = list[i].filter
	}
	return out
}

// Prune returns the rows of col that pass every filter
// published for column. With no filters every row passes.
func (h *Hub) Prune(column string, col chunk.Column) *roaring.Bitmap {
	out := roaring.New()
	out.AddRange(0, uint64(col.Len()))
	for _, f := range h.Lookup(column) {
		out.And(f.Evaluate(col))
		if out.IsEmpty() {
			break
		}
	}
	return out
}
