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
	"encoding/binary"
	"fmt"
	"math"
	"math/bits"

	"github.com/dchest/siphash"
)

const (
	bloomK0 = 0x736f6d6570736575
	bloomK1 = 0x646f72616e646f6d
)

// Bloom is a fixed-size bloom filter over
// the primitive values stored in columns.
//
// Bloom is not safe for concurrent Insert.
type Bloom struct {
	bits   []uint64
	hashes int
}

// NewBloom sizes a filter for n values at
// the given false-positive rate.
func NewBloom(n int, fpRate float64) *Bloom {
	if n < 1 {
		n = 1
	}
	if fpRate <= 0 || fpRate >= 1 {
		fpRate = 0.01
	}
	m := math.Ceil(-float64(n) * math.Log(fpRate) / (math.Ln2 * math.Ln2))
	words := (int(m) + 63) / 64
	k := int(math.Round(float64(words*64) / float64(n) * math.Ln2))
	return &Bloom{bits: make([]uint64, words), hashes: max(k, 1)}
}

// hash returns two independent hashes of v
// for double hashing.
// floatBits maps floats that compare equal
// (-0 and +0, every NaN) to the same bits.
func floatBits(f float64) uint64 {
	switch {
	case f == 0:
		return 0
	case math.IsNaN(f):
		return math.Float64bits(math.NaN())
	}
	return math.Float64bits(f)
}

func hash(v any) (uint64, uint64) {
	var tmp [8]byte
	var buf []byte
	switch x := v.(type) {
	case string:
		buf = []byte(x)
	case int8:
		buf = binary.LittleEndian.AppendUint64(tmp[:0], uint64(x))
	case int16:
		buf = binary.LittleEndian.AppendUint64(tmp[:0], uint64(x))
	case int32:
		buf = binary.LittleEndian.AppendUint64(tmp[:0], uint64(x))
	case int64:
		buf = binary.LittleEndian.AppendUint64(tmp[:0], uint64(x))
	case uint8:
		buf = binary.LittleEndian.AppendUint64(tmp[:0], uint64(x))
	case uint16:
		buf = binary.LittleEndian.AppendUint64(tmp[:0], uint64(x))
	case uint32:
		buf = binary.LittleEndian.AppendUint64(tmp[:0], uint64(x))
	case uint64:
		buf = binary.LittleEndian.AppendUint64(tmp[:0], x)
	case float32:
		buf = binary.LittleEndian.AppendUint64(tmp[:0], floatBits(float64(x)))
	case float64:
		buf = binary.LittleEndian.AppendUint64(tmp[:0], floatBits(x))
	default:
		buf = []byte(fmt.Sprint(x))
	}
	return siphash.Hash128(bloomK0, bloomK1, buf)
}

func (b *Bloom) positions(v any, fn func(word int, mask uint64) bool) bool {
	h1, h2 := hash(v)
	n := uint64(len(b.bits) * 64)
	for i := 0; i < b.hashes; i++ {
		p := (h1 + uint64(i)*h2) % n
		if !fn(int(p/64), 1<<(p%64)) {
			return false
		}
	}
	return true
}

// Insert adds v to the filter.
func (b *Bloom) Insert(v any) {
	b.positions(v, func(w int, mask uint64) bool {
		b.bits[w] |= mask
		return true
	})
}

// Test reports whether v may have been inserted.
func (b *Bloom) Test(v any) bool {
	return b.positions(v, func(w int, mask uint64) bool {
		return b.bits[w]&mask != 0
	})
}

// Merge adds every value inserted into o to b.
// Both filters must have been created with the
// same parameters.
func (b *Bloom) Merge(o *Bloom) error {
	if len(o.bits) != len(b.bits) || o.hashes != b.hashes {
		return fmt.Errorf("rtfilter: cannot merge bloom filters of %d/%d and %d/%d bits/hashes",
			len(b.bits)*64, b.hashes, len(o.bits)*64, o.hashes)
	}
	for i := range o.bits {
		b.bits[i] |= o.bits[i]
	}
	return nil
}

func (b *Bloom) String() string {
	set := 0
	for _, w := range b.bits {
		set += bits.OnesCount64(w)
	}
	return fmt.Sprintf("bloom(%d/%d bits, %d hashes)", set, len(b.bits)*64, b.hashes)
}
