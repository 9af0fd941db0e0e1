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
	"errors"
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SnellerInc/chunksort/chunk"
	"github.com/SnellerInc/chunksort/eval"
)

// int64Col builds an Int64 column; nil entries are NULL.
func int64Col(vals ...any) chunk.Column {
	data := make([]int64, len(vals))
	nulls := make([]bool, len(vals))
	for i, v := range vals {
		if v == nil {
			nulls[i] = true
			continue
		}
		data[i] = int64(v.(int))
	}
	return chunk.NewVector(chunk.Int64, data, nulls)
}

func keySegment(t *testing.T, keys []SortKey, names []string, cols ...chunk.Column) *Segment {
	t.Helper()
	seg, err := NewSegment(keys, chunk.MustNew(names, cols))
	require.NoError(t, err)
	return seg
}

func asc(name string) SortKey {
	return SortKey{Expr: eval.Col(name), Direction: Ascending, Nulls: NullsFirst}
}

func desc(name string) SortKey {
	return SortKey{Expr: eval.Col(name), Direction: Descending, Nulls: NullsLast}
}

func TestCompareAtNulls(t *testing.T) {
	testcases := []struct {
		key  SortKey
		want []int // sign of CompareAt(NULL, 1), CompareAt(1, 2)
	}{
		{SortKey{Expr: eval.Col("x"), Direction: Ascending, Nulls: NullsFirst}, []int{-1, -1}},
		{SortKey{Expr: eval.Col("x"), Direction: Ascending, Nulls: NullsLast}, []int{1, -1}},
		{SortKey{Expr: eval.Col("x"), Direction: Descending, Nulls: NullsFirst}, []int{-1, 1}},
		{SortKey{Expr: eval.Col("x"), Direction: Descending, Nulls: NullsLast}, []int{1, 1}},
	}
	for _, tc := range testcases {
		t.Run(tc.key.String(), func(t *testing.T) {
			keys := []SortKey{tc.key}
			seg := keySegment(t, keys, []string{"x"}, int64Col(nil, 1, 2))
			descs := Descs(keys)
			assert.Equal(t, tc.want[0], seg.CompareAt(0, seg, 1, descs))
			assert.Equal(t, -tc.want[0], seg.CompareAt(1, seg, 0, descs))
			assert.Equal(t, tc.want[1], seg.CompareAt(1, seg, 2, descs))
			assert.Equal(t, 0, seg.CompareAt(0, seg, 0, descs))
		})
	}
}

func TestCompareAtMultiKey(t *testing.T) {
	keys := []SortKey{asc("a"), desc("b")}
	seg := keySegment(t, keys, []string{"a", "b"},
		int64Col(1, 1, 1, 2),
		int64Col(5, 7, 5, 0))
	descs := Descs(keys)
	assert.Equal(t, 1, seg.CompareAt(0, seg, 1, descs), "b is descending")
	assert.Equal(t, 0, seg.CompareAt(0, seg, 2, descs))
	assert.Equal(t, -1, seg.CompareAt(1, seg, 3, descs), "a decides first")
}

func TestNewSegmentErrors(t *testing.T) {
	c := chunk.MustNew([]string{"x"}, []chunk.Column{int64Col(1, 2)})

	_, err := NewSegment([]SortKey{asc("x"), asc("missing")}, c)
	var ee *EvaluationError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.Key)
	assert.Equal(t, "missing", ee.Expr)
	assert.ErrorIs(t, err, eval.ErrNoColumn)

	short := eval.Func("short", func(*chunk.Chunk) (chunk.Column, error) {
		return int64Col(1), nil
	})
	_, err = NewSegment([]SortKey{{Expr: short}}, c)
	require.ErrorAs(t, err, &ee)
	assert.Contains(t, err.Error(), "got 1 rows, want 2")

	boom := errors.New("boom")
	failing := eval.Func("failing", func(*chunk.Chunk) (chunk.Column, error) {
		return nil, boom
	})
	_, err = NewSegment([]SortKey{{Expr: failing}}, c)
	assert.ErrorIs(t, err, boom)
}

func TestSegmentMemUsage(t *testing.T) {
	c := chunk.MustNew([]string{"x"}, []chunk.Column{int64Col(1, 2, 3)})
	seg, err := NewSegment([]SortKey{asc("x")}, c)
	require.NoError(t, err)
	assert.Equal(t, c.MemoryUsage(), seg.MemUsage(), "column key is not counted twice")

	neg := eval.Func("-x", func(c *chunk.Chunk) (chunk.Column, error) {
		v := c.Column(0).(*chunk.Vector[int64])
		out := make([]int64, v.Len())
		for i, x := range v.Data() {
			out[i] = -x
		}
		return chunk.NewVector(chunk.Int64, out, nil), nil
	})
	seg, err = NewSegment([]SortKey{{Expr: neg}}, c)
	require.NoError(t, err)
	assert.Equal(t, 2*c.MemoryUsage(), seg.MemUsage())

	seg.Clear()
	assert.Zero(t, seg.MemUsage())
	assert.Zero(t, seg.NumRows())
}

func TestFilterArray(t *testing.T) {
	keys := []SortKey{asc("x")}
	descs := Descs(keys)
	ref := keySegment(t, keys, []string{"x"}, int64Col(2, 4, 6, 8))
	cand := keySegment(t, keys, []string{"x"}, int64Col(1, 2, 5, 6, 7, 9))

	cls, err := ref.FilterArray([]*Segment{cand}, 3, descs)
	require.NoError(t, err)
	assert.Equal(t, []Label{
		LessThanSegmentMin,
		IncludeInSegment,
		IncludeInSegment,
		IncludeInSegment,
		GreaterThanSegmentMax,
		GreaterThanSegmentMax,
	}, cls.Labels[0])
	assert.Equal(t, 1, cls.LessCount)
	assert.Equal(t, 3, cls.IncludedCount)
	assert.Equal(t, []int{0, 1, 2, 3}, cls.Kept(0, false))
	assert.Equal(t, []int{0}, cls.Kept(0, true))
}

func TestFilterArrayDescendingNulls(t *testing.T) {
	keys := []SortKey{desc("x")} // NULLS LAST
	descs := Descs(keys)
	ref := keySegment(t, keys, []string{"x"}, int64Col(9, 5, 3))
	cand := keySegment(t, keys, []string{"x"}, int64Col(nil, 10, 4, 2))

	cls, err := ref.FilterArray([]*Segment{cand}, 2, descs)
	require.NoError(t, err)
	assert.Equal(t, []Label{
		GreaterThanSegmentMax, // NULL sorts last
		LessThanSegmentMin,
		GreaterThanSegmentMax,
		GreaterThanSegmentMax,
	}, cls.Labels[0])
	assert.Equal(t, 1, cls.LessCount)
	assert.Equal(t, 0, cls.IncludedCount)
}

func TestFilterArrayTypeMismatch(t *testing.T) {
	keys := []SortKey{asc("x")}
	ref := keySegment(t, keys, []string{"x"}, int64Col(1, 2))
	good := keySegment(t, keys, []string{"x"}, int64Col(1))
	bad := keySegment(t, keys, []string{"x"},
		chunk.NewVector(chunk.String, []string{"a"}, nil))

	cls, err := ref.FilterArray([]*Segment{good, bad}, 2, Descs(keys))
	assert.ErrorIs(t, err, ErrTypeMismatch)
	assert.Nil(t, cls)
}

func TestFilterArrayBounds(t *testing.T) {
	keys := []SortKey{asc("x")}
	ref := keySegment(t, keys, []string{"x"}, int64Col(1, 2))
	assert.Panics(t, func() { ref.FilterArray(nil, 0, Descs(keys)) })
	assert.Panics(t, func() { ref.FilterArray(nil, 3, Descs(keys)) })
}

// TestFilterArraySoundness recounts every label by brute force.
func TestFilterArraySoundness(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for iter := 0; iter < 100; iter++ {
		keys := []SortKey{
			{Expr: eval.Col("a"), Direction: Direction(1 - 2*rng.Intn(2)), Nulls: NullsOrder(rng.Intn(2))},
			{Expr: eval.Col("b"), Direction: Direction(1 - 2*rng.Intn(2)), Nulls: NullsOrder(rng.Intn(2))},
		}
		descs := Descs(keys)
		t.Run(fmt.Sprintf("%d/%s", iter, keysString(keys)), func(t *testing.T) {
			randomSeg := func(n int) *Segment {
				a := make([]any, n)
				b := make([]any, n)
				for i := 0; i < n; i++ {
					if rng.Intn(8) > 0 {
						a[i] = rng.Intn(6)
					}
					if rng.Intn(8) > 0 {
						b[i] = rng.Intn(6)
					}
				}
				return keySegment(t, keys, []string{"a", "b"}, int64Col(a...), int64Col(b...))
			}
			ref := randomSeg(1 + rng.Intn(20))
			ref = ref.permute(ref.sortedPermutation(descs))
			rowsToSort := 1 + rng.Intn(ref.NumRows())
			cands := []*Segment{randomSeg(rng.Intn(30)), randomSeg(rng.Intn(30))}

			cls, err := ref.FilterArray(cands, rowsToSort, descs)
			require.NoError(t, err)
			less, included := 0, 0
			for s, cand := range cands {
				for r := 0; r < cand.NumRows(); r++ {
					cmpLast := cand.CompareAt(r, ref, rowsToSort-1, descs)
					cmpFirst := cand.CompareAt(r, ref, 0, descs)
					switch cls.Labels[s][r] {
					case GreaterThanSegmentMax:
						require.Positive(t, cmpLast)
					case LessThanSegmentMin:
						require.Negative(t, cmpFirst)
						require.LessOrEqual(t, cmpLast, 0)
						less++
					case IncludeInSegment:
						require.GreaterOrEqual(t, cmpFirst, 0)
						require.LessOrEqual(t, cmpLast, 0)
						included++
					}
				}
			}
			assert.Equal(t, less, cls.LessCount)
			assert.Equal(t, included, cls.IncludedCount)
		})
	}
}
