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
	"cmp"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slices"

	"github.com/SnellerInc/chunksort/chunk"
	"github.com/SnellerInc/chunksort/eval"
	"github.com/SnellerInc/chunksort/rtfilter"
)

// row is one input row: k is the sort key
// (nil or int64) and id is unique.
type row struct {
	k  any
	id int64
}

func makeChunk(rows []row) *chunk.Chunk {
	k := make([]int64, len(rows))
	nulls := make([]bool, len(rows))
	ids := make([]int64, len(rows))
	for i, r := range rows {
		if r.k == nil {
			nulls[i] = true
		} else {
			k[i] = r.k.(int64)
		}
		ids[i] = r.id
	}
	return chunk.MustNew([]string{"k", "id"}, []chunk.Column{
		chunk.NewVector(chunk.Int64, k, nulls),
		chunk.NewVector(chunk.Int64, ids, nil),
	})
}

func readRows(c *chunk.Chunk) []row {
	k, _ := c.ColumnByName("k")
	id, _ := c.ColumnByName("id")
	out := make([]row, c.NumRows())
	for i := range out {
		out[i] = row{k: k.Value(i), id: id.Value(i).(int64)}
	}
	return out
}

func randomRows(rng *rand.Rand, n int) []row {
	rows := make([]row, n)
	for i := range rows {
		rows[i].id = int64(i)
		if rng.Intn(10) > 0 {
			rows[i].k = int64(rng.Intn(25) - 5)
		}
	}
	rng.Shuffle(n, func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
	return rows
}

// reference sorts rows by k (per d) then id ascending
// and cuts the window [offset, offset+limit).
func reference(rows []row, d SortDesc, lim Limit) []row {
	out := slices.Clone(rows)
	slices.SortFunc(out, func(a, b row) int {
		switch {
		case a.k == nil && b.k == nil:
		case a.k == nil:
			if d.Nulls == NullsFirst {
				return -1
			}
			return 1
		case b.k == nil:
			if d.Nulls == NullsFirst {
				return 1
			}
			return -1
		default:
			if c := cmp.Compare(a.k.(int64), b.k.(int64)) * int(d.Direction); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.id, b.id)
	})
	start, end := lim.Window(len(out))
	return out[start:end]
}

func rowKeys(d SortDesc) []SortKey {
	return []SortKey{
		{Expr: eval.Col("k"), Direction: d.Direction, Nulls: d.Nulls},
		{Expr: eval.Col("id"), Direction: Ascending},
	}
}

// feed pushes rows into s split into chunks of random size.
func feed(t *testing.T, rng *rand.Rand, s Sorter, rows []row, maxChunk int) {
	t.Helper()
	for len(rows) > 0 {
		n := min(1+rng.Intn(maxChunk), len(rows))
		require.NoError(t, s.Update(makeChunk(rows[:n])))
		rows = rows[n:]
	}
}

func drain(t *testing.T, s interface {
	Next() (*chunk.Chunk, bool, error)
}) []row {
	t.Helper()
	out := []row{}
	for {
		c, eos, err := s.Next()
		require.NoError(t, err)
		if eos {
			require.Nil(t, c)
			return out
		}
		require.Positive(t, c.NumRows())
		out = append(out, readRows(c)...)
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSorter(t *testing.T, cfg Config, keys []SortKey, opts ...Option) Sorter {
	t.Helper()
	s, err := New(cfg, keys, append(opts, WithLogger(quietLogger()))...)
	require.NoError(t, err)
	return s
}

func ints(vals ...any) []any { return vals }

func sortSingle(t *testing.T, cfg Config, key SortKey, chunks ...[]any) []any {
	t.Helper()
	s := newSorter(t, cfg, []SortKey{key})
	for _, vals := range chunks {
		require.NoError(t, s.Update(chunk.MustNew([]string{"x"}, []chunk.Column{int64Col(vals...)})))
	}
	require.NoError(t, s.Done())
	var out []any
	for {
		c, eos, err := s.Next()
		require.NoError(t, err)
		if eos {
			return out
		}
		for i := 0; i < c.NumRows(); i++ {
			out = append(out, c.Column(0).Value(i))
		}
	}
}

func TestScenarios(t *testing.T) {
	full := DefaultConfig()
	topn := func(limit, offset int) Config {
		cfg := DefaultConfig()
		cfg.TopN = true
		cfg.Limit = limit
		cfg.Offset = offset
		return cfg
	}
	ascFirst := SortKey{Expr: eval.Col("x"), Direction: Ascending, Nulls: NullsFirst}
	ascLast := SortKey{Expr: eval.Col("x"), Direction: Ascending, Nulls: NullsLast}

	testcases := []struct {
		name   string
		cfg    Config
		key    SortKey
		chunks [][]any
		want   []any
	}{
		{"single chunk", full, ascFirst, [][]any{ints(3, 1, 2)}, ints(int64(1), int64(2), int64(3))},
		{"nulls first", full, ascFirst, [][]any{ints(nil, 1, 2)}, ints(nil, int64(1), int64(2))},
		{"nulls last", full, ascLast, [][]any{ints(nil, 1, 2)}, ints(int64(1), int64(2), nil)},
		{"limit offset topn", topn(2, 1), ascFirst, [][]any{ints(5, 4, 3, 2, 1)}, ints(int64(2), int64(3))},
		{"limit offset full", func() Config { c := topn(2, 1); c.TopN = false; return c }(), ascFirst,
			[][]any{ints(5, 4, 3, 2, 1)}, ints(int64(2), int64(3))},
		{"two chunks", full, ascFirst, [][]any{ints(5, 1, 9), ints(3, 7, 2)},
			ints(int64(1), int64(2), int64(3), int64(5), int64(7), int64(9))},
		{"two chunks topn", topn(4, 0), ascFirst, [][]any{ints(5, 1, 9), ints(3, 7, 2)},
			ints(int64(1), int64(2), int64(3), int64(5))},
		{"offset past end", topn(3, 10), ascFirst, [][]any{ints(1, 2)}, nil},
		{"limit zero", topn(0, 0), ascFirst, [][]any{ints(1, 2)}, nil},
		{"no input", full, ascFirst, nil, nil},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, sortSingle(t, tc.cfg, tc.key, tc.chunks...))
		})
	}
}

func TestStrategySelection(t *testing.T) {
	keys := []SortKey{asc("x")}
	cfg := DefaultConfig()
	s := newSorter(t, cfg, keys)
	assert.IsType(t, &FullSorter{}, s)

	cfg.TopN = true
	s = newSorter(t, cfg, keys)
	assert.IsType(t, &FullSorter{}, s, "no limit")

	cfg.Limit = 1000
	cfg.Offset = 24
	s = newSorter(t, cfg, keys)
	assert.IsType(t, &TopNSorter{}, s)

	cfg.Offset = 25
	s = newSorter(t, cfg, keys)
	assert.IsType(t, &FullSorter{}, s, "over the heap sorter limit")

	_, err := New(cfg, nil)
	assert.Error(t, err)
	cfg.BatchSize = 0
	_, err = New(cfg, keys)
	assert.Error(t, err)
}

// TestSortMatchesReference checks global order and
// OFFSET/LIMIT against a brute-force sort.
func TestSortMatchesReference(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iter := 0; iter < 300; iter++ {
		d := SortDesc{Direction: Direction(1 - 2*rng.Intn(2)), Nulls: NullsOrder(rng.Intn(2))}
		cfg := DefaultConfig()
		cfg.BatchSize = 1 + rng.Intn(50)
		cfg.TopNBufferRows = 1 + rng.Intn(64)
		cfg.Parallelism = 1 + rng.Intn(4)
		switch rng.Intn(3) {
		case 1:
			cfg.TopN = true
			fallthrough
		case 2:
			cfg.Limit = rng.Intn(40)
			cfg.Offset = rng.Intn(20)
		}
		rows := randomRows(rng, rng.Intn(400))
		t.Run(fmt.Sprintf("%d/%s/topn=%v/limit=%d/offset=%d", iter, d, cfg.TopN, cfg.Limit, cfg.Offset), func(t *testing.T) {
			s := newSorter(t, cfg, rowKeys(d))
			feed(t, rng, s, rows, 50)
			require.NoError(t, s.Done())
			want := reference(rows, d, cfg.limit())
			assert.Equal(t, len(want), s.OutputRows())
			assert.Equal(t, want, drain(t, s))
		})
	}
}

func TestDoneIdempotent(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	rows := randomRows(rng, 200)
	d := SortDesc{Direction: Descending, Nulls: NullsFirst}
	for _, topn := range []bool{false, true} {
		t.Run(fmt.Sprintf("topn=%v", topn), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.TopN = topn
			cfg.Limit = 30
			cfg.Offset = 5
			cfg.BatchSize = 8
			cfg.TopNBufferRows = 16
			s := newSorter(t, cfg, rowKeys(d))
			feed(t, rng, s, rows, 20)
			require.NoError(t, s.Done())
			runs := s.SortedRuns()
			require.NoError(t, s.Done())
			require.NoError(t, s.Done())
			assert.Equal(t, runs, s.SortedRuns())
			assert.Equal(t, reference(rows, d, cfg.limit()), drain(t, s))
		})
	}
}

func TestStateMachine(t *testing.T) {
	for _, cfg := range []Config{
		DefaultConfig(),
		{TopN: true, Limit: 3, BatchSize: 2, Parallelism: 1, TopNBufferRows: 4, HeapSorterLimit: 10},
	} {
		t.Run(fmt.Sprintf("topn=%v", cfg.TopN), func(t *testing.T) {
			s := newSorter(t, cfg, rowKeys(SortDesc{Direction: Ascending}))
			assert.Panics(t, func() { s.Next() })
			assert.Panics(t, func() { s.SortedRuns() })
			assert.Zero(t, s.OutputRows())

			require.NoError(t, s.Update(makeChunk([]row{{k: int64(2), id: 0}})))
			require.NoError(t, s.Done())
			assert.ErrorIs(t, s.Update(makeChunk([]row{{k: int64(1), id: 1}})), ErrAlreadyDone)
			assert.Equal(t, []row{{k: int64(2), id: 0}}, drain(t, s))

			// exhausted sorters keep reporting eos
			c, eos, err := s.Next()
			assert.Nil(t, c)
			assert.True(t, eos)
			assert.NoError(t, err)
		})
	}
}

func TestUpdateFailureKeepsState(t *testing.T) {
	boom := errors.New("boom")
	fail := false
	key := eval.Func("k?", func(c *chunk.Chunk) (chunk.Column, error) {
		if fail {
			return nil, boom
		}
		col, _ := c.ColumnByName("k")
		return col, nil
	})
	keys := []SortKey{{Expr: key, Direction: Ascending}, {Expr: eval.Col("id"), Direction: Ascending}}
	d := SortDesc{Direction: Ascending}

	for _, topn := range []bool{false, true} {
		t.Run(fmt.Sprintf("topn=%v", topn), func(t *testing.T) {
			rng := rand.New(rand.NewSource(11))
			cfg := DefaultConfig()
			cfg.TopN = topn
			cfg.Limit = 20
			cfg.TopNBufferRows = 8
			cfg.MaxBufferedRows = 1000
			s := newSorter(t, cfg, keys)
			rows := randomRows(rng, 300)
			fail = false
			feed(t, rng, s, rows[:150], 10)
			before := s.Profile().InputRows

			fail = true
			err := s.Update(makeChunk(rows[150:160]))
			var ee *EvaluationError
			require.ErrorAs(t, err, &ee)
			assert.ErrorIs(t, err, boom)
			fail = false

			other := chunk.MustNew([]string{"k", "id"}, []chunk.Column{
				chunk.NewVector(chunk.String, make([]string, 2), nil),
				chunk.NewVector(chunk.Int64, make([]int64, 2), nil),
			})
			assert.ErrorIs(t, s.Update(other), ErrTypeMismatch)

			renamed := chunk.MustNew([]string{"k", "row"}, makeChunk(rows[:1]).Columns())
			assert.ErrorIs(t, s.Update(renamed), ErrTypeMismatch)

			huge := make([]row, 1001)
			for i := range huge {
				huge[i] = row{k: int64(0), id: int64(1000 + i)}
			}
			assert.ErrorIs(t, s.Update(makeChunk(huge)), ErrAllocation)

			assert.Equal(t, before, s.Profile().InputRows)
			feed(t, rng, s, rows[150:], 10)
			require.NoError(t, s.Done())
			assert.Equal(t, reference(rows, d, cfg.limit()), drain(t, s))
		})
	}
}

func TestFinishOnce(t *testing.T) {
	hub := rtfilter.NewHub()
	cfg := DefaultConfig()
	cfg.TopN = true
	cfg.Limit = 5
	cfg.TopNBufferRows = 10
	s := newSorter(t, cfg, rowKeys(SortDesc{Direction: Ascending, Nulls: NullsLast}), WithFilterHub(hub), WithName("finish"))
	rng := rand.New(rand.NewSource(5))
	rows := randomRows(rng, 100)
	for i := range rows {
		rows[i].k = int64(rng.Intn(1000))
	}
	feed(t, rng, s, rows, 10)
	require.NotEmpty(t, hub.Lookup("k"), "filter published once the limit is reached")
	assert.False(t, s.SinkComplete())

	var wg sync.WaitGroup
	errs := make([]error, 16)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = s.Finish()
		}()
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.True(t, s.SinkComplete())
	assert.Empty(t, hub.Lookup("k"), "filters withdrawn on finish")
	assert.EqualValues(t, 100, s.Profile().InputRows)
	assert.EqualValues(t, 5, s.Profile().OutputRows)
	assert.Equal(t, reference(rows, SortDesc{Direction: Ascending, Nulls: NullsLast}, cfg.limit()), drain(t, s))
}

// TestRuntimeFilterSound checks that no filter published while
// rows arrive ever rejects a row of the final result.
func TestRuntimeFilterSound(t *testing.T) {
	rng := rand.New(rand.NewSource(99))
	for iter := 0; iter < 50; iter++ {
		d := SortDesc{Direction: Direction(1 - 2*rng.Intn(2)), Nulls: NullsOrder(rng.Intn(2))}
		cfg := DefaultConfig()
		cfg.TopN = true
		cfg.Limit = 1 + rng.Intn(30)
		cfg.Offset = rng.Intn(10)
		cfg.TopNBufferRows = 1 + rng.Intn(40)
		rows := randomRows(rng, 50+rng.Intn(300))
		want := reference(rows, d, Limit{Limit: cfg.Offset + cfg.Limit})

		s := newSorter(t, cfg, rowKeys(d))
		for rest := rows; len(rest) > 0; {
			n := min(1+rng.Intn(20), len(rest))
			require.NoError(t, s.Update(makeChunk(rest[:n])))
			rest = rest[n:]
			for _, f := range s.RuntimeFilters() {
				for _, r := range want {
					require.True(t, f.Test(r.k), "filter %s rejects %v", f, r)
				}
			}
		}
		require.NoError(t, s.Done())
		assert.Equal(t, want[min(cfg.Offset, len(want)):], drain(t, s))
	}
}

func TestFullSorterHasNoFilters(t *testing.T) {
	s := newSorter(t, DefaultConfig(), rowKeys(SortDesc{Direction: Ascending}))
	require.NoError(t, s.Update(makeChunk([]row{{k: int64(1)}})))
	assert.Nil(t, s.RuntimeFilters())
}

func TestTopNPrunes(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TopN = true
	cfg.Limit = 10
	cfg.TopNBufferRows = 10
	s := newSorter(t, cfg, rowKeys(SortDesc{Direction: Ascending}))
	var rows []row
	for i := 0; i < 1000; i++ {
		rows = append(rows, row{k: int64(1000 - i), id: int64(i)})
	}
	// ascending input: once the first 10 rows are merged
	// every later row sorts after the last admitted one
	slices.Reverse(rows)
	for i := 0; i < len(rows); i += 10 {
		require.NoError(t, s.Update(makeChunk(rows[i:i+10])))
	}
	require.NoError(t, s.Done())
	assert.EqualValues(t, 990, s.Profile().PrunedRows)
	assert.Less(t, s.MemUsage(), int64(1000*16))
	assert.Equal(t, rows[:10], drain(t, s))
}

func TestSortedRuns(t *testing.T) {
	rng := rand.New(rand.NewSource(21))
	d := SortDesc{Direction: Ascending, Nulls: NullsLast}
	rows := randomRows(rng, 500)

	testcases := []struct {
		name string
		cfg  func(*Config)
	}{
		{"full", func(*Config) {}},
		{"full window", func(c *Config) { c.Limit = 77; c.Offset = 13 }},
		{"topn", func(c *Config) { c.TopN = true; c.Limit = 40; c.Offset = 3 }},
	}
	for _, tc := range testcases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.BatchSize = 32
			cfg.TopNBufferRows = 50
			tc.cfg(&cfg)
			s := newSorter(t, cfg, rowKeys(d))
			feed(t, rng, s, rows, 60)
			require.NoError(t, s.Done())
			want := reference(rows, d, cfg.limit())

			runs := s.SortedRuns()
			assert.Equal(t, len(want), runs.NumRows())
			var got []row
			for _, c := range runs.Chunks() {
				got = append(got, readRows(c)...)
			}
			assert.Equal(t, want, got)
			for _, r := range runs {
				require.Len(t, r.OrderBy, 2)
				assert.LessOrEqual(t, r.NumRows(), max(cfg.BatchSize, cfg.Offset+cfg.Limit))
			}
			// runs do not consume the Next cursor
			assert.Equal(t, want, drain(t, s))
		})
	}
}

func TestSingleSegmentRunIsView(t *testing.T) {
	c := makeChunk([]row{{k: int64(3), id: 0}, {k: int64(1), id: 1}, {k: int64(2), id: 2}})
	s := newSorter(t, DefaultConfig(), rowKeys(SortDesc{Direction: Ascending}))
	require.NoError(t, s.Update(c))
	require.NoError(t, s.Done())
	runs := s.SortedRuns()
	require.Len(t, runs, 1)
	assert.Same(t, runs[0].Chunk, runs[0].Materialize())
}

func TestMergeRuns(t *testing.T) {
	rng := rand.New(rand.NewSource(77))
	d := SortDesc{Direction: Descending, Nulls: NullsFirst}
	rows := randomRows(rng, 700)

	for _, topn := range []bool{false, true} {
		t.Run(fmt.Sprintf("topn=%v", topn), func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.BatchSize = 25
			cfg.TopNBufferRows = 30
			if topn {
				cfg.TopN = true
				cfg.Limit = 50
			}
			// three sorters over disjoint parts of the input
			var parts []SortedRuns
			for p := 0; p < 3; p++ {
				s := newSorter(t, cfg, rowKeys(d))
				feed(t, rng, s, rows[p*len(rows)/3:(p+1)*len(rows)/3], 40)
				require.NoError(t, s.Finish())
				parts = append(parts, s.SortedRuns())
			}
			parts = append(parts, nil)

			got := drain(t, MergeRuns(parts, Descs(rowKeys(d)), 64))
			want := reference(rows, d, Limit{Limit: -1})
			if topn {
				got = got[:cfg.Limit]
				want = want[:cfg.Limit]
			}
			assert.Equal(t, want, got)
		})
	}
}

func TestMergeRunsSchemaMismatch(t *testing.T) {
	keys := rowKeys(SortDesc{Direction: Ascending})
	a := makeChunk([]row{{k: int64(1)}})
	segA, err := NewSegment(keys, a)
	require.NoError(t, err)
	b := chunk.MustNew([]string{"k", "id"}, []chunk.Column{
		chunk.NewVector(chunk.String, []string{"x"}, nil),
		chunk.NewVector(chunk.Int64, []int64{0}, nil),
	})
	segB, err := NewSegment(keys, b)
	require.NoError(t, err)

	var m *Merger
	require.NotPanics(t, func() {
		m = MergeRuns([]SortedRuns{{runOf(segA, 0, 1)}, {runOf(segB, 0, 1)}}, Descs(keys), 10)
	})
	for i := 0; i < 2; i++ {
		c, eos, err := m.Next()
		assert.ErrorIs(t, err, ErrTypeMismatch)
		assert.Nil(t, c)
		assert.False(t, eos)
	}

	// same chunk schema, different key types
	strKey := []SortKey{{
		Expr: eval.Func("k", func(c *chunk.Chunk) (chunk.Column, error) {
			return chunk.NewVector(chunk.String, make([]string, c.NumRows()), nil), nil
		}),
		Direction: Ascending,
	}}
	segC, err := NewSegment(strKey, makeChunk([]row{{k: int64(2), id: 1}}))
	require.NoError(t, err)
	require.NotPanics(t, func() {
		m = MergeRuns([]SortedRuns{{runOf(segA, 0, 1)}, {runOf(segC, 0, 1)}}, Descs(keys), 10)
	})
	_, _, err = m.Next()
	assert.ErrorIs(t, err, ErrTypeMismatch)
}
