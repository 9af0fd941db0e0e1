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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/SnellerInc/chunksort/chunk"
	"github.com/SnellerInc/chunksort/rtfilter"
)

// Sorter is an ORDER BY operator.
//
// A sorter is driven by a single goroutine: Update is called
// for every input chunk, then Done, then Next or SortedRuns
// to read the result. Finish is the only method that may be
// called from several goroutines at once.
type Sorter interface {
	// Update adds a chunk to the sorter. If it fails,
	// the sorter is left as it was before the call.
	Update(c *chunk.Chunk) error
	// Done finalizes the ordering. Calls after
	// the first one have no effect.
	Done() error
	// Next returns the next batch of sorted rows.
	// Once every row has been returned it returns
	// a nil chunk and eos == true.
	Next() (c *chunk.Chunk, eos bool, err error)
	// SortedRuns returns the complete output as
	// an ordered sequence of runs.
	SortedRuns() SortedRuns
	// RuntimeFilters returns the filters that describe
	// the rows that may still enter the output.
	RuntimeFilters() []rtfilter.Filter
	// OutputRows returns the number of rows that the
	// sorter outputs in total once Done has been called.
	OutputRows() int
	// MemUsage returns the memory held by buffered rows.
	MemUsage() int64
	// Finish marks the input as complete. It runs Done,
	// records telemetry and releases filters exactly
	// once; later or concurrent calls return nil.
	Finish() error
	// SinkComplete reports whether Finish has been called.
	SinkComplete() bool
	Profile() *Profile
}

// Option configures a sorter.
type Option func(*sorterBase)

// WithLogger sets the logger of the sorter.
func WithLogger(l *slog.Logger) Option {
	return func(b *sorterBase) { b.logger = l }
}

// WithName names the sorter in log messages.
func WithName(name string) Option {
	return func(b *sorterBase) { b.name = name }
}

// WithFilterHub makes the sorter publish its runtime
// filters to h under the text of the first sort key.
func WithFilterHub(h *rtfilter.Hub) Option {
	return func(b *sorterBase) { b.hub = h }
}

// New returns a sorter ordering rows by keys.
//
// The Top-N strategy is picked when cfg.TopN is set and
// OFFSET+LIMIT is at most cfg.HeapSorterLimit; any other
// configuration sorts every row.
func New(cfg Config, keys []SortKey, opts ...Option) (Sorter, error) {
	if len(keys) == 0 {
		return nil, errors.New("sorting: no sort keys")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("sorting: %w", err)
	}
	if cfg.useTopN() {
		t := &TopNSorter{}
		t.init("topn", cfg, keys, opts)
		t.keep = t.limit.Keep()
		return t, nil
	}
	f := &FullSorter{}
	f.init("full", cfg, keys, opts)
	return f, nil
}

// sorterBase holds the state shared by both strategies.
type sorterBase struct {
	id       uuid.UUID
	name     string
	strategy string
	logger   *slog.Logger
	hub      *rtfilter.Hub

	keys  []SortKey
	descs SortDescs
	cfg   Config
	limit Limit

	names    []string
	types    []chunk.Type
	keyTypes []chunk.Type
	done     bool
	finished atomic.Bool
	profile  Profile

	// output time already sent to the phase histogram
	outputRecorded bool
	recordedOutput time.Duration
}

func (b *sorterBase) init(strategy string, cfg Config, keys []SortKey, opts []Option) {
	b.id = uuid.New()
	b.name = "sort"
	b.strategy = strategy
	b.logger = slog.Default()
	b.keys = keys
	b.descs = Descs(keys)
	b.cfg = cfg
	b.limit = cfg.limit()
	for _, opt := range opts {
		opt(b)
	}
	b.logger.Debug("sorter created",
		slog.String("sorter", b.name),
		slog.String("id", b.id.String()),
		slog.String("strategy", b.strategy),
		slog.String("keys", keysString(keys)),
		slog.Int("limit", b.limit.Limit),
		slog.Int("offset", b.limit.Offset))
}

// segment evaluates the sort keys over c and checks that
// buffered+c.NumRows() rows fit. Nothing is modified.
func (b *sorterBase) segment(c *chunk.Chunk, buffered int) (*Segment, error) {
	if b.done {
		return nil, ErrAlreadyDone
	}
	if b.names != nil && !b.sameSchema(c) {
		return nil, fmt.Errorf("%w: chunk columns %v do not match %v", ErrTypeMismatch, c.Names(), b.names)
	}
	start := time.Now()
	defer func() { b.profile.BuildTime += time.Since(start) }()
	if capRows := b.cfg.MaxBufferedRows; capRows > 0 && buffered+c.NumRows() > capRows {
		return nil, fmt.Errorf("%w: %d rows buffered, %d more exceed the limit of %d",
			ErrAllocation, buffered, c.NumRows(), capRows)
	}
	seg, err := NewSegment(b.keys, c)
	if err != nil {
		return nil, err
	}
	if b.keyTypes != nil {
		if err := checkKeyTypes(b.keyTypes, seg); err != nil {
			return nil, err
		}
	}
	return seg, nil
}

// admit records that seg has been accepted.
func (b *sorterBase) admit(seg *Segment) {
	if b.keyTypes == nil {
		b.names = seg.Chunk.Names()
		b.types = seg.Chunk.Types()
		b.keyTypes = seg.KeyTypes()
	}
	b.profile.InputRows += int64(seg.NumRows())
}

func (b *sorterBase) sameSchema(c *chunk.Chunk) bool {
	if c.NumColumns() != len(b.names) {
		return false
	}
	for i, col := range c.Columns() {
		if c.Names()[i] != b.names[i] || col.Type() != b.types[i] {
			return false
		}
	}
	return true
}

func (b *sorterBase) mustBeDone(op string) {
	if !b.done {
		panic("sorting: " + op + " called before Done")
	}
}

// recordOutput sends the output time accumulated since the
// previous call to the phase histogram. It is called when Next
// reaches the end of the output and after SortedRuns.
func (b *sorterBase) recordOutput() {
	d := b.profile.OutputTime - b.recordedOutput
	if b.outputRecorded && d == 0 {
		return
	}
	b.outputRecorded = true
	b.recordedOutput = b.profile.OutputTime
	recordPhase(context.Background(), b.strategy, "output", d)
}

func (b *sorterBase) SinkComplete() bool { return b.finished.Load() }
func (b *sorterBase) Profile() *Profile  { return &b.profile }

func (b *sorterBase) finish(s Sorter) error {
	if !b.finished.CompareAndSwap(false, true) {
		return nil
	}
	err := s.Done()
	if b.hub != nil {
		b.hub.Withdraw(b.id)
	}
	recordProfile(context.Background(), b.strategy, &b.profile)
	if err != nil {
		b.logger.Error("sort failed",
			slog.String("sorter", b.name),
			slog.String("id", b.id.String()),
			slog.Any("error", err))
		return err
	}
	b.logger.Info("sort finished",
		slog.String("sorter", b.name),
		slog.String("id", b.id.String()),
		slog.String("strategy", b.strategy),
		slog.Int64("rows_in", b.profile.InputRows),
		slog.Int64("rows_out", b.profile.OutputRows),
		slog.Int64("rows_pruned", b.profile.PrunedRows),
		slog.Duration("build", b.profile.BuildTime),
		slog.Duration("sort", b.profile.SortTime),
		slog.Duration("merge", b.profile.MergeTime))
	return nil
}
