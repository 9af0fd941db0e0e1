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

package main

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/spf13/cobra"

	"github.com/SnellerInc/chunksort/chunk"
	"github.com/SnellerInc/chunksort/rtfilter"
	"github.com/SnellerInc/chunksort/sorting"
)

type sortOptions struct {
	schema    string
	orderBy   string
	chunkRows int
	header    bool
	output    string
	filters   bool
	runs      bool
	stats     bool
}

type memStats struct {
	mallocs uint64 // runtime.MemStats.Mallocs
	bytes   uint64 // runtime.MemStats.TotalAlloc
}

func (m *memStats) Start() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	m.mallocs = stats.Mallocs
	m.bytes = stats.TotalAlloc
}

func (m *memStats) Stop() {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)
	m.mallocs = stats.Mallocs - m.mallocs
	m.bytes = stats.TotalAlloc - m.bytes
}

func formatSize(size uint64) string {
	res := fmt.Sprintf("%d B", size)
	if size > 1024*1024*1024 {
		res += fmt.Sprintf(" (%.2f GB)", float64(size)/(1024*1024*1024))
	} else if size > 1024*1024 {
		res += fmt.Sprintf(" (%.2f MB)", float64(size)/(1024*1024))
	} else if size > 1024 {
		res += fmt.Sprintf(" (%.2f kB)", float64(size)/1024)
	}
	return res
}

// entry point for 'chunksort sort'
func newSortCmd(root *rootOptions) *cobra.Command {
	o := &sortOptions{}
	cmd := &cobra.Command{
		Use:   "sort [file]",
		Short: "Sort CSV rows read from a file or stdin",
		Long: `Sort CSV rows read from a file (optionally zstd-compressed,
with a .zst suffix) or from stdin, and write them as CSV.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.effectiveConfig(cmd)
			if err != nil {
				return err
			}
			in := cmd.InOrStdin()
			name := "-"
			if len(args) == 1 && args[0] != "-" {
				name = args[0]
				f, err := os.Open(name)
				if err != nil {
					return err
				}
				defer f.Close()
				in = f
			}
			if strings.HasSuffix(name, ".zst") {
				dec, err := zstd.NewReader(in)
				if err != nil {
					return err
				}
				defer dec.Close()
				in = dec
			}
			out := cmd.OutOrStdout()
			if o.output != "" {
				f, err := os.Create(o.output)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return o.run(root.logger.With(slog.String("input", name)), cfg, in, out, cmd.ErrOrStderr())
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&o.schema, "schema", "", `column names and types, e.g. "id:int64,name:string"`)
	flags.StringVar(&o.orderBy, "order-by", "", `ORDER BY list, e.g. "id desc nulls last, name"`)
	flags.IntVar(&o.chunkRows, "chunk-rows", 1024, "rows per input chunk")
	flags.BoolVar(&o.header, "header", false, "skip the first input line")
	flags.StringVarP(&o.output, "output", "o", "", "output file (default stdout)")
	flags.BoolVar(&o.filters, "filters", false, "print the runtime filters to stderr")
	flags.BoolVar(&o.runs, "runs", false, "write the output from the sorted runs and print their layout to stderr")
	flags.BoolVarP(&o.stats, "stats", "t", false, "print execution time and allocations to stderr")
	cobra.CheckErr(cmd.MarkFlagRequired("schema"))
	cobra.CheckErr(cmd.MarkFlagRequired("order-by"))
	return cmd
}

func (o *sortOptions) run(logger *slog.Logger, cfg sorting.Config, in io.Reader, out, stderr io.Writer) error {
	if o.chunkRows <= 0 {
		return fmt.Errorf("invalid chunk-rows %d", o.chunkRows)
	}
	names, types, err := parseSchema(o.schema)
	if err != nil {
		return err
	}
	keys, err := parseOrderBy(o.orderBy)
	if err != nil {
		return err
	}

	startTime := time.Now()
	var stats memStats
	stats.Start()

	hub := rtfilter.NewHub()
	s, err := sorting.New(cfg, keys,
		sorting.WithLogger(logger),
		sorting.WithName("chunksort"),
		sorting.WithFilterHub(hub))
	if err != nil {
		return err
	}
	pruned := 0
	rd := newChunkReader(in, names, types, o.chunkRows, o.header)
	for {
		c, err := rd.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		c, n, err := prune(hub, keys[0], c)
		if err != nil {
			return err
		}
		pruned += n
		if err := s.Update(c); err != nil {
			return err
		}
	}
	if err := s.Finish(); err != nil {
		return err
	}
	if o.filters {
		for _, f := range s.RuntimeFilters() {
			fmt.Fprintf(stderr, "filter %s: %s\n", keys[0].Expr, f)
		}
	}
	logger.Debug("input pruned by runtime filters", slog.Int("rows", pruned))

	w := csv.NewWriter(out)
	if o.runs {
		runs := s.SortedRuns()
		for i := range runs {
			fmt.Fprintf(stderr, "run %d: rows [%d, %d) of %d\n",
				i, runs[i].Start, runs[i].End, runs[i].Chunk.NumRows())
			if err := writeChunk(w, runs[i].Materialize()); err != nil {
				return err
			}
		}
	} else {
		for {
			c, eos, err := s.Next()
			if err != nil {
				return err
			}
			if c != nil {
				if err := writeChunk(w, c); err != nil {
					return err
				}
			}
			if eos {
				break
			}
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return err
	}

	stats.Stop()
	if o.stats {
		p := s.Profile()
		fmt.Fprintf(stderr, "execution time: %v\n", time.Since(startTime))
		fmt.Fprintf(stderr, "build: %v, sort: %v, merge: %v, output: %v\n",
			p.BuildTime, p.SortTime, p.MergeTime, p.OutputTime)
		fmt.Fprintf(stderr, "rows in: %d, pruned: %d, out: %d\n",
			p.InputRows, p.PrunedRows+int64(pruned), p.OutputRows)
		fmt.Fprintf(stderr, "allocated memory: %s, allocations: %d\n",
			formatSize(stats.bytes), stats.mallocs)
	}
	return nil
}

// prune drops the rows of c that the published filters
// on the first sort key rule out. It returns the number
// of rows dropped.
func prune(hub *rtfilter.Hub, key sorting.SortKey, c *chunk.Chunk) (*chunk.Chunk, int, error) {
	column := key.Expr.String()
	if len(hub.Lookup(column)) == 0 {
		return c, 0, nil
	}
	col, err := key.Expr.Eval(c)
	if err != nil {
		return nil, 0, err
	}
	keep := hub.Prune(column, col)
	n := int(keep.GetCardinality())
	if n == c.NumRows() {
		return c, 0, nil
	}
	idx := make([]int, 0, n)
	it := keep.Iterator()
	for it.HasNext() {
		idx = append(idx, int(it.Next()))
	}
	return c.Gather(idx), c.NumRows() - n, nil
}
