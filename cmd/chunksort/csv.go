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
	"strconv"
	"time"

	"github.com/SnellerInc/chunksort/chunk"
)

// chunkReader turns CSV records into chunks
// of at most rows rows each.
type chunkReader struct {
	r      *csv.Reader
	names  []string
	types  []chunk.Type
	rows   int
	line   int
	header bool
}

func newChunkReader(r io.Reader, names []string, types []chunk.Type, rows int, header bool) *chunkReader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(names)
	cr.ReuseRecord = true
	return &chunkReader{r: cr, names: names, types: types, rows: rows, header: header}
}

// Next returns the next chunk, or io.EOF once
// the input is exhausted.
func (c *chunkReader) Next() (*chunk.Chunk, error) {
	if c.header {
		c.header = false
		c.line++
		if _, err := c.r.Read(); err != nil {
			return nil, err
		}
	}
	builders := make([]chunk.Builder, len(c.types))
	for i := range builders {
		builders[i] = chunk.NewBuilder(c.types[i])
	}
	n := 0
	for n < c.rows {
		rec, err := c.r.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		c.line++
		for i := range rec {
			v, err := chunk.ParseValue(c.types[i], rec[i])
			if err != nil {
				return nil, fmt.Errorf("line %d, column %s: %w", c.line, c.names[i], err)
			}
			if err := builders[i].Append(v); err != nil {
				return nil, fmt.Errorf("line %d, column %s: %w", c.line, c.names[i], err)
			}
		}
		n++
	}
	if n == 0 {
		return nil, io.EOF
	}
	cols := make([]chunk.Column, len(builders))
	for i := range builders {
		cols[i] = builders[i].Build()
	}
	return chunk.New(c.names, cols)
}

// formatValue renders row i of col the way
// chunk.ParseValue reads it back.
func formatValue(col chunk.Column, i int) string {
	v := col.Value(i)
	if v == nil {
		return ""
	}
	switch col.Type() {
	case chunk.Bool:
		return strconv.FormatBool(v.(uint8) != 0)
	case chunk.Date:
		return time.Unix(int64(v.(int32))*86400, 0).UTC().Format(time.DateOnly)
	case chunk.Timestamp:
		return time.UnixMicro(v.(int64)).UTC().Format(time.RFC3339Nano)
	}
	return chunk.FormatValue(v)
}

func writeChunk(w *csv.Writer, c *chunk.Chunk) error {
	rec := make([]string, c.NumColumns())
	for i := 0; i < c.NumRows(); i++ {
		for j := range rec {
			rec[j] = formatValue(c.Column(j), i)
		}
		if err := w.Write(rec); err != nil {
			return err
		}
	}
	return nil
}
