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
	"fmt"
	"os"
	"runtime"

	"sigs.k8s.io/yaml"
)

const (
	// DefaultBatchSize is the number of rows per output chunk.
	DefaultBatchSize = 4096
	// DefaultHeapSorterLimit is the largest OFFSET+LIMIT
	// for which the Top-N strategy is used.
	DefaultHeapSorterLimit = 1024
	// DefaultTopNBufferRows is the number of rows the Top-N
	// strategy buffers before merging them.
	DefaultTopNBufferRows = 8192
)

// Config describes one sort operator.
//
// Config is loaded from YAML; field names follow the json tags.
type Config struct {
	// TopN requests the bounded Top-N strategy.
	// It is only used with a LIMIT no larger than
	// HeapSorterLimit (OFFSET included).
	TopN bool `json:"topn"`
	// Limit is the LIMIT of the query; negative means none.
	Limit int `json:"limit"`
	// Offset is the OFFSET of the query.
	Offset int `json:"offset"`

	BatchSize       int `json:"batch_size"`
	Parallelism     int `json:"parallelism"`
	TopNBufferRows  int `json:"topn_buffer_rows"`
	HeapSorterLimit int `json:"heap_sorter_limit"`
	// MaxBufferedRows caps the number of rows a sorter
	// holds; 0 means no cap.
	MaxBufferedRows int `json:"max_buffered_rows"`
}

// DefaultConfig returns the configuration of an unbounded full sort.
func DefaultConfig() Config {
	return Config{
		Limit:           -1,
		BatchSize:       DefaultBatchSize,
		Parallelism:     runtime.GOMAXPROCS(0),
		TopNBufferRows:  DefaultTopNBufferRows,
		HeapSorterLimit: DefaultHeapSorterLimit,
	}
}

// LoadConfig reads a YAML configuration file.
// Fields absent from the file keep their defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	buf, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.UnmarshalStrict(buf, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks that cfg describes a usable sorter.
func (c *Config) Validate() error {
	switch {
	case c.Offset < 0:
		return fmt.Errorf("invalid offset %d", c.Offset)
	case c.BatchSize <= 0:
		return fmt.Errorf("invalid batch_size %d", c.BatchSize)
	case c.Parallelism <= 0:
		return fmt.Errorf("invalid parallelism %d", c.Parallelism)
	case c.TopNBufferRows <= 0:
		return fmt.Errorf("invalid topn_buffer_rows %d", c.TopNBufferRows)
	case c.HeapSorterLimit < 0:
		return fmt.Errorf("invalid heap_sorter_limit %d", c.HeapSorterLimit)
	case c.MaxBufferedRows < 0:
		return fmt.Errorf("invalid max_buffered_rows %d", c.MaxBufferedRows)
	}
	return nil
}

func (c *Config) limit() Limit {
	if c.Limit < 0 {
		return Limit{Limit: -1, Offset: c.Offset}
	}
	return Limit{Limit: c.Limit, Offset: c.Offset}
}

func (c *Config) useTopN() bool {
	return c.TopN && c.Limit >= 0 && c.Offset+c.Limit <= c.HeapSorterLimit
}
