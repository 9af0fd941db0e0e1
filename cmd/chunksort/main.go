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

// Command chunksort sorts CSV files with the chunk sorter.
//
//	chunksort sort --schema "id:int64,name:string" --order-by "id desc nulls last, name" data.csv.zst
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	slogmulti "github.com/samber/slog-multi"
	"github.com/spf13/cobra"

	"github.com/SnellerInc/chunksort/sorting"
)

// rootOptions are the flags shared by every subcommand.
type rootOptions struct {
	verbose bool
	logFile string

	config    string
	limit     int
	offset    int
	topn      bool
	batchSize int

	logger  *slog.Logger
	closeFn func() error
}

func newRootCmd() *cobra.Command {
	o := &rootOptions{}
	root := &cobra.Command{
		Use:           "chunksort",
		Short:         "Sort columnar chunks of CSV rows",
		Long:          `Read CSV rows in chunks, order them with a full or Top-N sorter and write the sorted rows as CSV.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return o.setupLogging(cmd.ErrOrStderr())
		},
		PersistentPostRunE: func(*cobra.Command, []string) error {
			if o.closeFn != nil {
				return o.closeFn()
			}
			return nil
		},
	}
	pf := root.PersistentFlags()
	pf.BoolVarP(&o.verbose, "verbose", "v", false, "log debug messages")
	pf.StringVar(&o.logFile, "log-file", "", "also write JSON logs to this file")
	pf.StringVar(&o.config, "config", "", "YAML sorter configuration")
	pf.IntVar(&o.limit, "limit", -1, "LIMIT (negative for none)")
	pf.IntVar(&o.offset, "offset", 0, "OFFSET")
	pf.BoolVar(&o.topn, "topn", false, "use the Top-N sorter when the limit allows it")
	pf.IntVar(&o.batchSize, "batch-size", 0, "rows per output chunk (default from config)")

	root.AddCommand(newSortCmd(o), newConfigCmd(o))
	return root
}

func (o *rootOptions) setupLogging(stderr io.Writer) error {
	opts := &slog.HandlerOptions{Level: slog.LevelInfo}
	if o.verbose {
		opts.Level = slog.LevelDebug
	}
	handlers := []slog.Handler{slog.NewTextHandler(stderr, opts)}
	if o.logFile != "" {
		f, err := os.OpenFile(o.logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening log file: %w", err)
		}
		handlers = append(handlers, slog.NewJSONHandler(f, opts))
		o.closeFn = f.Close
	}
	o.logger = slog.New(slogmulti.Fanout(handlers...)).With(
		slog.Int("pid", os.Getpid()),
	)
	return nil
}

// effectiveConfig loads --config and applies the flags
// that were set explicitly on top of it.
func (o *rootOptions) effectiveConfig(cmd *cobra.Command) (sorting.Config, error) {
	cfg := sorting.DefaultConfig()
	if o.config != "" {
		var err error
		cfg, err = sorting.LoadConfig(o.config)
		if err != nil {
			return cfg, err
		}
	}
	flags := cmd.Flags()
	if flags.Changed("limit") {
		cfg.Limit = o.limit
	}
	if flags.Changed("offset") {
		cfg.Offset = o.offset
	}
	if flags.Changed("topn") {
		cfg.TopN = o.topn
	}
	if flags.Changed("batch-size") {
		cfg.BatchSize = o.batchSize
	}
	if cfg.Parallelism > runtime.GOMAXPROCS(0) {
		o.logger.Debug("parallelism above GOMAXPROCS",
			slog.Int("parallelism", cfg.Parallelism),
			slog.Int("gomaxprocs", runtime.GOMAXPROCS(0)))
	}
	return cfg, cfg.Validate()
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "chunksort: %s\n", err)
		os.Exit(1)
	}
}
