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
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Profile holds the counters and timers of one sorter.
type Profile struct {
	BuildTime  time.Duration // evaluating sort keys
	SortTime   time.Duration // sorting segments
	MergeTime  time.Duration // merging sorted segments
	OutputTime time.Duration // materializing output

	InputRows  int64
	PrunedRows int64 // rows discarded by classification
	OutputRows int64
}

var (
	sortRowsIn     metric.Int64Counter
	sortRowsOut    metric.Int64Counter
	sortRowsPruned metric.Int64Counter
	sortPhaseTime  metric.Float64Histogram
)

func init() {
	initTelemetry()
}

func initTelemetry() {
	meter := otel.Meter("github.com/SnellerInc/chunksort/sorting")

	var err error

	sortRowsIn, err = meter.Int64Counter(
		"chunksort.sort.rows_in",
		metric.WithDescription("Number of rows pushed into sorters"),
	)
	if err != nil {
		log.Fatalf("failed to create sort.rows_in counter: %v", err)
	}

	sortRowsOut, err = meter.Int64Counter(
		"chunksort.sort.rows_out",
		metric.WithDescription("Number of rows produced by sorters"),
	)
	if err != nil {
		log.Fatalf("failed to create sort.rows_out counter: %v", err)
	}

	sortRowsPruned, err = meter.Int64Counter(
		"chunksort.sort.rows_pruned",
		metric.WithDescription("Number of rows discarded by Top-N classification"),
	)
	if err != nil {
		log.Fatalf("failed to create sort.rows_pruned counter: %v", err)
	}

	sortPhaseTime, err = meter.Float64Histogram(
		"chunksort.sort.phase_duration",
		metric.WithDescription("Time spent in each sort phase"),
		metric.WithUnit("s"),
	)
	if err != nil {
		log.Fatalf("failed to create sort.phase_duration histogram: %v", err)
	}
}

func recordProfile(ctx context.Context, strategy string, p *Profile) {
	attrs := metric.WithAttributes(attribute.String("strategy", strategy))
	sortRowsIn.Add(ctx, p.InputRows, attrs)
	sortRowsOut.Add(ctx, p.OutputRows, attrs)
	sortRowsPruned.Add(ctx, p.PrunedRows, attrs)
	recordPhase(ctx, strategy, "build", p.BuildTime)
	recordPhase(ctx, strategy, "sort", p.SortTime)
	recordPhase(ctx, strategy, "merge", p.MergeTime)
}

// recordPhase records d in the phase duration histogram.
// The output phase is recorded as output is read, the
// other phases once the sorter finishes.
func recordPhase(ctx context.Context, strategy, phase string, d time.Duration) {
	sortPhaseTime.Record(ctx, d.Seconds(), metric.WithAttributes(
		attribute.String("strategy", strategy),
		attribute.String("phase", phase),
	))
}
