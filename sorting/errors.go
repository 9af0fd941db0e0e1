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
)

var (
	// ErrAlreadyDone is returned by Update once Done has been called.
	ErrAlreadyDone = errors.New("sorting: update after done")

	// ErrTypeMismatch is returned when the sort keys of a chunk
	// do not have the types of the keys already buffered.
	ErrTypeMismatch = errors.New("sorting: sort key type mismatch")

	// ErrAllocation is returned when buffering a chunk would
	// exceed the configured row capacity of the sorter.
	ErrAllocation = errors.New("sorting: cannot buffer more rows")
)

// EvaluationError is returned when a sort-key
// expression cannot be evaluated against a chunk.
type EvaluationError struct {
	Key  int    // index of the key in the ORDER BY list
	Expr string // textual form of the expression
	Err  error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("evaluating sort key #%d (%s): %s", e.Key, e.Expr, e.Err)
}

func (e *EvaluationError) Unwrap() error { return e.Err }
