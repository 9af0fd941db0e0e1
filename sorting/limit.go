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

// Limit stores raw values of LIMIT and OFFSET from a query.
//
// A negative Limit means there is no LIMIT clause.
type Limit struct {
	Limit, Offset int
}

// Bounded returns true if there is a LIMIT clause.
func (l Limit) Bounded() bool { return l.Limit >= 0 }

// Window calculates the range of rows [start, end)
// that has to be actually output from a sorted
// collection of rowsCount rows.
func (l Limit) Window(rowsCount int) (start, end int) {
	start = min(max(l.Offset, 0), rowsCount)
	end = rowsCount
	if l.Bounded() && l.Limit < end-start {
		end = start + l.Limit
	}
	return start, end
}

// Keep returns the number of leading rows of the sorted
// input that can ever contribute to the output, or -1
// if every row may.
func (l Limit) Keep() int {
	if !l.Bounded() {
		return -1
	}
	return max(l.Offset, 0) + l.Limit
}
