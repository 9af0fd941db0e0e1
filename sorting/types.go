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
	"strings"

	"github.com/SnellerInc/chunksort/eval"
)

// Direction encodes a sorting direction of column (SQL: ASC/DESC)
type Direction int

const (
	Ascending  Direction = 1  // Sort ascending
	Descending Direction = -1 // Sort descending
)

func (d Direction) String() string {
	if d == Descending {
		return "DESC"
	}
	return "ASC"
}

// NullsOrder encodes order of null values (SQL: NULL FIRST/NULLS LAST)
type NullsOrder int

const (
	NullsFirst NullsOrder = iota // Null values goes first
	NullsLast                    // Null values goes last
)

func (n NullsOrder) String() string {
	if n == NullsLast {
		return "NULLS LAST"
	}
	return "NULLS FIRST"
}

// SortDesc is the ordering of a single sort key.
type SortDesc struct {
	Direction
	Nulls NullsOrder
}

func (d SortDesc) String() string {
	return d.Direction.String() + " " + d.Nulls.String()
}

// SortDescs holds one SortDesc per sort key, in key order.
type SortDescs []SortDesc

// NullsLow tells a column comparator whether NULL must
// compare below non-NULL values of key i *before* the
// direction is applied, so that after multiplying by
// the direction NULLs end up where Nulls asks for.
func (d SortDescs) NullsLow(i int) bool {
	return (d[i].Nulls == NullsFirst) == (d[i].Direction == Ascending)
}

// SortKey represents a single entry in the 'ORDER BY' clause:
// "expression [ASC|DESC] [NULLS FIRST|NULLS LAST]"
type SortKey struct {
	Expr      eval.Expr
	Direction Direction
	Nulls     NullsOrder
}

func (k SortKey) String() string {
	return fmt.Sprintf("%s %s %s", k.Expr, k.Direction, k.Nulls)
}

// Descs extracts the orderings of keys.
// A Direction other than Descending is Ascending.
func Descs(keys []SortKey) SortDescs {
	d := make(SortDescs, len(keys))
	for i := range keys {
		dir := Ascending
		if keys[i].Direction == Descending {
			dir = Descending
		}
		d[i] = SortDesc{Direction: dir, Nulls: keys[i].Nulls}
	}
	return d
}

func keysString(keys []SortKey) string {
	s := make([]string, len(keys))
	for i := range keys {
		s[i] = keys[i].String()
	}
	return strings.Join(s, ", ")
}
