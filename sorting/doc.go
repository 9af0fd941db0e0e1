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

/*
Package sorting implements the `ORDER BY` operator of a
columnar execution engine.


Overview

Rows arrive in chunks. Every chunk is paired with the values
of the sort keys evaluated over it (a Segment). Keys may be
ordered 'ASC' or 'DESC' and place NULLs first or last, each
key independently of the others.

Rows are compared key by key. For each key the column
comparison places NULLs low or high so that, once the result
is negated for 'DESC', the NULLs land where the key asks for.
Floating point NaN sorts below every other number.

Rows that are equal on every key come out in no particular
order unless the keys are unique.


Design

A Sorter is used in three steps:

 1. Update is called for every input chunk,
 2. Done finalizes the order,
 3. Next (or SortedRuns) returns the result.

There are two strategies, picked by New:

1. full sorting (SELECT * FROM users ORDER BY city, surname, name)
buffers every chunk; Done sorts the chunks in parallel and merges
them with a heap. OFFSET only moves the output cursor.

2. Top-N sorting (SELECT * FROM table ORDER BY column LIMIT value)
keeps only the first OFFSET+LIMIT rows. Incoming chunks are
buffered and merged into a sorted segment of OFFSET+LIMIT rows.
Before the merge, Segment.FilterArray classifies each buffered
row against the first and the last row of that segment, so rows
that can't enter the result are dropped without being sorted.

The Top-N sorter also derives a runtime filter from its last
admitted row: upstream stages may use it to skip rows that
could never be admitted.

SortedRuns returns the result without concatenating it into
one chunk; MergeRuns merges the runs of several sorters that
worked on parts of the same input.
*/
package sorting
