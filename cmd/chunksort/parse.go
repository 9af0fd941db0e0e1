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
	"fmt"
	"strconv"
	"strings"

	"github.com/SnellerInc/chunksort/chunk"
	"github.com/SnellerInc/chunksort/eval"
	"github.com/SnellerInc/chunksort/sorting"
)

// parseSchema parses "name:type,name:type,...".
func parseSchema(text string) ([]string, []chunk.Type, error) {
	var (
		names []string
		types []chunk.Type
	)
	seen := make(map[string]bool)
	for _, field := range strings.Split(text, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		name, typ, ok := strings.Cut(field, ":")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, nil, fmt.Errorf("schema field %q: want name:type", field)
		}
		if seen[name] {
			return nil, nil, fmt.Errorf("schema field %q: duplicate column", name)
		}
		seen[name] = true
		t, err := chunk.ParseType(strings.TrimSpace(typ))
		if err != nil {
			return nil, nil, fmt.Errorf("schema field %q: %w", field, err)
		}
		names = append(names, name)
		types = append(types, t)
	}
	if len(names) == 0 {
		return nil, nil, fmt.Errorf("empty schema")
	}
	return names, types, nil
}

// parseOrderBy parses an ORDER BY list such as
//
//	id desc nulls last, name, $2 asc
//
// where $N references the N-th column (zero-based).
// NULLs sort first for ASC and last for DESC unless
// the key says otherwise.
func parseOrderBy(text string) ([]sorting.SortKey, error) {
	var keys []sorting.SortKey
	for _, item := range strings.Split(text, ",") {
		words := strings.Fields(item)
		if len(words) == 0 {
			continue
		}
		key := sorting.SortKey{Direction: sorting.Ascending, Nulls: sorting.NullsFirst}
		if col, ok := strings.CutPrefix(words[0], "$"); ok {
			n, err := strconv.Atoi(col)
			if err != nil || n < 0 {
				return nil, fmt.Errorf("order by %q: bad ordinal", item)
			}
			key.Expr = eval.Ordinal(n)
		} else {
			key.Expr = eval.Col(words[0])
		}
		rest := words[1:]
		if len(rest) > 0 {
			switch strings.ToLower(rest[0]) {
			case "asc":
				rest = rest[1:]
			case "desc":
				key.Direction = sorting.Descending
				key.Nulls = sorting.NullsLast
				rest = rest[1:]
			}
		}
		if len(rest) > 0 {
			if len(rest) != 2 || !strings.EqualFold(rest[0], "nulls") {
				return nil, fmt.Errorf("order by %q: unexpected %q", item, strings.Join(rest, " "))
			}
			switch strings.ToLower(rest[1]) {
			case "first":
				key.Nulls = sorting.NullsFirst
			case "last":
				key.Nulls = sorting.NullsLast
			default:
				return nil, fmt.Errorf("order by %q: want NULLS FIRST or NULLS LAST", item)
			}
		}
		keys = append(keys, key)
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("empty order by")
	}
	return keys, nil
}
