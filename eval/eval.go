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

// Package eval defines how sort-key expressions are
// evaluated against a chunk.
//
// The sorter only calls Expr.Eval; the expressions
// themselves come from whatever expression engine the
// caller uses. Col and Ordinal cover plain column keys.
package eval

import (
	"errors"
	"fmt"

	"github.com/SnellerInc/chunksort/chunk"
)

// ErrNoColumn is returned when a column reference
// cannot be resolved against a chunk.
var ErrNoColumn = errors.New("no such column")

// Expr is a sort-key expression.
type Expr interface {
	// Eval computes the expression for every row of c.
	// The returned column must have c.NumRows() rows.
	Eval(c *chunk.Chunk) (chunk.Column, error)
	String() string
}

type colRef string

// Col references a column by name.
func Col(name string) Expr { return colRef(name) }

func (r colRef) Eval(c *chunk.Chunk) (chunk.Column, error) {
	col, ok := c.ColumnByName(string(r))
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoColumn, string(r))
	}
	return col, nil
}

func (r colRef) String() string { return string(r) }

type ordinal int

// Ordinal references a column by position (zero-based).
func Ordinal(i int) Expr { return ordinal(i) }

func (o ordinal) Eval(c *chunk.Chunk) (chunk.Column, error) {
	if int(o) < 0 || int(o) >= c.NumColumns() {
		return nil, fmt.Errorf("%w: ordinal %d of %d columns", ErrNoColumn, int(o), c.NumColumns())
	}
	return c.Column(int(o)), nil
}

func (o ordinal) String() string { return fmt.Sprintf("$%d", int(o)) }

type funcExpr struct {
	name string
	fn   func(*chunk.Chunk) (chunk.Column, error)
}

// Func adapts an arbitrary evaluator into an Expr.
func Func(name string, fn func(*chunk.Chunk) (chunk.Column, error)) Expr {
	return &funcExpr{name: name, fn: fn}
}

func (f *funcExpr) Eval(c *chunk.Chunk) (chunk.Column, error) { return f.fn(c) }
func (f *funcExpr) String() string                             { return f.name }
