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

package chunk

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Builder accumulates values for one column.
type Builder interface {
	Type() Type
	Len() int
	// Append adds one value; v must have the Go type
	// backing the column (see NewBuilder), or be nil for NULL.
	Append(v any) error
	AppendNull()
	// Build returns the column and resets the builder.
	Build() Column
}

type vectorBuilder[T Primitive] struct {
	typ   Type
	data  []T
	nulls []bool
}

// NewBuilder returns a builder for a column of type t.
//
// Go types per column type: Bool and Uint8 use uint8, Date
// uses int32, Timestamp uses int64; all other types use the
// Go type of the same name.
func NewBuilder(t Type) Builder {
	switch t {
	case Bool, Uint8:
		return &vectorBuilder[uint8]{typ: t}
	case Int8:
		return &vectorBuilder[int8]{typ: t}
	case Int16:
		return &vectorBuilder[int16]{typ: t}
	case Int32, Date:
		return &vectorBuilder[int32]{typ: t}
	case Int64, Timestamp:
		return &vectorBuilder[int64]{typ: t}
	case Uint16:
		return &vectorBuilder[uint16]{typ: t}
	case Uint32:
		return &vectorBuilder[uint32]{typ: t}
	case Uint64:
		return &vectorBuilder[uint64]{typ: t}
	case Float32:
		return &vectorBuilder[float32]{typ: t}
	case Float64:
		return &vectorBuilder[float64]{typ: t}
	case String:
		return &vectorBuilder[string]{typ: t}
	}
	panic(fmt.Sprintf("chunk.NewBuilder: unsupported type %s", t))
}

func (b *vectorBuilder[T]) Type() Type { return b.typ }
func (b *vectorBuilder[T]) Len() int   { return len(b.data) }

func (b *vectorBuilder[T]) Append(v any) error {
	if v == nil {
		b.AppendNull()
		return nil
	}
	x, ok := v.(T)
	if !ok {
		return fmt.Errorf("cannot append %T to %s column", v, b.typ)
	}
	b.data = append(b.data, x)
	if b.nulls != nil {
		b.nulls = append(b.nulls, false)
	}
	return nil
}

func (b *vectorBuilder[T]) AppendNull() {
	if b.nulls == nil {
		b.nulls = make([]bool, len(b.data), cap(b.data))
	}
	var zero T
	b.data = append(b.data, zero)
	b.nulls = append(b.nulls, true)
}

func (b *vectorBuilder[T]) Build() Column {
	v := NewVector(b.typ, b.data, b.nulls)
	b.data, b.nulls = nil, nil
	return v
}

// ParseValue converts the textual form of a value of type t
// into the Go value accepted by a Builder for t.
// The empty string and (case-insensitive) "null" parse as NULL.
func ParseValue(t Type, s string) (any, error) {
	if s == "" || strings.EqualFold(s, "null") {
		return nil, nil
	}
	var (
		v   any
		err error
	)
	switch t {
	case Bool:
		var b bool
		b, err = strconv.ParseBool(s)
		if b {
			v = uint8(1)
		} else {
			v = uint8(0)
		}
	case Int8, Int16, Int32, Int64:
		var i int64
		i, err = strconv.ParseInt(s, 10, bits(t))
		v = narrowInt(t, i)
	case Uint8, Uint16, Uint32, Uint64:
		var u uint64
		u, err = strconv.ParseUint(s, 10, bits(t))
		v = narrowUint(t, u)
	case Float32:
		var f float64
		f, err = strconv.ParseFloat(s, 32)
		v = float32(f)
	case Float64:
		v, err = strconv.ParseFloat(s, 64)
	case String:
		v = s
	case Date:
		var d time.Time
		d, err = time.Parse(time.DateOnly, s)
		v = int32(d.Unix() / 86400)
	case Timestamp:
		var ts time.Time
		ts, err = time.Parse(time.RFC3339Nano, s)
		v = ts.UnixMicro()
	default:
		return nil, fmt.Errorf("cannot parse values of type %s", t)
	}
	if err != nil {
		return nil, fmt.Errorf("parsing %q as %s: %w", s, t, err)
	}
	return v, nil
}

func bits(t Type) int {
	switch t {
	case Int8, Uint8:
		return 8
	case Int16, Uint16:
		return 16
	case Int32, Uint32:
		return 32
	}
	return 64
}

func narrowInt(t Type, i int64) any {
	switch t {
	case Int8:
		return int8(i)
	case Int16:
		return int16(i)
	case Int32:
		return int32(i)
	}
	return i
}

func narrowUint(t Type, u uint64) any {
	switch t {
	case Uint8:
		return uint8(u)
	case Uint16:
		return uint16(u)
	case Uint32:
		return uint32(u)
	}
	return u
}

// FormatValue renders a value returned by Column.Value.
// NULL renders as the empty string.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float32:
		return strconv.FormatFloat(float64(x), 'g', -1, 32)
	case float64:
		return strconv.FormatFloat(x, 'g', -1, 64)
	}
	return fmt.Sprint(v)
}
