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
	"strings"
)

// Type is the runtime type of a column.
type Type uint8

const (
	Bool Type = iota // stored as uint8 (0 or 1)
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	Float32
	Float64
	String
	Date      // days since the unix epoch, stored as int32
	Timestamp // microseconds since the unix epoch, stored as int64
)

var typeNames = [...]string{
	Bool:      "bool",
	Int8:      "int8",
	Int16:     "int16",
	Int32:     "int32",
	Int64:     "int64",
	Uint8:     "uint8",
	Uint16:    "uint16",
	Uint32:    "uint32",
	Uint64:    "uint64",
	Float32:   "float32",
	Float64:   "float64",
	String:    "string",
	Date:      "date",
	Timestamp: "timestamp",
}

func (t Type) String() string {
	if int(t) < len(typeNames) {
		return typeNames[t]
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// ParseType converts a (case-insensitive) type name into a Type.
func ParseType(name string) (Type, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i := range typeNames {
		if typeNames[i] == n {
			return Type(i), nil
		}
	}
	switch n {
	case "int", "bigint":
		return Int64, nil
	case "double":
		return Float64, nil
	case "varchar", "text":
		return String, nil
	case "boolean":
		return Bool, nil
	}
	return 0, fmt.Errorf("unknown column type %q", name)
}

// TypeMismatchError is the panic value used when
// two columns of incompatible runtime types meet
// in a comparison, a gather or a filter.
//
// A mismatch is a programming error in the caller,
// never a property of the data.
type TypeMismatchError struct {
	Op        string
	Want, Got Type
}

func (e *TypeMismatchError) Error() string {
	return fmt.Sprintf("%s: type mismatch: want %s, got %s", e.Op, e.Want, e.Got)
}
