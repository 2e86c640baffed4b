package param

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownType is returned for a type tag outside the three supported kinds.
var ErrUnknownType = errors.New("unknown parameter type")

// Type is the declared type of a parameter.
type Type int

const (
	// Bool is stored as a boolean in both stores.
	Bool Type = iota + 1
	// IntAsString is an integer in the registry and its decimal string
	// form in the local store.
	IntAsString
	// String is stored as a string in both stores.
	String
)

func (t Type) String() string {
	switch t {
	case Bool:
		return "boolean"
	case IntAsString:
		return "int_as_string"
	case String:
		return "string"
	}
	return fmt.Sprintf("Type(%d)", int(t))
}

// Valid reports whether t is one of the declared kinds.
func (t Type) Valid() bool {
	switch t {
	case Bool, IntAsString, String:
		return true
	}
	return false
}

// UnknownTypeError names the offending tag and the parameter it was declared for.
type UnknownTypeError struct {
	Name string
	Tag  string
}

func (e *UnknownTypeError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("%v %q", ErrUnknownType, e.Tag)
	}
	return fmt.Sprintf("parameter %s: %v %q", e.Name, ErrUnknownType, e.Tag)
}

func (e *UnknownTypeError) Unwrap() error { return ErrUnknownType }

// ParseType parses an external type tag. Matching is case-insensitive and
// accepts the short aliases "bool", "int" and "integer".
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "boolean", "bool":
		return Bool, nil
	case "int_as_string", "int", "integer":
		return IntAsString, nil
	case "string":
		return String, nil
	}
	return 0, &UnknownTypeError{Tag: s}
}

func (t Type) MarshalText() ([]byte, error) {
	if !t.Valid() {
		return nil, &UnknownTypeError{Tag: t.String()}
	}
	return []byte(t.String()), nil
}

func (t *Type) UnmarshalText(b []byte) error {
	v, err := ParseType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}
