package param

import (
	"errors"
	"fmt"
	"strings"
)

// Spec declares one parameter by its bare name.
type Spec struct {
	Name string `json:"name"`
	Type Type   `json:"type"`
}

// Schema is the fixed set of parameters a synchronizer moves between stores.
// The type of a name must not change for the life of a synchronizer; a
// value pushed under one type and pulled under another is undefined.
type Schema struct {
	specs []Spec
}

// NewSchema validates specs and returns an immutable Schema that keeps
// their order.
func NewSchema(specs ...Spec) (Schema, error) {
	seen := make(map[string]bool, len(specs))
	var errs []error
	for i, s := range specs {
		switch {
		case strings.TrimSpace(s.Name) == "":
			errs = append(errs, fmt.Errorf("parameter %d: name is required", i))
			continue
		case strings.Contains(s.Name, "/"):
			errs = append(errs, fmt.Errorf("parameter %s: name must be bare (no '/')", s.Name))
		case seen[s.Name]:
			errs = append(errs, fmt.Errorf("parameter %s: declared more than once", s.Name))
		}
		if !s.Type.Valid() {
			errs = append(errs, &UnknownTypeError{Name: s.Name, Tag: s.Type.String()})
		}
		seen[s.Name] = true
	}
	if len(errs) > 0 {
		return Schema{}, errors.Join(errs...)
	}
	out := make([]Spec, len(specs))
	copy(out, specs)
	return Schema{specs: out}, nil
}

// MustSchema is NewSchema for static declarations; it panics on error.
func MustSchema(specs ...Spec) Schema {
	s, err := NewSchema(specs...)
	if err != nil {
		panic(err)
	}
	return s
}

// Specs returns the declared parameters in order.
func (s Schema) Specs() []Spec {
	out := make([]Spec, len(s.specs))
	copy(out, s.specs)
	return out
}

// Len returns the number of declared parameters.
func (s Schema) Len() int { return len(s.specs) }

// Lookup returns the spec declared for name.
func (s Schema) Lookup(name string) (Spec, bool) {
	for _, sp := range s.specs {
		if sp.Name == name {
			return sp, true
		}
	}
	return Spec{}, false
}
