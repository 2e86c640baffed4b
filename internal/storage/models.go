package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Preference is one row of the local preference table.
type Preference struct {
	Key       string
	Kind      string // "bool" or "string"
	Value     string
	UpdatedAt time.Time
}

// Parameter is one row of the registry parameter table. Name is fully
// qualified.
type Parameter struct {
	Name      string
	Kind      string // "bool", "int" or "string"
	Value     string
	UpdatedAt time.Time
}
