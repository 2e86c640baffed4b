package remote

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind is the storage type of a registry value.
type Kind string

const (
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindString Kind = "string"
)

// KindOf reports the Kind of a bool, int or string value.
func KindOf(v any) (Kind, error) {
	switch v.(type) {
	case bool:
		return KindBool, nil
	case int:
		return KindInt, nil
	case string:
		return KindString, nil
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}

// FormatValue renders v as its kind and text form, the layout used by
// storage rows.
func FormatValue(v any) (Kind, string, error) {
	switch val := v.(type) {
	case bool:
		return KindBool, strconv.FormatBool(val), nil
	case int:
		return KindInt, strconv.Itoa(val), nil
	case string:
		return KindString, val, nil
	}
	return "", "", fmt.Errorf("unsupported value type %T", v)
}

// ParseValue is the inverse of FormatValue.
func ParseValue(kind Kind, text string) (any, error) {
	switch kind {
	case KindBool:
		return strconv.ParseBool(text)
	case KindInt:
		return strconv.Atoi(text)
	case KindString:
		return text, nil
	}
	return nil, fmt.Errorf("unknown value kind %q", kind)
}

// Param is the wire form of one registry entry.
type Param struct {
	Name  string          `json:"name,omitempty"`
	Type  Kind            `json:"type"`
	Value json.RawMessage `json:"value"`
}

// EncodeParam builds the wire form of name=v.
func EncodeParam(name string, v any) (Param, error) {
	kind, err := KindOf(v)
	if err != nil {
		return Param{}, err
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return Param{}, err
	}
	return Param{Name: name, Type: kind, Value: raw}, nil
}

// Decode returns the Go value carried by p.
func (p Param) Decode() (any, error) {
	switch p.Type {
	case KindBool:
		var b bool
		err := json.Unmarshal(p.Value, &b)
		return b, err
	case KindInt:
		var i int
		err := json.Unmarshal(p.Value, &i)
		return i, err
	case KindString:
		var s string
		err := json.Unmarshal(p.Value, &s)
		return s, err
	}
	return nil, fmt.Errorf("unknown value kind %q", p.Type)
}
