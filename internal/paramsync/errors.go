package paramsync

import (
	"errors"
	"fmt"
)

var (
	// ErrConversion marks a local int_as_string value that does not parse
	// as an integer.
	ErrConversion = errors.New("paramsync: conversion failure")
	// ErrLocalCommit marks a pull whose batched local commit was rejected.
	// The local store keeps its pre-pass state.
	ErrLocalCommit = errors.New("paramsync: local commit failed")
)

// ConversionError is reported for one entry of a push.
type ConversionError struct {
	Name  string
	Value string
	Err   error
}

func (e *ConversionError) Error() string {
	return fmt.Sprintf("converting %s value %q to integer: %v", e.Name, e.Value, e.Err)
}

func (e *ConversionError) Unwrap() error { return e.Err }

func (e *ConversionError) Is(target error) bool { return target == ErrConversion }

// EntryError ties a failure to the parameter it happened on.
type EntryError struct {
	Name string
	Err  error
}

func (e *EntryError) Error() string {
	return fmt.Sprintf("parameter %s: %v", e.Name, e.Err)
}

func (e *EntryError) Unwrap() error { return e.Err }

// EntryErrors returns the per-entry failures carried by an error returned
// from Pull or Push.
func EntryErrors(err error) []*EntryError {
	if err == nil {
		return nil
	}
	var out []*EntryError
	var walk func(error)
	walk = func(err error) {
		if ee, ok := err.(*EntryError); ok {
			out = append(out, ee)
			return
		}
		switch u := err.(type) {
		case interface{ Unwrap() []error }:
			for _, e := range u.Unwrap() {
				walk(e)
			}
		case interface{ Unwrap() error }:
			if inner := u.Unwrap(); inner != nil {
				walk(inner)
			}
		}
	}
	walk(err)
	return out
}
