// Package storage provides the key/value capability used to persist provider
// state between runs.
package storage

import "context"

// Status distinguishes the outcomes of a read.
type Status int

const (
	// Absent means nothing is stored under the key.
	Absent Status = iota
	// Found means Value holds the stored value.
	Found
	// Unreadable means the backend failed; Err holds the cause.
	Unreadable
)

func (s Status) String() string {
	switch s {
	case Found:
		return "found"
	case Absent:
		return "absent"
	case Unreadable:
		return "unreadable"
	default:
		return "unknown"
	}
}

// Lookup is the result of Storage.Get.
type Lookup struct {
	Status Status
	Value  string
	Err    error
}

// Storage is a string key/value store.
type Storage interface {
	Get(ctx context.Context, key string) Lookup
	Set(ctx context.Context, key, value string) error
}

func found(v string) Lookup { return Lookup{Status: Found, Value: v} }

func absent() Lookup { return Lookup{Status: Absent} }

func unreadable(err error) Lookup { return Lookup{Status: Unreadable, Err: err} }
