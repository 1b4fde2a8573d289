package domain

import "context"

// Splitter partitions a source document into independently convertible units
type Splitter interface {
	// Split returns the ordered units of doc. The returned cleanup func releases
	// any temporary resources and must be called on every exit path; it is never nil.
	Split(ctx context.Context, doc Document, mode Mode) ([]Unit, func() error, error)
}

// Converter is one conversion tier: a deterministic transformation of a unit into text
type Converter interface {
	// Identity describes which transformation produced a text. It is part of the cache key.
	Identity() ConverterIdentity

	// Convert turns a single unit into text or fails
	Convert(ctx context.Context, unit Unit) (string, error)
}

// Validator judges whether converted text looks structurally broken
type Validator interface {
	IsSuspect(text string) bool
}

// ValidatorFunc adapts a plain function to Validator
type ValidatorFunc func(text string) bool

func (f ValidatorFunc) IsSuspect(text string) bool { return f(text) }
