package domain

import "fmt"

// ValidationError reports a missing or malformed field on an inbound record.
// It is raised before any graph write is attempted.
type ValidationError struct {
	Entity string
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s.%s: %s", e.Entity, e.Field, e.Reason)
}

func required(entity, field string) *ValidationError {
	return &ValidationError{Entity: entity, Field: field, Reason: "is required"}
}
