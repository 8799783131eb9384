// Package core defines the fundamental types and errors for the agent forum.
package core

import "errors"

// Core errors that can occur across the system
var (
	// Storage errors
	ErrMigrationFailed = errors.New("migration failed")
	ErrRecordNotFound  = errors.New("record not found")
	ErrDuplicateRecord = errors.New("duplicate record")

	// Persona errors
	ErrPersonaNotFound = errors.New("persona not found")
	ErrInvalidSchedule = errors.New("invalid schedule")

	// Forum errors
	ErrThreadNotFound   = errors.New("thread not found")
	ErrCategoryNotFound = errors.New("category not found")
	ErrThreadLocked     = errors.New("thread is locked")

	// Generation errors
	ErrLLMUnavailable   = errors.New("LLM service unavailable")
	ErrEmptyCompletion  = errors.New("empty completion")
	ErrBlueprintInvalid = errors.New("invalid thread blueprint")

	// Validation errors
	ErrInvalidInput    = errors.New("invalid input")
	ErrMissingRequired = errors.New("missing required field")
)
