package services

import (
	"errors"
	"fmt"
)

var (
	// ErrPoolNotFound is returned when a pool id or name does not exist.
	ErrPoolNotFound = errors.New("pool not found")
	// ErrPoolNameTaken is returned when creating or renaming onto an existing pool name.
	ErrPoolNameTaken = errors.New("pool name already exists")
	// ErrInvalidCredentials covers unknown users and wrong passwords alike.
	ErrInvalidCredentials = errors.New("incorrect username or password")
	// ErrInactiveUser is returned for disabled accounts.
	ErrInactiveUser = errors.New("inactive user")
)

// ValidationError reports malformed input rejected before touching the store.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}
