package tools

import (
	"errors"
	"fmt"
)

// ErrRegistryFrozen is returned by Register after Freeze has been called.
var ErrRegistryFrozen = errors.New("tool registry is frozen")

// DuplicateToolError is returned when a tool name is already registered.
// The registry retains the first registration.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool already registered: %s", e.Name)
}

// IsDuplicate reports whether err is a DuplicateToolError.
func IsDuplicate(err error) bool {
	var dup *DuplicateToolError
	return errors.As(err, &dup)
}
