package resource

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned when a workload's backing files are missing
	ErrNotReady = errors.New("workload not ready")

	// ErrWrongCategory is returned when an id names a resource of another category
	ErrWrongCategory = errors.New("resource has a different category")
)

// NotFoundError is returned when the catalog has no resource with the id
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("resource %q not found", e.ID)
}
