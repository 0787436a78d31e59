package config

import "errors"

var (
	// ErrInvalidConfig is returned for configuration that fails validation
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrDuplicateLabel is returned when two runs of a batch share a label
	ErrDuplicateLabel = errors.New("duplicate run label")
)
