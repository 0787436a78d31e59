package storage

import "errors"

var (
	// ErrRecordNotFound is returned by Get when no record has the id
	ErrRecordNotFound = errors.New("run record not found")

	// ErrInvalidLabel is returned for labels that would escape the output dir
	ErrInvalidLabel = errors.New("invalid run label")
)
