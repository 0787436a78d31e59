package orchestrator

import "errors"

var (
	// ErrBatchFailed is returned by Batch.Err when at least one run failed
	ErrBatchFailed = errors.New("batch has failed runs")

	// ErrInvalidParallelism is returned for a non-positive parallelism bound
	ErrInvalidParallelism = errors.New("max parallel must be positive")

	// ErrNoDescriptor is recorded for jobs submitted without a descriptor
	ErrNoDescriptor = errors.New("job has no system descriptor")
)
