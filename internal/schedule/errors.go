package schedule

import "errors"

var (
	// ErrScheduleNotFound is returned for unknown schedule IDs
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrInvalidExpression is returned for unparsable cron expressions
	ErrInvalidExpression = errors.New("invalid cron expression")
)
