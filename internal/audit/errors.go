package audit

import "errors"

var (
	ErrInvalidInput     = errors.New("audit: invalid input")
	ErrInvalidDateRange = errors.New("audit: start date must not be after end date")
)
