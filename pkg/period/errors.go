package period

import "errors"

var (
	ErrInvalidInterval = errors.New("invalid period interval")
	ErrNegativeCount   = errors.New("period count must not be negative")
)
