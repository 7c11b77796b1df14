package generator

import "errors"

var (
	ErrUnavailable     = errors.New("generator unavailable")
	ErrTimeout         = errors.New("generator timeout")
	ErrInvalidResponse = errors.New("generator returned invalid response")
	ErrUnsupportedKind = errors.New("generator does not support target kind")
	ErrFailed          = errors.New("generation failed")
)
