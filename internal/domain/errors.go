package domain

import (
	"errors"
	"fmt"
)

// ErrInvalidResult is the parent of every construction failure in NewResult.
var ErrInvalidResult = errors.New("invalid result")

var (
	ErrEmptyTitle     = fmt.Errorf("%w: title is required", ErrInvalidResult)
	ErrMissingSource  = fmt.Errorf("%w: source name is required", ErrInvalidResult)
	ErrInvalidLocator = fmt.Errorf("%w: locator is not a magnet uri with a btih hash", ErrInvalidResult)
	ErrNegativeValue  = fmt.Errorf("%w: size and peer counts must be non-negative", ErrInvalidResult)
)
