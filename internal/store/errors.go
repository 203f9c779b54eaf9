package store

import (
	"errors"
	"fmt"
)

// ErrUnknownDimension is returned when a fact refers to a natural key that
// has no current dimension row. Nothing is written.
var ErrUnknownDimension = errors.New("unknown dimension key")

var (
	ErrUnknownSource = fmt.Errorf("%w: source", ErrUnknownDimension)
	ErrUnknownSkill  = fmt.Errorf("%w: skill", ErrUnknownDimension)
)
