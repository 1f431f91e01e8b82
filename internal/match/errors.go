package match

import (
	"errors"
	"fmt"
)

var ErrInvalidInput = errors.New("invalid input")

var (
	ErrInvalidStake = fmt.Errorf("%w: stake must be positive", ErrInvalidInput)
	ErrInvalidMove  = fmt.Errorf("%w: move must be rock, paper or scissors", ErrInvalidInput)
	ErrSelfJoin     = fmt.Errorf("%w: creator cannot join own match", ErrInvalidInput)

	ErrInvalidState = errors.New("invalid match state")
	ErrForbidden    = errors.New("not a participant")
	ErrAlreadyMoved = errors.New("move already submitted")
)
