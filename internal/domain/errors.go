package domain

import "errors"

// Validation error kinds. Callers wrap them with a reason via fmt.Errorf("%w: ...")
// and test with errors.Is.
var (
	ErrIndex             = errors.New("index error")
	ErrMismatch          = errors.New("mismatch")
	ErrExpired           = errors.New("expired")
	ErrInsufficientValue = errors.New("insufficient value")
	ErrAuthorization     = errors.New("authorization error")
	ErrScheduleInvalid   = errors.New("invalid success fee schedule")
	ErrArithmetic        = errors.New("arithmetic error")
)
