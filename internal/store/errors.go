package store

import "errors"

var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrUserNotFound    = errors.New("user not found")
	ErrUserExists      = errors.New("user exists")
)
