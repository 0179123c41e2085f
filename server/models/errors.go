package models

import "errors"

var (
	ErrNoFrame       = errors.New("no frame available")
	ErrInvalidConfig = errors.New("invalid configuration")
	ErrQueueFull     = errors.New("processing queue full, try again later")
	ErrTimeout       = errors.New("processing timeout")
)
