package model

import "errors"

var (
	ErrModelNotFound  = errors.New("model not found")
	ErrPresetNotFound = errors.New("preset not found")
	ErrInternal       = errors.New("internal error")
)
