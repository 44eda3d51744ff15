package common

import "errors"

// Общие ошибки для всех репозиториев
var (
	ErrNotFound        = errors.New("entity not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrFrozen          = errors.New("blocked by open dispute")
	ErrAlreadyResolved = errors.New("milestone already resolved")
	ErrBadTransition   = errors.New("transition not allowed from current state")
)
