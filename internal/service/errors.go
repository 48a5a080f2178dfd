package service

import "errors"

// Common service errors
var (
	ErrNotFound         = errors.New("resource not found")
	ErrNotAuthenticated = errors.New("player not authenticated")
)
