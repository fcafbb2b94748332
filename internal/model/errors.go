package model

import "errors"

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrUserAlreadyExists = errors.New("user already exists")

	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")

	ErrRoleNotGranted = errors.New("role not granted")

	ErrUnauthorized = errors.New("unauthorized")

	ErrInvalidInput = errors.New("invalid input")
)
