package router

import "errors"

var (
	ErrEmptyFilter     = errors.New("router: topic filter is empty")
	ErrMalformedFilter = errors.New("router: malformed topic filter")
)
