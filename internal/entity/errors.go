package entity

import "errors"

var (
	// ErrInvalidQuery is returned when the input is neither an IP nor a domain
	ErrInvalidQuery = errors.New("invalid query")

	// ErrConfiguration is returned when no provider can serve a query
	ErrConfiguration = errors.New("configuration error")
)
