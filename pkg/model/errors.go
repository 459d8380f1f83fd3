package model

import "github.com/m-mizutani/goerr/v2"

var (
	// ErrInvalidQuery is returned when a filter expression is structurally malformed.
	ErrInvalidQuery = goerr.New("invalid query")

	// ErrNotFound is returned when a document or blob does not exist.
	ErrNotFound = goerr.New("not found")

	// ErrInvalidRequest is returned when a required parameter is missing or malformed,
	// or when a fetched document lacks an expected field.
	ErrInvalidRequest = goerr.New("invalid request")

	// ErrUpstreamModel is returned when an analysis model invocation fails.
	ErrUpstreamModel = goerr.New("upstream model error")
)
