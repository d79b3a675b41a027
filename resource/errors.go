package resource

import "errors"

var (
	// ErrResourceNotFound indicates that the resource has no basic record.
	ErrResourceNotFound = errors.New("resource not found")

	// ErrSlugExhausted indicates that no free slug could be derived.
	ErrSlugExhausted = errors.New("could not find a free slug")
)
