package fields

import "errors"

var (
	// ErrFieldTypeMismatch is returned when a value does not match the field's type.
	ErrFieldTypeMismatch = errors.New("field value type does not match field type")

	// ErrMissingPayload is returned when a wrapper carries neither an inline value nor a blob pointer.
	ErrMissingPayload = errors.New("wrapper carries no payload")
)
