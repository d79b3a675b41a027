// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package core

import "errors"

// Domain validation errors
var (
	// ErrInvalidBrokerMessage indicates a BrokerMessage failed validation.
	ErrInvalidBrokerMessage = errors.New("invalid broker message")

	// ErrInvalidFieldType indicates an unknown field type code.
	ErrInvalidFieldType = errors.New("invalid field type")

	// ErrEmptyKBID indicates the knowledge box id is missing.
	ErrEmptyKBID = errors.New("knowledge box id cannot be empty")

	// ErrMissingResourceID indicates neither a uuid nor a slug was given.
	ErrMissingResourceID = errors.New("resource uuid or slug required")

	// ErrEmptyFieldID indicates a field reference without an id.
	ErrEmptyFieldID = errors.New("field id cannot be empty")
)
