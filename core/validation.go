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

import (
	"fmt"
)

// ValidateBrokerMessage validates a BrokerMessage before it is processed.
//
// Validation rules:
//   - KBID must not be empty
//   - UUID or Slug must be set (except for ROLLBACK, which only needs a multiid)
//   - every referenced field must have a valid type and a non-empty id
//
// NOT validated (checked against storage by the processor):
//   - existence of the knowledge box
//   - existence of the resource
func ValidateBrokerMessage(msg *BrokerMessage) error {
	if msg == nil {
		return fmt.Errorf("%w: message is nil", ErrInvalidBrokerMessage)
	}

	if msg.KBID == "" {
		return fmt.Errorf("%w: %w", ErrInvalidBrokerMessage, ErrEmptyKBID)
	}

	if msg.Type != MessageRollback && msg.UUID == "" && msg.Slug == "" {
		return fmt.Errorf("%w: %w", ErrInvalidBrokerMessage, ErrMissingResourceID)
	}

	for _, id := range referencedFields(msg) {
		if err := ValidateFieldID(id); err != nil {
			return fmt.Errorf("%w: %w", ErrInvalidBrokerMessage, err)
		}
	}

	return nil
}

// ValidateFieldID validates that a FieldID has a known type and an id.
func ValidateFieldID(id FieldID) error {
	if !id.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidFieldType, id.Type.String())
	}
	if id.Field == "" {
		return ErrEmptyFieldID
	}
	return nil
}

func referencedFields(msg *BrokerMessage) []FieldID {
	var ids []FieldID
	ids = append(ids, msg.DeleteFields...)
	for _, w := range msg.ExtractedText {
		ids = append(ids, w.Field)
	}
	for _, w := range msg.FieldMetadata {
		ids = append(ids, w.Field)
	}
	for _, w := range msg.FieldVectors {
		ids = append(ids, w.Field)
	}
	for _, w := range msg.FieldLargeMetadata {
		ids = append(ids, w.Field)
	}
	for _, w := range msg.UserVectors {
		ids = append(ids, w.Field)
	}
	for _, w := range msg.QuestionAnswers {
		ids = append(ids, w.Field)
	}
	for _, e := range msg.Errors {
		ids = append(ids, e.Field)
	}
	return ids
}
