package blob

import (
	"fmt"

	"github.com/poiesic/kbingest/core"
)

// Kind names one artifact of a field.
type Kind string

const (
	KindExtractedText     Kind = "extracted_text"
	KindExtractedVectors  Kind = "extracted_vectors"
	KindMetadata          Kind = "metadata"
	KindLargeMetadata     Kind = "large_metadata"
	KindUserVectors       Kind = "user_vectors"
	KindQuestionAnswers   Kind = "question_answers"
	KindFileExtractedData Kind = "file_extracted_data"
	KindLinkExtractedData Kind = "link_extracted_data"
)

// Kinds lists every artifact a field may own.
var Kinds = []Kind{
	KindExtractedText,
	KindExtractedVectors,
	KindMetadata,
	KindLargeMetadata,
	KindUserVectors,
	KindQuestionAnswers,
	KindFileExtractedData,
	KindLinkExtractedData,
}

// FieldKey is the object key of a field artifact.
func FieldKey(kbid, uuid string, ft core.FieldType, field string, kind Kind) string {
	return fmt.Sprintf("kbs/%s/r/%s/e/%s/%s/%s", kbid, uuid, ft, field, kind)
}

// DeadletterKey is the object key of a deadlettered broker message.
// seq is the message's position within its batch.
func DeadletterKey(partition string, seqid int64, seq int) string {
	return fmt.Sprintf("deadletter/%s/%d/%d", partition, seqid, seq)
}
