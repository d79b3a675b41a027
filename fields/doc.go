// Package fields implements the versioned field store.
//
// A Field binds one resource field to the current KV transaction and to the
// blob store. Its typed value lives in the KV store; its derived artifacts
// (extracted text, vectors, computed metadata, large metadata, user vectors,
// question answers, file and link extracted data) live in the blob store,
// one object per artifact kind.
//
// Artifacts of split-capable fields (layout, conversation) are merged at the
// parsed-object level: splits in a delta overwrite stored splits, splits in
// DeletedSplits are removed, and a non-empty field-level value replaces the
// stored one. The setters report what was replaced so the index builder can
// emit matching deletions.
//
// Blob writes are not covered by the KV transaction. A failed commit leaves
// the new blobs in place until the next successful write supersedes them.
package fields
