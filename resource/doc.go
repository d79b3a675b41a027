// Package resource loads and mutates one document of a knowledge box.
//
// A Resource is bound to a single KV transaction and a blob store. It applies
// broker messages in two steps, ApplyFields for user-supplied values and
// ApplyExtracted for processing output, and feeds a brain.Builder as it goes.
// ComputeGlobalText, ComputeGlobalTags and ComputeSecurity complete the index
// message for the pass; GenerateIndexMessage rebuilds it from scratch.
package resource
