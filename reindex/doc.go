// Package reindex rebuilds the index entries of every resource in a
// knowledge box from stored data.
//
// Resources are read in batches, their index messages regenerated from every
// field and resubmitted to the shard they live on. Shard writes are retried
// with exponential backoff and progress is reported as batches complete.
package reindex
