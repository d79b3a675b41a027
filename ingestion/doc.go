// Package ingestion applies broker messages to knowledge box resources.
//
// The Processor handles one message at a time:
//   - checks the partition sequence so stale deliveries have no effect
//   - applies fields and extracted data to the resource in a KV transaction
//   - submits the resource's index message to its shard
//   - commits, or aborts and deadletters, and publishes a notification
//
// The PartitionConsumer drives a Processor from per-partition channels.
// Partitions run concurrently on a worker pool; messages of one partition
// are processed strictly in order.
package ingestion
