// Package blobsource serves media stored in gocloud.dev/blob buckets.
//
// A media id names either a plain object or a sharded object. Sharded media
// is described by a manifest next to its shards:
//
//	{bucket}/{id}.shards/shard-000000
//	{bucket}/{id}.shards/shard-000001
//	{bucket}/{id}.manifest.json
//
// Range reads over sharded media open one shard range reader at a time,
// so a range may span any number of shards.
//
// Storage errors map onto the transfer error taxonomy: NotFound becomes
// transfer.ErrNotFound, PermissionDenied a *transfer.ConnectionError and
// ResourceExhausted a *transfer.RateLimitError.
package blobsource
