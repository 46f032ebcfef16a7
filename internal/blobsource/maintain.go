package blobsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"gocloud.dev/blob"
	"gocloud.dev/gcerrors"
)

// ValidationResult reports the state of published media.
type ValidationResult struct {
	Valid              bool     // true if every shard exists with the expected size and checksum
	TotalSize          int64    // total size from manifest
	ShardCount         int      // number of shards in manifest
	MissingShards      int      // shards that don't exist
	SizeMismatches     int      // shards with the wrong size
	ChecksumMismatches int      // shards whose content hash differs
	Errors             []string // one line per problem
}

// Validate checks that every shard of mediaID exists with the size the
// manifest records. With verifyChecksums it also reads each shard and
// compares its sha256.
//
// Missing or damaged shards are reported in the result, not as an error.
// An error is returned when the manifest cannot be read or the bucket
// fails.
func Validate(ctx context.Context, bucket *blob.Bucket, mediaID string, verifyChecksums bool) (*ValidationResult, error) {
	m, err := readManifest(ctx, bucket, mediaID)
	if err != nil {
		return nil, fmt.Errorf("blobsource: read manifest: %w", mapError(err))
	}

	result := &ValidationResult{
		Valid:      true,
		TotalSize:  m.TotalSize,
		ShardCount: len(m.Shards),
	}
	fail := func(format string, args ...any) {
		result.Valid = false
		result.Errors = append(result.Errors, fmt.Sprintf(format, args...))
	}

	for i, shard := range m.Shards {
		key := m.PartsPrefix + shard.Object

		attrs, err := bucket.Attributes(ctx, key)
		if err != nil {
			if gcerrors.Code(err) == gcerrors.NotFound {
				result.MissingShards++
				fail("shard %d missing: %s", i, key)
				continue
			}
			return nil, fmt.Errorf("blobsource: check shard %d: %w", i, err)
		}
		if attrs.Size != shard.Size {
			result.SizeMismatches++
			fail("shard %d size mismatch: expected %d, got %d", i, shard.Size, attrs.Size)
			continue
		}

		if !verifyChecksums || shard.Checksum == "" {
			continue
		}
		sum, err := shardChecksum(ctx, bucket, key)
		if err != nil {
			return nil, fmt.Errorf("blobsource: read shard %d: %w", i, err)
		}
		if sum != shard.Checksum {
			result.ChecksumMismatches++
			fail("shard %d checksum mismatch: expected %s, got %s", i, shard.Checksum, sum)
		}
	}

	return result, nil
}

func shardChecksum(ctx context.Context, bucket *blob.Bucket, key string) (string, error) {
	r, err := bucket.NewReader(ctx, key, nil)
	if err != nil {
		return "", err
	}
	defer r.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, r); err != nil {
		return "", err
	}
	return hex.EncodeToString(hash.Sum(nil)), nil
}

// Delete removes published media. The manifest goes first so that readers
// stop resolving the media before its shards disappear. Shards that are
// already gone are skipped.
func Delete(ctx context.Context, bucket *blob.Bucket, mediaID string) error {
	m, err := readManifest(ctx, bucket, mediaID)
	if err != nil {
		return fmt.Errorf("blobsource: read manifest: %w", mapError(err))
	}

	if err := bucket.Delete(ctx, mediaID+ManifestSuffix); err != nil {
		return fmt.Errorf("blobsource: delete manifest: %w", err)
	}
	for _, shard := range m.Shards {
		key := m.PartsPrefix + shard.Object
		if err := bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
			return fmt.Errorf("blobsource: delete shard %s: %w", key, err)
		}
	}
	return nil
}
