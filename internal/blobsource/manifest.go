package blobsource

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"gocloud.dev/blob"
)

// ManifestSuffix is appended to a media id to find its manifest.
const ManifestSuffix = ".manifest.json"

// Manifest describes media stored as several shard objects.
type Manifest struct {
	TotalSize   int64             `json:"total_size"`
	ShardSize   int64             `json:"shard_size"`
	PartsPrefix string            `json:"parts_prefix"`
	Shards      []ShardInfo       `json:"shards"`
	Metadata    map[string]string `json:"metadata,omitempty"`
	CompletedAt time.Time         `json:"completed_at"`
}

// ShardInfo describes a single shard in the manifest.
// The index is implicit from the array position.
type ShardInfo struct {
	Object   string `json:"object"`
	Offset   int64  `json:"offset"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum,omitempty"`
}

// validate checks that the shards tile [0, TotalSize) in order.
func (m *Manifest) validate() error {
	var next int64
	for i, s := range m.Shards {
		if s.Offset != next {
			return fmt.Errorf("shard %d starts at %d, expected %d", i, s.Offset, next)
		}
		if s.Size <= 0 {
			return fmt.Errorf("shard %d is empty", i)
		}
		next += s.Size
	}
	if next != m.TotalSize {
		return fmt.Errorf("shards cover %d bytes, manifest says %d", next, m.TotalSize)
	}
	return nil
}

func readManifest(ctx context.Context, bucket *blob.Bucket, mediaID string) (*Manifest, error) {
	data, err := bucket.ReadAll(ctx, mediaID+ManifestSuffix)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("blobsource: unmarshal manifest: %w", err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("blobsource: manifest for %s: %w", mediaID, err)
	}
	return &m, nil
}

// Publish copies r into bucket as sharded media named mediaID. Shards of
// shardSize bytes are written under "<mediaID>.shards/" and the manifest
// is written last, so readers never see a partial object.
func Publish(ctx context.Context, bucket *blob.Bucket, mediaID string, r io.Reader, shardSize int64, metadata map[string]string) (*Manifest, error) {
	if shardSize <= 0 {
		return nil, errors.New("blobsource: shard size must be positive")
	}

	m := &Manifest{
		ShardSize:   shardSize,
		PartsPrefix: mediaID + ".shards/",
		Metadata:    metadata,
	}

	for i := 0; ; i++ {
		object := fmt.Sprintf("shard-%06d", i)
		n, sum, err := writeShard(ctx, bucket, m.PartsPrefix+object, r, shardSize)
		if err != nil {
			return nil, fmt.Errorf("blobsource: write shard %d: %w", i, err)
		}
		if n == 0 {
			break
		}
		m.Shards = append(m.Shards, ShardInfo{Object: object, Offset: m.TotalSize, Size: n, Checksum: sum})
		m.TotalSize += n
		if n < shardSize {
			break
		}
	}

	m.CompletedAt = time.Now().UTC()
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("blobsource: marshal manifest: %w", err)
	}
	if err := bucket.WriteAll(ctx, mediaID+ManifestSuffix, data, nil); err != nil {
		return nil, fmt.Errorf("blobsource: write manifest: %w", err)
	}
	return m, nil
}

// writeShard copies up to size bytes from r into key. Nothing is written
// when r is already drained.
func writeShard(ctx context.Context, bucket *blob.Bucket, key string, r io.Reader, size int64) (int64, string, error) {
	// Peek one byte so an exhausted reader does not leave an empty object.
	var first [1]byte
	n, err := io.ReadFull(r, first[:])
	if n == 0 {
		if errors.Is(err, io.EOF) {
			return 0, "", nil
		}
		return 0, "", err
	}

	wctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w, err := bucket.NewWriter(wctx, key, nil)
	if err != nil {
		return 0, "", err
	}
	hash := sha256.New()
	dst := io.MultiWriter(w, hash)

	if _, err := dst.Write(first[:]); err != nil {
		cancel()
		w.Close()
		return 0, "", err
	}
	written, err := io.CopyN(dst, r, size-1)
	if err != nil && !errors.Is(err, io.EOF) {
		// Cancelling before Close discards the partial upload.
		cancel()
		w.Close()
		return 0, "", err
	}
	if err := w.Close(); err != nil {
		return 0, "", err
	}
	return written + 1, hex.EncodeToString(hash.Sum(nil)), nil
}
