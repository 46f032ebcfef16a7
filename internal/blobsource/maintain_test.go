package blobsource

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"

	"gocloud.dev/blob"

	"github.com/ligustah/fanout/internal/testutils"
	"github.com/ligustah/fanout/pkg/transfer"
)

func TestValidate(t *testing.T) {
	ctx := context.Background()

	zeroShard := func(i int) func(*blob.Bucket, *Manifest) error {
		return func(b *blob.Bucket, m *Manifest) error {
			return b.WriteAll(ctx, m.PartsPrefix+m.Shards[i].Object, make([]byte, m.Shards[i].Size), nil)
		}
	}

	tests := []struct {
		name         string
		damage       func(*blob.Bucket, *Manifest) error
		verify       bool
		wantValid    bool
		wantMissing  int
		wantSize     int
		wantChecksum int
	}{
		{
			name:      "intact",
			verify:    true,
			wantValid: true,
		},
		{
			name: "missing shard",
			damage: func(b *blob.Bucket, m *Manifest) error {
				return b.Delete(ctx, m.PartsPrefix+m.Shards[0].Object)
			},
			wantMissing: 1,
		},
		{
			name: "truncated shard",
			damage: func(b *blob.Bucket, m *Manifest) error {
				return b.WriteAll(ctx, m.PartsPrefix+m.Shards[1].Object, []byte("short"), nil)
			},
			wantSize: 1,
		},
		{
			name:      "corrupt shard unchecked",
			damage:    zeroShard(2),
			wantValid: true,
		},
		{
			name:         "corrupt shard verified",
			damage:       zeroShard(2),
			verify:       true,
			wantChecksum: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bucket := setupBucket(t)
			data := testutils.GenerateTestData(t, 10_000)
			m, err := Publish(ctx, bucket, "clip", bytes.NewReader(data), 3000, nil)
			if err != nil {
				t.Fatalf("Publish: %v", err)
			}
			if tt.damage != nil {
				if err := tt.damage(bucket, m); err != nil {
					t.Fatalf("damage: %v", err)
				}
			}

			result, err := Validate(ctx, bucket, "clip", tt.verify)
			if err != nil {
				t.Fatalf("Validate: %v", err)
			}
			if result.Valid != tt.wantValid {
				t.Errorf("Valid = %v, want %v (errors: %v)", result.Valid, tt.wantValid, result.Errors)
			}
			if result.ShardCount != 4 || result.TotalSize != 10_000 {
				t.Errorf("unexpected summary: %+v", result)
			}
			if result.MissingShards != tt.wantMissing {
				t.Errorf("MissingShards = %d, want %d", result.MissingShards, tt.wantMissing)
			}
			if result.SizeMismatches != tt.wantSize {
				t.Errorf("SizeMismatches = %d, want %d", result.SizeMismatches, tt.wantSize)
			}
			if result.ChecksumMismatches != tt.wantChecksum {
				t.Errorf("ChecksumMismatches = %d, want %d", result.ChecksumMismatches, tt.wantChecksum)
			}
			if !result.Valid && len(result.Errors) == 0 {
				t.Error("invalid result carries no error lines")
			}
		})
	}
}

func TestValidateNotFound(t *testing.T) {
	_, err := Validate(context.Background(), setupBucket(t), "missing", false)
	if !errors.Is(err, transfer.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	bucket := setupBucket(t)

	data := testutils.GenerateTestData(t, 7000)
	m, err := Publish(ctx, bucket, "clip", bytes.NewReader(data), 3000, nil)
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	// A shard removed earlier does not stop the delete.
	if err := bucket.Delete(ctx, m.PartsPrefix+m.Shards[1].Object); err != nil {
		t.Fatal(err)
	}

	if err := Delete(ctx, bucket, "clip"); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	iter := bucket.List(nil)
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("List: %v", err)
		}
		t.Errorf("object left behind: %s", obj.Key)
	}

	if _, err := New(bucket).MediaRef(ctx, "clip"); !errors.Is(err, transfer.ErrNotFound) {
		t.Errorf("expected deleted media to be not found, got %v", err)
	}
	if err := Delete(ctx, bucket, "clip"); !errors.Is(err, transfer.ErrNotFound) {
		t.Errorf("second Delete: expected ErrNotFound, got %v", err)
	}
}
