//go:build integration

package blobsource

import (
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/ligustah/fanout/internal/testutils"
)

func TestMinioShardedRangeRead(t *testing.T) {
	ctx := context.Background()
	env := testutils.StartMinioContainer(t, ctx, "fanout-test")
	defer env.Close(ctx)

	src, err := Open(ctx, env.BucketURL)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer src.Close()

	data := testutils.GenerateTestData(t, 3*1024*1024+17)
	if _, err := Publish(ctx, src.bucket, "media/large.bin", bytes.NewReader(data), 1024*1024, nil); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	ref, err := src.MediaRef(ctx, "media/large.bin")
	if err != nil {
		t.Fatalf("MediaRef: %v", err)
	}
	if ref.Size != int64(len(data)) {
		t.Fatalf("expected size %d, got %d", len(data), ref.Size)
	}

	offset, limit := int64(1024*1024-100), int64(2*1024*1024)
	rc, err := src.RangeRead(ctx, ref, offset, limit)
	if err != nil {
		t.Fatalf("RangeRead: %v", err)
	}
	defer rc.Close()

	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if !bytes.Equal(got, data[offset:offset+limit]) {
		t.Fatal("range mismatch")
	}
}
