//go:build integration

package s3

import (
	"bytes"
	"context"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"

	"github.com/kpisync/kpisync/internal/config"
	"github.com/kpisync/kpisync/internal/storage"
)

func TestPutAgainstMinIO(t *testing.T) {
	endpoint := envOr("KPISYNC_TEST_S3_ENDPOINT", "")
	if endpoint == "" {
		t.Skip("KPISYNC_TEST_S3_ENDPOINT is not set")
	}

	cfg := config.ObjectStoreConfig{
		Endpoint:         endpoint,
		Region:           envOr("KPISYNC_TEST_S3_REGION", "us-east-1"),
		Bucket:           envOr("KPISYNC_TEST_S3_BUCKET", "kpisync-it"),
		AccessKeyID:      envOr("KPISYNC_TEST_S3_ACCESS_KEY", "minio"),
		SecretAccessKey:  envOr("KPISYNC_TEST_S3_SECRET_KEY", "miniostorage"),
		Prefix:           "integration-tests",
		AutoCreateBucket: true,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	store, err := New(ctx, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if err := store.Ready(ctx); err != nil {
		t.Fatalf("Ready() error = %v", err)
	}

	key := "snapshots/it/PRODUCTS/roundtrip.parquet"
	payload := []byte("kpisync-integration")
	if _, err := store.Put(ctx, key, bytes.NewReader(payload), int64(len(payload)), storage.PutOptions{ContentType: "application/octet-stream"}); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	raw := store.client.(*minioClient).client
	object, err := raw.GetObject(ctx, cfg.Bucket, "integration-tests/"+key, minio.GetObjectOptions{})
	if err != nil {
		t.Fatalf("GetObject() error = %v", err)
	}
	defer func() { _ = object.Close() }()
	readPayload, err := io.ReadAll(object)
	if err != nil {
		t.Fatalf("io.ReadAll() error = %v", err)
	}
	if !bytes.Equal(readPayload, payload) {
		t.Fatalf("payload = %q, want %q", string(readPayload), string(payload))
	}
	_ = raw.RemoveObject(ctx, cfg.Bucket, "integration-tests/"+key, minio.RemoveObjectOptions{})
}

func envOr(key, fallback string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return fallback
	}
	return value
}
