//go:build integration

package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/clipfinder/internal/testutil"
)

func TestIndexMirror_RustFS(t *testing.T) {
	ctx := context.Background()
	rc := testutil.NewRustFSContainer(ctx, t)
	defer rc.Terminate(ctx)

	client, err := NewS3Client(ctx, S3ClientConfig{
		Endpoint:        rc.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     testutil.RustFSCredential,
		SecretAccessKey: testutil.RustFSCredential,
		Bucket:          "clipfinder-index",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, client.EnsureBucket(ctx))
	require.NoError(t, client.EnsureBucket(ctx))

	mirror := NewIndexMirror(client, "", 2)
	data, err := mirror.FetchIndex(ctx)
	require.NoError(t, err)
	assert.Nil(t, data)

	require.NoError(t, mirror.PutIndex(ctx, []byte(`{"version":1,"videos":[]}`)))
	require.NoError(t, mirror.PutIndex(ctx, []byte(`{"version":1,"videos":[{"id":"b"}]}`)))
	require.NoError(t, mirror.PutIndex(ctx, []byte(`{"version":1,"videos":[{"id":"a"}]}`)))

	data, err = mirror.FetchIndex(ctx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"version":1,"videos":[{"id":"a"}]}`, string(data))

	snapshots, err := client.ListKeys(ctx, "index/snapshots/")
	require.NoError(t, err)
	assert.Len(t, snapshots, 2)
}
