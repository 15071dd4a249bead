package catalog

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	modified map[string]time.Time
	now      time.Time
}

func newMemS3(now time.Time) *memS3 {
	return &memS3{objects: map[string][]byte{}, modified: map[string]time.Time{}, now: now}
}

func (m *memS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.modified[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{LastModified: aws.Time(t)}, nil
}

func (m *memS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (m *memS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := aws.ToString(in.Key)
	m.objects[key] = data
	m.modified[key] = m.now
	return &s3.PutObjectOutput{}, nil
}

func (m *memS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := aws.ToString(in.Key)
	delete(m.objects, key)
	delete(m.modified, key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Store_MissingAndRoundTrip(t *testing.T) {
	ctx := context.Background()
	written := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	client := newMemS3(written)
	store := NewS3Store(client, "bucket", "shared/catalog")

	_, err := store.ModTime(ctx, ResourceItems)
	assert.ErrorIs(t, err, ErrSnapshotMissing)
	_, err = store.Read(ctx, ResourceTaxes)
	assert.ErrorIs(t, err, ErrSnapshotMissing)

	require.NoError(t, store.Write(ctx, ResourceItems, []byte(`[]`)))
	assert.Contains(t, client.objects, "shared/catalog/items.json")

	mod, err := store.ModTime(ctx, ResourceItems)
	require.NoError(t, err)
	assert.Equal(t, written, mod)

	require.NoError(t, store.Delete(ctx, ResourceItems))
	require.NoError(t, store.Delete(ctx, ResourceItems))
	_, err = store.ModTime(ctx, ResourceItems)
	assert.ErrorIs(t, err, ErrSnapshotMissing)
}

func TestS3Store_BacksCacheExpiry(t *testing.T) {
	ctx := context.Background()
	t0 := time.Date(2026, 5, 1, 8, 0, 0, 0, time.UTC)
	clk := &clock{now: t0}
	client := newMemS3(t0)
	c := New(NewS3Store(client, "bucket", ""), defaultRemote(), Options{TTL: 24 * time.Hour, Now: clk.Now}, zap.NewNop())

	valid, err := c.EnsureValid(ctx, true)
	require.NoError(t, err)
	assert.True(t, valid)

	clk.Set(t0.Add(25 * time.Hour))
	valid, err = c.IsValid(ctx)
	require.NoError(t, err)
	assert.False(t, valid)
	assert.Empty(t, client.objects)
}
