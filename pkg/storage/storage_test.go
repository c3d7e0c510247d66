package storage

import (
	"context"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testStorage 各实现共用的测试流程
func testStorage(t *testing.T, s Storage) {
	ctx := context.Background()

	info, err := s.Save(ctx, strings.NewReader("这是测试文件内容"), "../notes/report.md")
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)
	assert.Equal(t, "report.md", info.Name, "path components must be stripped")
	assert.Equal(t, "text/markdown", info.MimeType)

	exists, err := s.Exists(ctx, info.ID)
	require.NoError(t, err)
	assert.True(t, exists)

	rc, got, err := s.Open(ctx, info.ID)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	rc.Close()
	require.NoError(t, err)
	assert.Equal(t, "这是测试文件内容", string(data))
	assert.Equal(t, info.Name, got.Name)

	files, err := s.List(ctx)
	require.NoError(t, err)
	var ids []string
	for _, f := range files {
		ids = append(ids, f.ID)
	}
	assert.Contains(t, ids, info.ID)

	require.NoError(t, s.Delete(ctx, info.ID))
	exists, err = s.Exists(ctx, info.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	_, _, err = s.Open(ctx, info.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, s.Delete(ctx, info.ID), ErrNotFound)
}

// TestLocalStorage 测试本地存储实现
func TestLocalStorage(t *testing.T) {
	s, err := NewLocalStorage(LocalConfig{Path: t.TempDir()})
	require.NoError(t, err)
	testStorage(t, s)

	t.Run("rejects traversal ids", func(t *testing.T) {
		exists, err := s.Exists(context.Background(), "../etc")
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

// TestNewStorage 测试工厂函数
func TestNewStorage(t *testing.T) {
	s, err := New(Config{Type: "local", Path: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)

	_, err = New(Config{Type: "s3"})
	assert.Error(t, err)
}

// TestMinioStorage 需要可访问的MinIO服务
func TestMinioStorage(t *testing.T) {
	endpoint := os.Getenv("MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("MINIO_ENDPOINT not set, skipping MinIO tests")
	}

	s, err := NewMinioStorage(MinioConfig{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("MINIO_SECRET_KEY"),
		Bucket:    "lang-data-test",
	})
	require.NoError(t, err)
	testStorage(t, s)
}
