package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioStorage MinIO存储实现
// 对象名: <id>/<原始文件名>
type MinioStorage struct {
	client     *minio.Client // MinIO客户端
	bucketName string        // 存储桶名称
}

// MinioConfig MinIO存储配置
type MinioConfig struct {
	Endpoint  string // MinIO服务端点
	AccessKey string // 访问密钥ID
	SecretKey string // 秘密访问密钥
	UseSSL    bool   // 是否使用SSL
	Bucket    string // 存储桶名称
}

// NewMinioStorage 创建MinIO存储实例，桶不存在时自动创建
func NewMinioStorage(cfg MinioConfig) (*MinioStorage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	ctx := context.Background()
	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to check if bucket exists: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	return &MinioStorage{
		client:     client,
		bucketName: cfg.Bucket,
	}, nil
}

// Save 流式上传文件
func (s *MinioStorage) Save(ctx context.Context, r io.Reader, filename string) (FileInfo, error) {
	id := uuid.New().String()
	name := cleanName(filename)
	objectName := path.Join(id, name)
	contentType := getMimeType(name)

	info, err := s.client.PutObject(ctx, s.bucketName, objectName, r, -1,
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to upload file: %w", err)
	}

	return FileInfo{
		ID:       id,
		Name:     name,
		Size:     info.Size,
		MimeType: contentType,
		Path:     objectName,
	}, nil
}

// Open 获取对象
func (s *MinioStorage) Open(ctx context.Context, id string) (io.ReadCloser, FileInfo, error) {
	info, err := s.stat(ctx, id)
	if err != nil {
		return nil, FileInfo{}, err
	}
	obj, err := s.client.GetObject(ctx, s.bucketName, info.Path, minio.GetObjectOptions{})
	if err != nil {
		return nil, FileInfo{}, fmt.Errorf("failed to get object: %w", err)
	}
	return obj, info, nil
}

// Delete 删除对象
func (s *MinioStorage) Delete(ctx context.Context, id string) error {
	info, err := s.stat(ctx, id)
	if err != nil {
		return err
	}
	if err := s.client.RemoveObject(ctx, s.bucketName, info.Path, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// List 列出桶内所有文件
func (s *MinioStorage) List(ctx context.Context) ([]FileInfo, error) {
	var files []FileInfo
	for object := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("error listing objects: %w", object.Err)
		}
		files = append(files, objectInfo(object))
	}
	return files, nil
}

// Exists 检查对象是否存在
func (s *MinioStorage) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.stat(ctx, id)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

// stat 按ID前缀查找对象
func (s *MinioStorage) stat(ctx context.Context, id string) (FileInfo, error) {
	if id == "" || strings.Contains(id, "/") {
		return FileInfo{}, ErrNotFound
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts := minio.ListObjectsOptions{Prefix: id + "/", Recursive: true}
	for object := range s.client.ListObjects(ctx, s.bucketName, opts) {
		if object.Err != nil {
			return FileInfo{}, fmt.Errorf("error listing objects: %w", object.Err)
		}
		return objectInfo(object), nil
	}
	return FileInfo{}, ErrNotFound
}

func objectInfo(object minio.ObjectInfo) FileInfo {
	id, name, _ := strings.Cut(object.Key, "/")
	return FileInfo{
		ID:       id,
		Name:     name,
		Size:     object.Size,
		MimeType: getMimeType(name),
		Path:     object.Key,
	}
}

var _ Storage = (*MinioStorage)(nil)
