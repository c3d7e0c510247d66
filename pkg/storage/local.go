package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// LocalStorage 本地文件存储实现
// 目录结构: <base>/<id>/<原始文件名>
type LocalStorage struct {
	basePath string // 基础存储路径
}

// LocalConfig 本地存储配置
type LocalConfig struct {
	Path string // 本地存储路径
}

// NewLocalStorage 创建本地存储实例
func NewLocalStorage(cfg LocalConfig) (*LocalStorage, error) {
	absPath, err := filepath.Abs(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	if err := os.MkdirAll(absPath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &LocalStorage{basePath: absPath}, nil
}

// Save 保存文件到本地存储
func (s *LocalStorage) Save(ctx context.Context, r io.Reader, filename string) (FileInfo, error) {
	if err := ctx.Err(); err != nil {
		return FileInfo{}, err
	}

	id := uuid.New().String()
	name := cleanName(filename)
	dir := filepath.Join(s.basePath, id)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return FileInfo{}, fmt.Errorf("failed to create directory: %w", err)
	}

	file, err := os.Create(filepath.Join(dir, name))
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to create file: %w", err)
	}
	defer file.Close()

	size, err := io.Copy(file, r)
	if err != nil {
		os.RemoveAll(dir)
		return FileInfo{}, fmt.Errorf("failed to write file: %w", err)
	}

	return FileInfo{
		ID:       id,
		Name:     name,
		Size:     size,
		MimeType: getMimeType(name),
		Path:     filepath.Join(id, name),
	}, nil
}

// Open 打开文件
func (s *LocalStorage) Open(ctx context.Context, id string) (io.ReadCloser, FileInfo, error) {
	info, err := s.stat(id)
	if err != nil {
		return nil, FileInfo{}, err
	}
	file, err := os.Open(filepath.Join(s.basePath, info.Path))
	if err != nil {
		return nil, FileInfo{}, fmt.Errorf("failed to open file: %w", err)
	}
	return file, info, nil
}

// Delete 删除文件
func (s *LocalStorage) Delete(ctx context.Context, id string) error {
	if _, err := s.stat(id); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(s.basePath, id)); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// List 列出所有文件
func (s *LocalStorage) List(ctx context.Context) ([]FileInfo, error) {
	entries, err := os.ReadDir(s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}

	var files []FileInfo
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := s.stat(e.Name())
		if err != nil {
			continue
		}
		files = append(files, info)
	}
	return files, nil
}

// Exists 检查文件是否存在
func (s *LocalStorage) Exists(ctx context.Context, id string) (bool, error) {
	_, err := s.stat(id)
	if err == ErrNotFound {
		return false, nil
	}
	return err == nil, err
}

// stat 读取ID目录下唯一的文件
func (s *LocalStorage) stat(id string) (FileInfo, error) {
	if id == "" || id != filepath.Base(id) {
		return FileInfo{}, ErrNotFound
	}
	entries, err := os.ReadDir(filepath.Join(s.basePath, id))
	if os.IsNotExist(err) {
		return FileInfo{}, ErrNotFound
	}
	if err != nil {
		return FileInfo{}, fmt.Errorf("failed to read file directory: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			return FileInfo{}, err
		}
		return FileInfo{
			ID:       id,
			Name:     e.Name(),
			Size:     fi.Size(),
			MimeType: getMimeType(e.Name()),
			Path:     filepath.Join(id, e.Name()),
		}, nil
	}
	return FileInfo{}, ErrNotFound
}

var _ Storage = (*LocalStorage)(nil)
