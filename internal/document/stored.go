package document

import (
	"context"
	"strconv"

	"github.com/fyerfyer/lang-data/pkg/storage"
)

// StorageLoader 从文件存储加载文档
// LoadFile的参数是存储中的文件ID
type StorageLoader struct {
	store storage.Storage
	links *LinkLoader
}

// NewStorageLoader 创建存储加载器
func NewStorageLoader(store storage.Storage, links *LinkLoader) *StorageLoader {
	if links == nil {
		links = NewLinkLoader()
	}
	return &StorageLoader{store: store, links: links}
}

// LoadFile 按文件ID读取并解析
func (l *StorageLoader) LoadFile(ctx context.Context, id string) ([]Document, error) {
	rc, info, err := l.store.Open(ctx, id)
	if err != nil {
		return nil, newLoaderError(id, err)
	}
	defer rc.Close()

	parser, err := ParserFor(info.Name)
	if err != nil {
		return nil, newLoaderError(id, err)
	}
	text, extra, err := parser.ParseReader(rc, info.Name)
	if err != nil {
		return nil, newLoaderError(id, err)
	}

	meta := map[string]string{
		MetaFileName: info.Name,
		MetaSource:   "storage://" + id,
		MetaFileSize: strconv.FormatInt(info.Size, 10),
	}
	for k, v := range extra {
		meta[k] = v
	}
	return []Document{NewDocument(text, meta)}, nil
}

// LoadLink 加载链接
func (l *StorageLoader) LoadLink(ctx context.Context, link string) ([]Document, error) {
	return l.links.LoadLink(ctx, link)
}

var _ Loader = (*StorageLoader)(nil)
