package document

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Loader 文档加载器接口
// 将文件或链接转换为统一的文档表示
type Loader interface {
	// LoadFile 从文件加载文档
	LoadFile(ctx context.Context, path string) ([]Document, error)

	// LoadLink 从链接加载文档
	LoadLink(ctx context.Context, link string) ([]Document, error)
}

// Parser 格式解析器
// 负责将某种格式的内容转换为纯文本和附加元数据
type Parser interface {
	// ParseReader 从Reader解析内容，filename用于确定格式和标题
	ParseReader(r io.Reader, filename string) (string, map[string]string, error)
}

// ContentType 文档内容类型
type ContentType string

const (
	// PDF 文档类型
	PDF ContentType = "pdf"
	// Markdown 文档类型
	Markdown ContentType = "markdown"
	// PlainText 纯文本类型
	PlainText ContentType = "plaintext"
	// HTML 网页类型
	HTML ContentType = "html"
	// Unknown 未知类型
	Unknown ContentType = "unknown"
)

// ErrUnsupportedType 不支持的文档类型
var ErrUnsupportedType = errors.New("unsupported document type")

// ParserFor 根据文件名创建对应的解析器
func ParserFor(filename string) (Parser, error) {
	switch DetectContentType(filename) {
	case PDF:
		return NewPDFParser(), nil
	case Markdown:
		return NewMarkdownParser(), nil
	case PlainText:
		return NewPlainTextParser(), nil
	case HTML:
		return NewHTMLParser(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(filename))
	}
}

// DetectContentType 根据文件扩展名检测内容类型
func DetectContentType(filename string) ContentType {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return PDF
	case ".md", ".markdown":
		return Markdown
	case ".txt", ".text", "":
		return PlainText
	case ".html", ".htm":
		return HTML
	default:
		return Unknown
	}
}

// FileLoader 本地文件加载器
// 按扩展名选择解析器，链接交给LinkLoader
type FileLoader struct {
	links *LinkLoader
}

// NewFileLoader 创建文件加载器
func NewFileLoader(links *LinkLoader) *FileLoader {
	if links == nil {
		links = NewLinkLoader()
	}
	return &FileLoader{links: links}
}

// LoadFile 加载本地文件
func (l *FileLoader) LoadFile(ctx context.Context, path string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, newLoaderError(path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, newLoaderError(path, err)
	}
	if info.IsDir() {
		return nil, newLoaderError(path, errors.New("path is a directory"))
	}

	parser, err := ParserFor(path)
	if err != nil {
		return nil, newLoaderError(path, err)
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, newLoaderError(path, err)
	}
	defer file.Close()

	text, extra, err := parser.ParseReader(file, filepath.Base(path))
	if err != nil {
		return nil, newLoaderError(path, err)
	}

	meta := map[string]string{
		MetaFileName: filepath.Base(path),
		MetaSource:   path,
		MetaFileSize: strconv.FormatInt(info.Size(), 10),
	}
	for k, v := range extra {
		meta[k] = v
	}
	return []Document{NewDocument(text, meta)}, nil
}

// LoadLink 加载链接
func (l *FileLoader) LoadLink(ctx context.Context, link string) ([]Document, error) {
	return l.links.LoadLink(ctx, link)
}

var _ Loader = (*FileLoader)(nil)
