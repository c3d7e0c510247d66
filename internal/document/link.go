package document

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// HTMLParser 网页解析器
type HTMLParser struct{}

// NewHTMLParser 创建网页解析器
func NewHTMLParser() Parser {
	return &HTMLParser{}
}

var titlePattern = regexp.MustCompile(`(?is)<title[^>]*>(.*?)</title>`)

// ParseReader 提取网页正文和<title>
func (p *HTMLParser) ParseReader(r io.Reader, filename string) (string, map[string]string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read html content: %w", err)
	}

	meta := map[string]string{}
	page := string(content)
	if m := titlePattern.FindStringSubmatch(page); m != nil {
		meta[MetaTitle] = strings.TrimSpace(unescapeEntities(m[1]))
		page = strings.Replace(page, m[0], "", 1)
	}
	return extractTextFromHTML(page), meta, nil
}

// LinkLoader 链接加载器
// 通过HTTP获取内容，按Content-Type选择解析器
type LinkLoader struct {
	client  *http.Client
	maxSize int64
}

// LinkOption 链接加载器配置选项
type LinkOption func(*LinkLoader)

// WithHTTPClient 设置HTTP客户端
func WithHTTPClient(client *http.Client) LinkOption {
	return func(l *LinkLoader) {
		if client != nil {
			l.client = client
		}
	}
}

// WithMaxSize 设置最大下载字节数
func WithMaxSize(n int64) LinkOption {
	return func(l *LinkLoader) {
		if n > 0 {
			l.maxSize = n
		}
	}
}

// NewLinkLoader 创建链接加载器
func NewLinkLoader(opts ...LinkOption) *LinkLoader {
	l := &LinkLoader{
		client:  &http.Client{Timeout: 30 * time.Second},
		maxSize: 20 << 20,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LoadFile 本地文件交给FileLoader处理
func (l *LinkLoader) LoadFile(ctx context.Context, p string) ([]Document, error) {
	return NewFileLoader(l).LoadFile(ctx, p)
}

// LoadLink 下载并解析链接
func (l *LinkLoader) LoadLink(ctx context.Context, link string) ([]Document, error) {
	u, err := url.Parse(link)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, newLoaderError(link, fmt.Errorf("invalid link"))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, link, nil)
	if err != nil {
		return nil, newLoaderError(link, err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, newLoaderError(link, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		return nil, newLoaderError(link, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, l.maxSize))
	if err != nil {
		return nil, newLoaderError(link, err)
	}

	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = u.Host
	}

	parser, err := parserForResponse(resp.Header.Get("Content-Type"), name)
	if err != nil {
		return nil, newLoaderError(link, err)
	}
	text, extra, err := parser.ParseReader(strings.NewReader(string(body)), name)
	if err != nil {
		return nil, newLoaderError(link, err)
	}

	meta := map[string]string{
		MetaFileName: name,
		MetaSource:   link,
		MetaFileSize: strconv.Itoa(len(body)),
	}
	for k, v := range extra {
		meta[k] = v
	}
	return []Document{NewDocument(text, meta)}, nil
}

// parserForResponse Content-Type优先，其次扩展名
func parserForResponse(contentType, name string) (Parser, error) {
	mediaType, _, _ := mime.ParseMediaType(contentType)
	switch mediaType {
	case "text/html", "application/xhtml+xml":
		return NewHTMLParser(), nil
	case "text/markdown":
		return NewMarkdownParser(), nil
	case "application/pdf":
		return NewPDFParser(), nil
	case "text/plain":
		return NewPlainTextParser(), nil
	}
	return ParserFor(name)
}

var _ Loader = (*LinkLoader)(nil)
