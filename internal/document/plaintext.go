package document

import (
	"fmt"
	"io"
)

// PlainTextParser 纯文本解析器
type PlainTextParser struct{}

// NewPlainTextParser 创建一个新的纯文本解析器
func NewPlainTextParser() Parser {
	return &PlainTextParser{}
}

// ParseReader 读取全部文本
func (p *PlainTextParser) ParseReader(r io.Reader, filename string) (string, map[string]string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read text file: %w", err)
	}
	return string(content), nil, nil
}
