package document

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/gomarkdown/markdown"
	"github.com/gomarkdown/markdown/html"
	"github.com/gomarkdown/markdown/parser"
)

// MarkdownParser Markdown文档解析器
type MarkdownParser struct{}

// NewMarkdownParser 创建新的Markdown解析器
func NewMarkdownParser() Parser {
	return &MarkdownParser{}
}

// ParseReader 渲染为HTML后提取纯文本，第一个一级标题作为Title
func (p *MarkdownParser) ParseReader(r io.Reader, filename string) (string, map[string]string, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read markdown content: %w", err)
	}

	extensions := parser.CommonExtensions | parser.AutoHeadingIDs
	doc := parser.NewWithExtensions(extensions).Parse(content)

	renderer := html.NewRenderer(html.RendererOptions{Flags: html.CommonFlags})
	rendered := markdown.Render(doc, renderer)

	meta := map[string]string{}
	if title := markdownTitle(string(content)); title != "" {
		meta[MetaTitle] = title
	}
	return extractTextFromHTML(string(rendered)), meta, nil
}

// markdownTitle 返回第一个一级标题
func markdownTitle(content string) string {
	for _, line := range strings.Split(content, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(line[2:])
		}
	}
	return ""
}

var (
	tagPattern        = regexp.MustCompile(`<[^>]*>`)
	blockClosePattern = regexp.MustCompile(`(?i)</(p|h[1-6]|ul|ol|pre|blockquote|table|div)>`)
	lineBreakPattern  = regexp.MustCompile(`(?i)<br\s*/?>|</li>|</tr>`)
	scriptPattern     = regexp.MustCompile(`(?is)<(script|style)[^>]*>.*?</(script|style)>`)
	spacePattern      = regexp.MustCompile(`[ \t\r\f\v]+`)
	blankLinesPattern = regexp.MustCompile(`\n{3,}`)
)

// extractTextFromHTML 从HTML中提取纯文本
// 块级元素转为空行，保留段落分隔
func extractTextFromHTML(content string) string {
	result := scriptPattern.ReplaceAllString(content, "")
	result = blockClosePattern.ReplaceAllString(result, "\n\n")
	result = lineBreakPattern.ReplaceAllString(result, "\n")
	result = strings.ReplaceAll(result, "<li>", "- ")
	result = tagPattern.ReplaceAllString(result, " ")
	result = unescapeEntities(result)
	return normalizeWhitespace(result)
}

// normalizeWhitespace 压缩行内空白，最多保留一个空行
func normalizeWhitespace(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(spacePattern.ReplaceAllString(line, " "))
	}
	text = strings.Join(lines, "\n")
	text = blankLinesPattern.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}

var entityReplacer = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&nbsp;", " ",
)

func unescapeEntities(s string) string {
	return entityReplacer.Replace(s)
}
