package document

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PDFParser PDF文档解析器
type PDFParser struct{}

// NewPDFParser 创建一个新的PDF解析器
func NewPDFParser() Parser {
	return &PDFParser{}
}

// ParseReader 提取PDF各页内容流中的文本
// pdfcpu需要文件路径，先写入临时文件
func (p *PDFParser) ParseReader(r io.Reader, filename string) (string, map[string]string, error) {
	tmpDir, err := os.MkdirTemp("", "pdfcpu_extract_")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	inFile := filepath.Join(tmpDir, "input.pdf")
	out, err := os.Create(inFile)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return "", nil, fmt.Errorf("failed to buffer pdf: %w", err)
	}
	out.Close()

	pages, err := api.PageCountFile(inFile)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read PDF: %w", err)
	}

	contentDir := filepath.Join(tmpDir, "content")
	if err := os.MkdirAll(contentDir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create content dir: %w", err)
	}
	conf := model.NewDefaultConfiguration()
	if err := api.ExtractContentFile(inFile, contentDir, nil, conf); err != nil {
		return "", nil, fmt.Errorf("failed to extract text from PDF: %w", err)
	}

	files, err := os.ReadDir(contentDir)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read extracted text dir: %w", err)
	}
	var names []string
	for _, f := range files {
		if strings.HasSuffix(f.Name(), ".txt") {
			names = append(names, f.Name())
		}
	}
	sort.Slice(names, func(i, j int) bool {
		return pageNumber(names[i]) < pageNumber(names[j])
	})

	var all strings.Builder
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(contentDir, name))
		if err != nil {
			return "", nil, fmt.Errorf("failed to read page content: %w", err)
		}
		text := contentStreamText(string(data))
		if text == "" {
			continue
		}
		if all.Len() > 0 {
			all.WriteString("\n\n")
		}
		all.WriteString(text)
	}

	result := strings.TrimSpace(all.String())
	if result == "" {
		return "", nil, fmt.Errorf("no text content found in PDF")
	}
	return result, map[string]string{MetaNumberOfPages: strconv.Itoa(pages)}, nil
}

var (
	pageSuffixPattern = regexp.MustCompile(`(\d+)\.txt$`)
	showTextPattern   = regexp.MustCompile(`\((?:\\.|[^\\)])*\)|\bT\*|\bET\b|\bTd\b|\bTD\b|'`)
)

func pageNumber(name string) int {
	m := pageSuffixPattern.FindStringSubmatch(name)
	if m == nil {
		return 0
	}
	n, _ := strconv.Atoi(m[1])
	return n
}

// contentStreamText 从内容流中收集字符串字面量
// 文本块结束或换行操作符处断行
func contentStreamText(stream string) string {
	var b strings.Builder
	for _, tok := range showTextPattern.FindAllString(stream, -1) {
		if strings.HasPrefix(tok, "(") {
			b.WriteString(unescapePDFString(tok[1 : len(tok)-1]))
			continue
		}
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteString("\n")
		}
	}
	return strings.TrimSpace(b.String())
}

var pdfEscapes = strings.NewReplacer(`\(`, "(", `\)`, ")", `\\`, `\`, `\n`, "\n", `\r`, "", `\t`, "\t")

func unescapePDFString(s string) string {
	return pdfEscapes.Replace(s)
}
