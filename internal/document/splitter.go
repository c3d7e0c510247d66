package document

import (
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"
)

// SplitterType 分段器类型
type SplitterType string

const (
	// CharacterType 按固定分隔符切分
	CharacterType SplitterType = "character"
	// RecursiveType 按优先级分隔符递归切分
	RecursiveType SplitterType = "recursive"
)

// DefaultSeparator 默认分隔符（段落）
const DefaultSeparator = "\n\n"

// DefaultRecursiveSeparators 递归分段器的分隔符优先级：段落、行、句子、单词
var DefaultRecursiveSeparators = []string{"\n\n", "\n", ". ", " "}

// Splitter 文本分段器接口
// 将一个文档切分为有序的分块文档
type Splitter interface {
	// Split 切分文档，每个分块带有lookup_index元数据
	Split(doc Document) ([]Document, error)
}

// SplitterConfig 分段器配置
// 长度按字符（rune）计算
type SplitterConfig struct {
	ChunkSize        int    // 分块大小
	ChunkOverlap     int    // 相邻分块的重叠大小
	Separator        string // 分隔符
	IsSeparatorRegex bool   // 分隔符是否为正则表达式
}

// DefaultSplitterConfig 返回默认分段器配置
func DefaultSplitterConfig() SplitterConfig {
	return SplitterConfig{
		ChunkSize:    1000,
		ChunkOverlap: 200,
		Separator:    DefaultSeparator,
	}
}

// Validate 校验分块参数
func (c SplitterConfig) Validate() error {
	if c.ChunkSize <= 0 {
		return NewConfigError("chunk_size", "must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 {
		return NewConfigError("chunk_overlap", "must not be negative, got %d", c.ChunkOverlap)
	}
	if c.ChunkOverlap >= c.ChunkSize {
		return NewConfigError("chunk_overlap", "must be smaller than chunk_size (%d >= %d)", c.ChunkOverlap, c.ChunkSize)
	}
	return nil
}

// NewSplitter 根据类型创建分段器
func NewSplitter(kind SplitterType, cfg SplitterConfig) (Splitter, error) {
	switch kind {
	case CharacterType, "":
		s, err := NewCharacterSplitter(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	case RecursiveType:
		s, err := NewRecursiveSplitter(cfg)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, NewConfigError("splitter", "unsupported splitter type: %s", kind)
	}
}

// CharacterSplitter 固定分隔符分段器
type CharacterSplitter struct {
	config  SplitterConfig
	pattern *regexp.Regexp // 正则模式下的分隔符
}

// NewCharacterSplitter 创建固定分隔符分段器
func NewCharacterSplitter(cfg SplitterConfig) (*CharacterSplitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Separator == "" {
		return nil, NewConfigError("separator", "must not be empty")
	}

	s := &CharacterSplitter{config: cfg}
	if cfg.IsSeparatorRegex {
		re, err := regexp.Compile(cfg.Separator)
		if err != nil {
			return nil, NewConfigError("separator", "invalid pattern %q: %v", cfg.Separator, err)
		}
		s.pattern = re
	}
	return s, nil
}

// Split 切分文档
func (s *CharacterSplitter) Split(doc Document) ([]Document, error) {
	return toChunks(doc, s.SplitText(doc.Text)), nil
}

// SplitText 切分纯文本
func (s *CharacterSplitter) SplitText(text string) []string {
	if text == "" {
		return nil
	}
	if s.pattern != nil {
		return s.splitByPattern(text)
	}
	return s.splitBySeparator(text)
}

// splitByPattern 正则模式，忽略大小和重叠，丢弃末尾的空片段
func (s *CharacterSplitter) splitByPattern(text string) []string {
	parts := s.pattern.Split(text, -1)
	for len(parts) > 0 && parts[len(parts)-1] == "" {
		parts = parts[:len(parts)-1]
	}
	return parts
}

// splitBySeparator 滑动窗口切分
// 分块结尾向后延伸到下一个分隔符之后，输出时去掉分块内的分隔符
func (s *CharacterSplitter) splitBySeparator(text string) []string {
	runes := []rune(text)
	length := len(runes)
	size, overlap := s.config.ChunkSize, s.config.ChunkOverlap
	seps := separatorSpans(runes, []rune(s.config.Separator))

	var chunks []string
	start := 0
	for start < length {
		end := min(start+size, length)

		// 跨越end的分隔符也要整体包含进来
		if i := sort.Search(len(seps), func(i int) bool { return seps[i].end > end }); i < len(seps) {
			end = seps[i].end
		}

		chunks = append(chunks, stripSpans(runes, start, end, seps))

		if end < length {
			start = end - overlap
		} else {
			start = end
		}
	}
	return chunks
}

// span 分隔符在rune切片中的位置，左闭右开
type span struct {
	start, end int
}

// separatorSpans 从左到右查找互不重叠的分隔符
func separatorSpans(runes, sep []rune) []span {
	var spans []span
	for i := indexRunes(runes, sep, 0); i >= 0; i = indexRunes(runes, sep, i+len(sep)) {
		spans = append(spans, span{i, i + len(sep)})
	}
	return spans
}

// stripSpans 返回[start, end)中去掉完整分隔符后的文本
// 重叠部分从分隔符中间开始时保留残缺的部分
func stripSpans(runes []rune, start, end int, spans []span) string {
	var b strings.Builder
	pos := start
	for i := sort.Search(len(spans), func(i int) bool { return spans[i].start >= start }); i < len(spans) && spans[i].end <= end; i++ {
		b.WriteString(string(runes[pos:spans[i].start]))
		pos = spans[i].end
	}
	b.WriteString(string(runes[pos:end]))
	return b.String()
}

// RecursiveSplitter 递归分段器
// 依次使用优先级更低的分隔符切分过长的片段，最后按字符硬切
type RecursiveSplitter struct {
	config     SplitterConfig
	separators []string
}

// NewRecursiveSplitter 创建递归分段器
// separators为空时使用DefaultRecursiveSeparators
func NewRecursiveSplitter(cfg SplitterConfig, separators ...string) (*RecursiveSplitter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if len(separators) == 0 {
		separators = DefaultRecursiveSeparators
	}
	for _, sep := range separators {
		if sep == "" {
			return nil, NewConfigError("separators", "must not contain an empty separator")
		}
	}
	return &RecursiveSplitter{
		config:     cfg,
		separators: append([]string(nil), separators...),
	}, nil
}

// Split 切分文档
func (s *RecursiveSplitter) Split(doc Document) ([]Document, error) {
	return toChunks(doc, s.SplitText(doc.Text)), nil
}

// SplitText 切分纯文本
// 分隔符保留在它所结束的片段末尾
func (s *RecursiveSplitter) SplitText(text string) []string {
	if text == "" {
		return nil
	}
	return s.split(text, s.separators)
}

func (s *RecursiveSplitter) split(text string, separators []string) []string {
	if utf8.RuneCountInString(text) <= s.config.ChunkSize {
		return []string{text}
	}
	if len(separators) == 0 {
		return s.hardSplit(text)
	}

	sep, rest := separators[0], separators[1:]
	if !strings.Contains(text, sep) {
		return s.split(text, rest)
	}

	var chunks []string
	var window []string
	for _, piece := range splitKeep(text, sep) {
		if utf8.RuneCountInString(piece) > s.config.ChunkSize {
			chunks = append(chunks, s.merge(window)...)
			window = nil
			chunks = append(chunks, s.split(piece, rest)...)
			continue
		}
		window = append(window, piece)
	}
	return append(chunks, s.merge(window)...)
}

// merge 将小片段贪心合并到ChunkSize，相邻分块保留不超过ChunkOverlap的尾部片段
func (s *RecursiveSplitter) merge(pieces []string) []string {
	var chunks []string
	var window []string
	total := 0

	for _, piece := range pieces {
		n := utf8.RuneCountInString(piece)
		if total+n > s.config.ChunkSize && len(window) > 0 {
			chunks = append(chunks, strings.Join(window, ""))
			for len(window) > 0 && (total > s.config.ChunkOverlap || total+n > s.config.ChunkSize) {
				total -= utf8.RuneCountInString(window[0])
				window = window[1:]
			}
		}
		window = append(window, piece)
		total += n
	}
	if len(window) > 0 {
		chunks = append(chunks, strings.Join(window, ""))
	}
	return chunks
}

// hardSplit 按字符硬切，带重叠
func (s *RecursiveSplitter) hardSplit(text string) []string {
	runes := []rune(text)
	step := s.config.ChunkSize - s.config.ChunkOverlap

	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + s.config.ChunkSize
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// SplitDocuments 批量切分文档，按输入顺序拼接结果
func SplitDocuments(s Splitter, docs []Document) ([]Document, error) {
	var out []Document
	for _, doc := range docs {
		chunks, err := s.Split(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, chunks...)
	}
	return out, nil
}

func toChunks(parent Document, texts []string) []Document {
	chunks := make([]Document, 0, len(texts))
	for i, text := range texts {
		chunks = append(chunks, parent.withChunkIndex(text, i))
	}
	return chunks
}

// splitKeep 按分隔符切分并保留分隔符
func splitKeep(text, sep string) []string {
	var parts []string
	for {
		i := strings.Index(text, sep)
		if i < 0 {
			break
		}
		parts = append(parts, text[:i+len(sep)])
		text = text[i+len(sep):]
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}

// indexRunes 从from开始查找sep，返回rune下标
func indexRunes(runes, sep []rune, from int) int {
	for i := from; i+len(sep) <= len(runes); i++ {
		match := true
		for j := range sep {
			if runes[i+j] != sep[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}
