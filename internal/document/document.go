package document

import (
	"sort"
	"strconv"
)

// 元数据常用键
const (
	MetaFileName      = "FileName"      // 文件名
	MetaSource        = "Source"        // 来源路径或URL
	MetaFileSize      = "FileSize"      // 文件大小（字节）
	MetaNumberOfPages = "NumberOfPages" // PDF页数
	MetaTitle         = "Title"         // 标题
	MetaLookupIndex   = "lookup_index"  // 分块在父文档中的位置
)

// Document 统一的文档表示
// 文本加上字符串键值元数据，构造后不再修改
type Document struct {
	Text     string            `json:"text"`
	Metadata map[string]string `json:"metadata"`
}

// NewDocument 创建文档，元数据会被复制
func NewDocument(text string, metadata map[string]string) Document {
	return Document{
		Text:     text,
		Metadata: copyMetadata(metadata),
	}
}

// Clone 深拷贝文档
func (d Document) Clone() Document {
	return NewDocument(d.Text, d.Metadata)
}

// Get 读取元数据值
func (d Document) Get(key string) (string, bool) {
	if d.Metadata == nil {
		return "", false
	}
	v, ok := d.Metadata[key]
	return v, ok
}

// Keys 返回排序后的元数据键，用于确定性输出
func (d Document) Keys() []string {
	keys := make([]string, 0, len(d.Metadata))
	for k := range d.Metadata {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal 比较文本和元数据，与插入顺序无关
func (d Document) Equal(other Document) bool {
	if d.Text != other.Text || len(d.Metadata) != len(other.Metadata) {
		return false
	}
	for k, v := range d.Metadata {
		if ov, ok := other.Metadata[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// LookupIndex 返回分块序号，非分块文档返回-1
func (d Document) LookupIndex() int {
	v, ok := d.Get(MetaLookupIndex)
	if !ok {
		return -1
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return i
}

// withChunkIndex 生成带lookup_index的分块文档
func (d Document) withChunkIndex(text string, index int) Document {
	chunk := NewDocument(text, d.Metadata)
	chunk.Metadata[MetaLookupIndex] = strconv.Itoa(index)
	return chunk
}

func copyMetadata(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src)+1)
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
