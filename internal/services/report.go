package services

import (
	"fmt"
	"strings"
	"time"
)

// DocumentResult 单个文档的导入结果
type DocumentResult struct {
	Index    int      `json:"index"`               // 输入中的位置
	Source   string   `json:"source,omitempty"`    // 文档来源
	ChunkIDs []string `json:"chunk_ids,omitempty"` // 写入的向量ID，按lookup_index排列
	Err      error    `json:"-"`                   // 失败原因
}

// Failed 是否失败
func (r DocumentResult) Failed() bool {
	return r.Err != nil
}

// IngestReport 导入报告
type IngestReport struct {
	Results   []DocumentResult `json:"results"`
	Documents int              `json:"documents"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Chunks    int              `json:"chunks"`
	Duration  time.Duration    `json:"duration"`
}

// finish 统计结果，有失败时返回IngestError
func (r *IngestReport) finish() error {
	r.Documents = len(r.Results)
	r.Succeeded, r.Failed, r.Chunks = 0, 0, 0

	var failures []DocumentResult
	for _, res := range r.Results {
		if res.Failed() {
			r.Failed++
			failures = append(failures, res)
			continue
		}
		r.Succeeded++
		r.Chunks += len(res.ChunkIDs)
	}
	if len(failures) == 0 {
		return nil
	}
	return &IngestError{Failures: failures, Total: r.Documents}
}

// IngestError 部分或全部文档导入失败
type IngestError struct {
	Failures []DocumentResult // 失败的文档
	Total    int              // 文档总数
}

// Error 实现error接口
func (e *IngestError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%d of %d documents failed to ingest", len(e.Failures), e.Total)
	for i, f := range e.Failures {
		if i == 3 {
			fmt.Fprintf(&b, "; and %d more", len(e.Failures)-i)
			break
		}
		fmt.Fprintf(&b, "; [%d] %s: %v", f.Index, f.Source, f.Err)
	}
	return b.String()
}

// Unwrap 返回每个失败文档的错误
func (e *IngestError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f.Err
	}
	return errs
}
