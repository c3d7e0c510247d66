package vectordb

import (
	"encoding/binary"
	"fmt"
	"math"
	"sort"

	"github.com/google/uuid"
)

// ComputeDistance 计算两个向量间的距离
// 点积返回的是相似度本身
func ComputeDistance(v1, v2 []float32, distType DistanceType) (float32, error) {
	if len(v1) != len(v2) {
		return 0, fmt.Errorf("vector dimensions do not match: %d vs %d", len(v1), len(v2))
	}

	switch distType {
	case Cosine:
		return cosineDistance(v1, v2), nil
	case DotProduct:
		return dotProduct(v1, v2), nil
	case Euclidean:
		return euclideanDistance(v1, v2), nil
	default:
		return 0, fmt.Errorf("unsupported distance type: %s", distType)
	}
}

// cosineDistance 余弦距离 = 1 - 余弦相似度
func cosineDistance(v1, v2 []float32) float32 {
	norm1 := VectorNorm(v1)
	norm2 := VectorNorm(v2)
	if norm1 == 0 || norm2 == 0 {
		return 1.0
	}

	similarity := dotProduct(v1, v2) / (norm1 * norm2)
	// 处理浮点精度问题
	if similarity > 1.0 {
		similarity = 1.0
	}
	return 1.0 - similarity
}

func dotProduct(v1, v2 []float32) float32 {
	var dot float32
	for i := 0; i < len(v1); i++ {
		dot += v1[i] * v2[i]
	}
	return dot
}

func euclideanDistance(v1, v2 []float32) float32 {
	var sum float32
	for i := 0; i < len(v1); i++ {
		d := v1[i] - v2[i]
		sum += d * d
	}
	return float32(math.Sqrt(float64(sum)))
}

// VectorNorm 计算向量的L2范数
func VectorNorm(v []float32) float32 {
	var sum float32
	for _, val := range v {
		sum += val * val
	}
	return float32(math.Sqrt(float64(sum)))
}

// NormalizeVector 返回单位长度的副本，零向量原样返回
func NormalizeVector(v []float32) []float32 {
	norm := VectorNorm(v)
	if norm == 0 {
		return v
	}
	result := make([]float32, len(v))
	for i, val := range v {
		result[i] = val / norm
	}
	return result
}

// DistanceToScore 将距离转换为评分，越大越相似
func DistanceToScore(distance float32, distType DistanceType) float32 {
	switch distType {
	case Cosine:
		return 1 - distance
	case DotProduct:
		// 归一化向量的点积在[-1, 1]之间
		return (distance + 1) / 2
	case Euclidean:
		return float32(math.Exp(-float64(distance)))
	default:
		return 0
	}
}

// MatchFilter 检查元数据是否满足过滤条件
func MatchFilter(metadata map[string]string, filter *Filter) bool {
	if filter == nil {
		return true
	}
	for key, want := range filter.Metadata {
		got, ok := metadata[key]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// SortResults 按评分降序排序，评分相同按ID排序
func SortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
}

// Rank 对候选记录做精确排序，返回前k条
func Rank(query []float32, candidates []Record, distType DistanceType, k int, filter *Filter) ([]Result, error) {
	results := make([]Result, 0, len(candidates))
	for _, rec := range candidates {
		if !MatchFilter(rec.Metadata, filter) {
			continue
		}
		dist, err := ComputeDistance(query, rec.Vector, distType)
		if err != nil {
			return nil, err
		}
		results = append(results, Result{
			ID:       rec.ID,
			Text:     rec.Text,
			Score:    DistanceToScore(dist, distType),
			Distance: dist,
			Metadata: CopyMetadata(rec.Metadata),
		})
	}
	SortResults(results)
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// ValidateVector 验证向量维度
func ValidateVector(op, collection string, vector []float32, expectedDim int) error {
	if len(vector) == 0 {
		return Errorf(op, KindInvalidArgument, collection, "empty vector")
	}
	if expectedDim > 0 && len(vector) != expectedDim {
		return Errorf(op, KindDimensionMismatch, collection, "expected dimension %d, got %d", expectedDim, len(vector))
	}
	return nil
}

// ValidateK 检查结果数量
func ValidateK(collection string, k int) error {
	if k <= 0 {
		return Errorf("search", KindInvalidArgument, collection, "k must be positive, got %d", k)
	}
	return nil
}

// NewID 生成记录ID
func NewID() string {
	return uuid.NewString()
}

// PrepareRecords 校验维度并补全ID，返回独立副本和按输入顺序排列的ID
func PrepareRecords(collection string, records []Record, dimension int) ([]Record, []string, error) {
	out := make([]Record, len(records))
	ids := make([]string, len(records))
	for i, rec := range records {
		if err := ValidateVector("upsert", collection, rec.Vector, dimension); err != nil {
			return nil, nil, err
		}
		if rec.ID == "" {
			rec.ID = NewID()
		}
		vec := make([]float32, len(rec.Vector))
		copy(vec, rec.Vector)
		rec.Vector = vec
		rec.Metadata = CopyMetadata(rec.Metadata)
		out[i] = rec
		ids[i] = rec.ID
	}
	return out, ids, nil
}

// CopyMetadata 复制元数据映射
func CopyMetadata(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// EncodeVector 按小端float32编码向量
func EncodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(f))
	}
	return buf
}

// DecodeVector 解码EncodeVector的输出
func DecodeVector(buf []byte) ([]float32, error) {
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("invalid vector blob length %d", len(buf))
	}
	v := make([]float32, len(buf)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return v, nil
}
