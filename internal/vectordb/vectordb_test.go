package vectordb

import (
	"errors"
	"math"
	"testing"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDistance(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}

	d, err := ComputeDistance(a, a, Cosine)
	require.NoError(t, err)
	assert.InDelta(t, 0, d, 1e-6)

	d, err = ComputeDistance(a, b, Cosine)
	require.NoError(t, err)
	assert.InDelta(t, 1, d, 1e-6)

	d, err = ComputeDistance([]float32{3, 0}, []float32{0, 4}, Euclidean)
	require.NoError(t, err)
	assert.InDelta(t, 5, d, 1e-6)

	d, err = ComputeDistance([]float32{1, 2}, []float32{3, 4}, DotProduct)
	require.NoError(t, err)
	assert.InDelta(t, 11, d, 1e-6)

	_, err = ComputeDistance(a, []float32{1, 2, 3}, Cosine)
	assert.Error(t, err)

	_, err = ComputeDistance(a, b, DistanceType("hamming"))
	assert.Error(t, err)
}

func TestZeroVectorCosine(t *testing.T) {
	d, err := ComputeDistance([]float32{0, 0}, []float32{1, 0}, Cosine)
	require.NoError(t, err)
	assert.InDelta(t, 1, d, 1e-6)
}

func TestNormalizeVector(t *testing.T) {
	v := NormalizeVector([]float32{3, 4})
	assert.InDelta(t, 0.6, v[0], 1e-6)
	assert.InDelta(t, 0.8, v[1], 1e-6)
	assert.InDelta(t, 1, VectorNorm(v), 1e-6)

	zero := NormalizeVector([]float32{0, 0})
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestDistanceToScore(t *testing.T) {
	assert.InDelta(t, 1, DistanceToScore(0, Cosine), 1e-6)
	assert.InDelta(t, 0.25, DistanceToScore(0.75, Cosine), 1e-6)
	assert.InDelta(t, 1, DistanceToScore(1, DotProduct), 1e-6)
	assert.InDelta(t, 0.5, DistanceToScore(0, DotProduct), 1e-6)
	assert.InDelta(t, 1, DistanceToScore(0, Euclidean), 1e-6)
	assert.InDelta(t, math.Exp(-2), DistanceToScore(2, Euclidean), 1e-6)
}

func TestRank(t *testing.T) {
	candidates := []Record{
		{ID: "c", Vector: []float32{0, 1}, Metadata: map[string]string{"lang": "go"}},
		{ID: "a", Vector: []float32{1, 0}, Metadata: map[string]string{"lang": "go"}},
		{ID: "b", Vector: []float32{1, 0}, Metadata: map[string]string{"lang": "rust"}},
		{ID: "d", Vector: []float32{1, 1}},
	}

	results, err := Rank([]float32{1, 0}, candidates, Cosine, 3, nil)
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "b", results[1].ID)
	assert.Equal(t, "d", results[2].ID)

	results, err = Rank([]float32{1, 0}, candidates, Cosine, 10, &Filter{Metadata: map[string]string{"lang": "go"}})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)

	results[0].Metadata["lang"] = "changed"
	assert.Equal(t, "go", candidates[1].Metadata["lang"])
}

func TestMatchFilter(t *testing.T) {
	meta := map[string]string{"a": "1", "b": "2"}
	assert.True(t, MatchFilter(meta, nil))
	assert.True(t, MatchFilter(meta, &Filter{}))
	assert.True(t, MatchFilter(meta, &Filter{Metadata: map[string]string{"a": "1"}}))
	assert.False(t, MatchFilter(meta, &Filter{Metadata: map[string]string{"a": "2"}}))
	assert.False(t, MatchFilter(nil, &Filter{Metadata: map[string]string{"c": ""}}))
}

func TestPrepareRecords(t *testing.T) {
	in := []Record{
		{ID: "fixed", Vector: []float32{1, 2}, Metadata: map[string]string{"k": "v"}},
		{Vector: []float32{3, 4}},
	}
	out, ids, err := PrepareRecords("docs", in, 2)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, "fixed", ids[0])
	_, err = uuid.Parse(ids[1])
	assert.NoError(t, err)

	out[0].Vector[0] = 42
	out[0].Metadata["k"] = "changed"
	assert.Equal(t, float32(1), in[0].Vector[0])
	assert.Equal(t, "v", in[0].Metadata["k"])
	assert.Empty(t, in[1].ID)

	_, _, err = PrepareRecords("docs", []Record{{Vector: []float32{1}}}, 2)
	assert.Equal(t, KindDimensionMismatch, KindOf(err))

	_, _, err = PrepareRecords("docs", []Record{{}}, 2)
	assert.Equal(t, KindInvalidArgument, KindOf(err))
}

func TestVectorCodec(t *testing.T) {
	v := []float32{1.5, -2, 0, float32(math.Pi)}
	decoded, err := DecodeVector(EncodeVector(v))
	require.NoError(t, err)
	assert.Equal(t, v, decoded)

	_, err = DecodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestStoreErrors(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap("search", "docs", base)
	assert.Equal(t, KindBackend, KindOf(err))
	assert.ErrorIs(t, err, base)
	assert.Equal(t, "vectordb search docs: backend error: connection refused", err.Error())

	notFound := CollectionNotFound("upsert", "docs")
	assert.True(t, IsNotFound(notFound))
	assert.Same(t, notFound, Wrap("upsert", "docs", notFound))

	assert.True(t, IsAlreadyExists(CollectionExists("docs", 4, 4)))
	assert.Equal(t, KindDimensionMismatch, KindOf(CollectionExists("docs", 4, 8)))

	assert.Nil(t, Wrap("search", "docs", nil))
	assert.Equal(t, ErrorKind(""), KindOf(base))
	assert.Equal(t, KindInvalidArgument, KindOf(ValidateK("docs", 0)))
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(Config{Type: "does-not-exist"})
	require.Error(t, err)
	var cfgErr *document.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestOpenDefaultsDistance(t *testing.T) {
	var got Config
	Register("capture-test", func(cfg Config) (Store, error) {
		got = cfg
		return nil, nil
	})
	_, err := Open(Config{Type: "capture-test"})
	require.NoError(t, err)
	assert.Equal(t, Cosine, got.Distance)
	assert.Contains(t, Backends(), "capture-test")
}
