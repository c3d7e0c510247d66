package document

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentCopiesMetadata(t *testing.T) {
	meta := map[string]string{MetaSource: "a"}
	doc := NewDocument("text", meta)
	meta[MetaSource] = "b"

	assert.Equal(t, "a", doc.Metadata[MetaSource])

	clone := doc.Clone()
	clone.Metadata[MetaSource] = "c"
	assert.Equal(t, "a", doc.Metadata[MetaSource])
}

func TestDocumentEqualIgnoresOrder(t *testing.T) {
	a := NewDocument("x", map[string]string{"k1": "1", "k2": "2"})
	b := Document{Text: "x", Metadata: map[string]string{"k2": "2", "k1": "1"}}
	assert.True(t, a.Equal(b))

	b.Metadata["k3"] = "3"
	assert.False(t, a.Equal(b))
	assert.False(t, a.Equal(NewDocument("y", a.Metadata)))
}

func TestDocumentDeterministicJSON(t *testing.T) {
	doc := NewDocument("x", map[string]string{"b": "2", "a": "1", "c": "3"})
	assert.Equal(t, []string{"a", "b", "c"}, doc.Keys())

	first, err := json.Marshal(doc)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := json.Marshal(doc.Clone())
		require.NoError(t, err)
		assert.Equal(t, string(first), string(again))
	}
	assert.JSONEq(t, `{"text":"x","metadata":{"a":"1","b":"2","c":"3"}}`, string(first))
}

func TestLookupIndex(t *testing.T) {
	assert.Equal(t, -1, NewDocument("x", nil).LookupIndex())
	assert.Equal(t, 3, NewDocument("x", map[string]string{MetaLookupIndex: "3"}).LookupIndex())
	assert.Equal(t, -1, NewDocument("x", map[string]string{MetaLookupIndex: "x"}).LookupIndex())
}
