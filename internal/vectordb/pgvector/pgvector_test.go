package pgvector

import (
	"context"
	"os"
	"testing"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/fyerfyer/lang-data/internal/vectordb/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// 需要设置PGVECTOR_URL指向安装了vector扩展的PostgreSQL
func openTestStore(t *testing.T) vectordb.Store {
	url := os.Getenv("PGVECTOR_URL")
	if url == "" {
		t.Skip("PGVECTOR_URL not set, skipping pgvector tests")
	}
	store, err := vectordb.Open(vectordb.Config{Type: "pgvector", URL: url})
	require.NoError(t, err)
	for _, name := range storetest.Collections {
		store.DropCollection(context.Background(), name)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestConformance(t *testing.T) {
	storetest.Run(t, openTestStore)
}

func TestRequiresURL(t *testing.T) {
	_, err := New(vectordb.Config{})
	var cfgErr *document.ConfigError
	assert.ErrorAs(t, err, &cfgErr)
}

func TestEncodeMetadata(t *testing.T) {
	s, err := encodeMetadata(nil)
	require.NoError(t, err)
	assert.Equal(t, "{}", s)

	s, err = encodeMetadata(map[string]string{"b": "2", "a": "1"})
	require.NoError(t, err)
	assert.Equal(t, `{"a":"1","b":"2"}`, s)
}
