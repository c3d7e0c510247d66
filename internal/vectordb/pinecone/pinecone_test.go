package pinecone

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/fyerfyer/lang-data/internal/document"
	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/fyerfyer/lang-data/internal/vectordb/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePinecone 控制面和数据面共用一个服务
type fakePinecone struct {
	mu         sync.Mutex
	url        string
	dimension  int
	namespaces map[string]map[string]vectordb.Record
}

func newFakePinecone(t *testing.T, dimension int) *httptest.Server {
	f := &fakePinecone{dimension: dimension, namespaces: make(map[string]map[string]vectordb.Record)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /indexes/{name}", f.describeIndex)
	mux.HandleFunc("POST /describe_index_stats", f.stats)
	mux.HandleFunc("POST /vectors/upsert", f.upsert)
	mux.HandleFunc("POST /query", f.query)
	mux.HandleFunc("POST /vectors/delete", f.delete)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Api-Key") != "pc-key" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		mux.ServeHTTP(w, r)
	}))
	f.url = server.URL
	t.Cleanup(server.Close)
	return server
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func (f *fakePinecone) describeIndex(w http.ResponseWriter, r *http.Request) {
	if r.PathValue("name") != "docs-index" {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, indexDescription{Name: "docs-index", Dimension: f.dimension, Metric: "cosine", Host: f.url})
}

func (f *fakePinecone) stats(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	resp := map[string]interface{}{"dimension": f.dimension}
	namespaces := map[string]interface{}{}
	for ns, vectors := range f.namespaces {
		namespaces[ns] = map[string]int{"vectorCount": len(vectors)}
	}
	resp["namespaces"] = namespaces
	writeJSON(w, resp)
}

func (f *fakePinecone) upsert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vectors   []vector `json:"vectors"`
		Namespace string   `json:"namespace"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	ns := f.namespaces[body.Namespace]
	if ns == nil {
		ns = make(map[string]vectordb.Record)
		f.namespaces[body.Namespace] = ns
	}
	// 元数据按原始键保存，过滤也按原始键匹配
	for _, v := range body.Vectors {
		text, _ := v.Metadata[textKey].(string)
		meta := make(map[string]string, len(v.Metadata))
		for k, val := range v.Metadata {
			if str, ok := val.(string); ok && k != textKey {
				meta[k] = str
			}
		}
		ns[v.ID] = vectordb.Record{ID: v.ID, Vector: v.Values, Text: text, Metadata: meta}
	}
	writeJSON(w, map[string]int{"upsertedCount": len(body.Vectors)})
}

func (f *fakePinecone) query(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Namespace string                       `json:"namespace"`
		Vector    []float32                    `json:"vector"`
		TopK      int                          `json:"topK"`
		Filter    map[string]map[string]string `json:"filter"`
	}
	json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	defer f.mu.Unlock()

	filter := &vectordb.Filter{Metadata: map[string]string{}}
	for key, cond := range req.Filter {
		filter.Metadata[key] = cond["$eq"]
	}
	var records []vectordb.Record
	for _, rec := range f.namespaces[req.Namespace] {
		records = append(records, rec)
	}
	ranked, _ := vectordb.Rank(req.Vector, records, vectordb.Cosine, req.TopK, filter)

	resp := queryResponse{Matches: make([]match, len(ranked))}
	for i, res := range ranked {
		meta := map[string]interface{}{textKey: res.Text}
		for k, v := range res.Metadata {
			meta[k] = v
		}
		resp.Matches[i] = match{ID: res.ID, Score: res.Score, Metadata: meta}
	}
	writeJSON(w, resp)
}

func (f *fakePinecone) delete(w http.ResponseWriter, r *http.Request) {
	var body struct {
		IDs       []string `json:"ids"`
		DeleteAll bool     `json:"deleteAll"`
		Namespace string   `json:"namespace"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	if body.DeleteAll {
		if _, ok := f.namespaces[body.Namespace]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.namespaces, body.Namespace)
	} else {
		for _, id := range body.IDs {
			delete(f.namespaces[body.Namespace], id)
		}
	}
	writeJSON(w, map[string]interface{}{})
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) vectordb.Store {
		server := newFakePinecone(t, 4)
		store, err := vectordb.Open(vectordb.Config{Type: "pinecone", URL: server.URL, APIKey: "pc-key", Index: "docs-index"})
		require.NoError(t, err)
		return store
	})
}

func TestConfigErrors(t *testing.T) {
	var cfgErr *document.ConfigError
	_, err := New(vectordb.Config{APIKey: "pc-key"})
	assert.ErrorAs(t, err, &cfgErr)
	_, err = New(vectordb.Config{Index: "docs-index"})
	assert.ErrorAs(t, err, &cfgErr)
}

func TestUnknownIndex(t *testing.T) {
	server := newFakePinecone(t, 4)
	_, err := New(vectordb.Config{URL: server.URL, APIKey: "pc-key", Index: "other"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

// TestDefaultNamespace 空集合名使用default命名空间，文本从元数据中取出
func TestDefaultNamespace(t *testing.T) {
	ctx := context.Background()
	server := newFakePinecone(t, 2)
	store, err := New(vectordb.Config{URL: server.URL, APIKey: "pc-key", Index: "docs-index"})
	require.NoError(t, err)

	require.NoError(t, store.EnsureCollection(ctx, "", 2))
	ids, err := store.Upsert(ctx, "", []vectordb.Record{{Vector: []float32{0, 1}, Text: "hello", Metadata: map[string]string{"Source": "s"}}})
	require.NoError(t, err)

	// 新的Store通过索引统计发现已有命名空间
	fresh, err := New(vectordb.Config{URL: server.URL, APIKey: "pc-key", Index: "docs-index"})
	require.NoError(t, err)
	results, err := fresh.Search(ctx, DefaultNamespace, []float32{0, 1}, 5, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, ids[0], results[0].ID)
	assert.Equal(t, "hello", results[0].Text)
	assert.Equal(t, map[string]string{"Source": "s"}, results[0].Metadata)
}

// TestReservedTextKey 用户元数据中的text键不会覆盖分块文本
func TestReservedTextKey(t *testing.T) {
	ctx := context.Background()
	server := newFakePinecone(t, 2)
	store, err := New(vectordb.Config{URL: server.URL, APIKey: "pc-key", Index: "docs-index"})
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(ctx, "docs", 2))

	meta := map[string]string{"text": "user value", "Source": "s"}
	_, err = store.Upsert(ctx, "docs", []vectordb.Record{{Vector: []float32{1, 0}, Text: "chunk body", Metadata: meta}})
	require.NoError(t, err)

	results, err := store.Search(ctx, "docs", []float32{1, 0}, 1, &vectordb.Filter{Metadata: map[string]string{"text": "user value"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "chunk body", results[0].Text)
	assert.Equal(t, meta, results[0].Metadata)
}
