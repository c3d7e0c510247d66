package qdrant

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/fyerfyer/lang-data/internal/vectordb"
	"github.com/fyerfyer/lang-data/internal/vectordb/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeQdrant 内存版Qdrant REST接口，只实现用到的路由
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
	requests    []string
}

type fakeCollection struct {
	size   int
	points map[string]vectordb.Record
}

func newFakeQdrant(t *testing.T) *httptest.Server {
	f := &fakeQdrant{collections: make(map[string]*fakeCollection)}
	mux := http.NewServeMux()
	mux.HandleFunc("GET /collections/{name}", f.getCollection)
	mux.HandleFunc("PUT /collections/{name}", f.createCollection)
	mux.HandleFunc("DELETE /collections/{name}", f.deleteCollection)
	mux.HandleFunc("PUT /collections/{name}/points", f.upsert)
	mux.HandleFunc("POST /collections/{name}/points/search", f.search)
	mux.HandleFunc("POST /collections/{name}/points/delete", f.deletePoints)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("api-key") != "secret" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		f.mu.Lock()
		f.requests = append(f.requests, r.Method+" "+r.URL.RequestURI())
		f.mu.Unlock()
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(server.Close)
	return server
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func notFound(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNotFound)
	w.Write([]byte(`{"status":{"error":"Not found: Collection doesn't exist!"}}`))
}

func (f *fakeQdrant) collection(w http.ResponseWriter, r *http.Request) *fakeCollection {
	c, ok := f.collections[r.PathValue("name")]
	if !ok {
		notFound(w)
		return nil
	}
	return c
}

func (f *fakeQdrant) getCollection(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c := f.collection(w, r); c != nil {
		var info collectionInfo
		info.Result.Config.Params.Vectors.Size = c.size
		info.Result.Config.Params.Vectors.Distance = "Cosine"
		writeJSON(w, info)
	}
}

func (f *fakeQdrant) createCollection(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Vectors struct {
			Size int `json:"size"`
		} `json:"vectors"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[r.PathValue("name")] = &fakeCollection{size: body.Vectors.Size, points: make(map[string]vectordb.Record)}
	writeJSON(w, map[string]interface{}{"result": true})
}

func (f *fakeQdrant) deleteCollection(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.collection(w, r) != nil {
		delete(f.collections, r.PathValue("name"))
		writeJSON(w, map[string]interface{}{"result": true})
	}
}

func (f *fakeQdrant) upsert(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Points []point `json:"points"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.collection(w, r)
	if c == nil {
		return
	}
	for _, p := range body.Points {
		text, meta := fromPayload(p.Payload)
		c.points[p.ID] = vectordb.Record{ID: p.ID, Vector: p.Vector, Text: text, Metadata: meta}
	}
	writeJSON(w, map[string]interface{}{"result": map[string]string{"status": "completed"}})
}

func (f *fakeQdrant) search(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	json.NewDecoder(r.Body).Decode(&req)
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.collection(w, r)
	if c == nil {
		return
	}

	filter := &vectordb.Filter{Metadata: map[string]string{}}
	if req.Filter != nil {
		for _, cond := range req.Filter.Must {
			filter.Metadata[strings.TrimPrefix(cond.Key, "metadata.")] = cond.Match.Value
		}
	}
	records := make([]vectordb.Record, 0, len(c.points))
	for _, p := range c.points {
		records = append(records, p)
	}
	ranked, _ := vectordb.Rank(req.Vector, records, vectordb.Cosine, req.Limit, filter)

	resp := searchResponse{Result: make([]scoredPoint, len(ranked))}
	for i, res := range ranked {
		meta := map[string]interface{}{}
		for k, v := range res.Metadata {
			meta[k] = v
		}
		resp.Result[i] = scoredPoint{ID: res.ID, Score: res.Score, Payload: map[string]interface{}{"text": res.Text, "metadata": meta}}
	}
	writeJSON(w, resp)
}

func (f *fakeQdrant) deletePoints(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Points []string `json:"points"`
	}
	json.NewDecoder(r.Body).Decode(&body)
	f.mu.Lock()
	defer f.mu.Unlock()
	c := f.collection(w, r)
	if c == nil {
		return
	}
	for _, id := range body.Points {
		delete(c.points, id)
	}
	writeJSON(w, map[string]interface{}{"result": map[string]string{"status": "completed"}})
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) vectordb.Store {
		server := newFakeQdrant(t)
		store, err := vectordb.Open(vectordb.Config{Type: "qdrant", URL: server.URL, APIKey: "secret"})
		require.NoError(t, err)
		return store
	})
}

func TestUnauthorized(t *testing.T) {
	server := newFakeQdrant(t)
	store, err := New(vectordb.Config{URL: server.URL, APIKey: "wrong"})
	require.NoError(t, err)

	err = store.EnsureCollection(context.Background(), "docs", 4)
	require.Error(t, err)
	assert.Equal(t, vectordb.KindBackend, vectordb.KindOf(err))
	assert.Contains(t, err.Error(), "403")
}

// TestExternalDrop 集合在外部被删除后缓存失效
func TestExternalDrop(t *testing.T) {
	ctx := context.Background()
	server := newFakeQdrant(t)
	store, err := New(vectordb.Config{URL: server.URL, APIKey: "secret"})
	require.NoError(t, err)
	require.NoError(t, store.EnsureCollection(ctx, "docs", 2))

	req, _ := http.NewRequest(http.MethodDelete, server.URL+"/collections/docs", nil)
	req.Header.Set("api-key", "secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	_, err = store.Upsert(ctx, "docs", []vectordb.Record{{Vector: []float32{1, 0}}})
	assert.True(t, vectordb.IsNotFound(err))

	_, err = store.Search(ctx, "docs", []float32{1, 0}, 1, nil)
	assert.True(t, vectordb.IsNotFound(err))
}

// TestDeadline 超时错误归为Backend并保留DeadlineExceeded
func TestDeadline(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer server.Close()

	t.Run("config timeout", func(t *testing.T) {
		store, err := New(vectordb.Config{URL: server.URL, APIKey: "secret", Timeout: 50 * time.Millisecond})
		require.NoError(t, err)

		err = store.EnsureCollection(context.Background(), "docs", 4)
		require.Error(t, err)
		assert.Equal(t, vectordb.KindBackend, vectordb.KindOf(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("caller deadline", func(t *testing.T) {
		store, err := New(vectordb.Config{URL: server.URL, APIKey: "secret"})
		require.NoError(t, err)

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		_, err = store.Search(ctx, "docs", []float32{1, 0}, 1, nil)
		require.Error(t, err)
		assert.Equal(t, vectordb.KindBackend, vectordb.KindOf(err))
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	})
}
