package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/memexhq/memex/internal/chunk"
	memexerrors "github.com/memexhq/memex/internal/errors"
)

// Hosted search service defaults.
const (
	remoteAPIVersion     = "2024-07-01"
	remoteRequestTimeout = 30 * time.Second
	remoteBatchSize      = 500
)

// RemoteIndexConfig configures the hosted search index client.
type RemoteIndexConfig struct {
	// Endpoint is the base URL of the hosted search service.
	Endpoint string

	// APIKey is sent in the api-key header.
	APIKey string

	// IndexName is the hosted index name.
	IndexName string

	// Dimensions is the vector dimension declared in the index schema.
	Dimensions int
}

// RemoteIndex implements WriteIndex and ReadIndex against a hosted search
// service with native vector support. The service performs its own hybrid
// ranking, so the read path issues a single combined request.
type RemoteIndex struct {
	client    *http.Client
	transport *http.Transport
	config    RemoteIndexConfig

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementations at compile time.
var (
	_ WriteIndex = (*RemoteIndex)(nil)
	_ ReadIndex  = (*RemoteIndex)(nil)
)

// NewRemoteIndex creates a hosted search index client.
func NewRemoteIndex(cfg RemoteIndexConfig) (*RemoteIndex, error) {
	if cfg.Endpoint == "" {
		return nil, memexerrors.ConfigError("hosted search index requires an endpoint", nil)
	}
	if cfg.APIKey == "" {
		return nil, memexerrors.ConfigError("hosted search index requires an api key", nil)
	}
	if cfg.IndexName == "" {
		return nil, memexerrors.ConfigError("hosted search index requires an index name", nil)
	}

	transport := &http.Transport{
		MaxIdleConns:        10,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     30 * time.Second,
	}

	return &RemoteIndex{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
	}, nil
}

// remoteDocument is the wire shape of a chunk in the hosted index.
type remoteDocument struct {
	Action        string    `json:"@search.action,omitempty"`
	ID            string    `json:"id"`
	Content       string    `json:"content,omitempty"`
	SourceFile    string    `json:"sourceFile,omitempty"`
	HeadingPath   string    `json:"headingPath,omitempty"`
	Domain        string    `json:"domain,omitempty"`
	Tags          []string  `json:"tags,omitempty"`
	RelatedFiles  []string  `json:"relatedFiles,omitempty"`
	IsInstruction bool      `json:"isInstruction,omitempty"`
	Embedding     []float32 `json:"embedding,omitempty"`
	LastUpdated   string    `json:"lastUpdated,omitempty"`
	ChunkIndex    int       `json:"chunkIndex,omitempty"`
}

// EnsureIndex creates or updates the hosted index schema. Idempotent.
func (r *RemoteIndex) EnsureIndex(ctx context.Context) error {
	schema := map[string]any{
		"name": r.config.IndexName,
		"fields": []map[string]any{
			{"name": "id", "type": "Edm.String", "key": true, "filterable": true},
			{"name": "content", "type": "Edm.String", "searchable": true},
			{"name": "sourceFile", "type": "Edm.String", "filterable": true},
			{"name": "headingPath", "type": "Edm.String", "searchable": true},
			{"name": "domain", "type": "Edm.String", "searchable": true, "filterable": true},
			{"name": "tags", "type": "Collection(Edm.String)", "searchable": true},
			{"name": "relatedFiles", "type": "Collection(Edm.String)", "filterable": true},
			{"name": "isInstruction", "type": "Edm.Boolean", "filterable": true},
			{"name": "lastUpdated", "type": "Edm.String"},
			{"name": "chunkIndex", "type": "Edm.Int32"},
			{
				"name": "embedding", "type": "Collection(Edm.Single)",
				"searchable": true, "dimensions": r.config.Dimensions,
				"vectorSearchProfile": "default",
			},
		},
		"vectorSearch": map[string]any{
			"profiles":   []map[string]any{{"name": "default", "algorithm": "default"}},
			"algorithms": []map[string]any{{"name": "default", "kind": "hnsw"}},
		},
	}

	path := "/indexes/" + url.PathEscape(r.config.IndexName)
	status, body, err := r.do(ctx, http.MethodPut, path, schema)
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusCreated && status != http.StatusNoContent {
		return memexerrors.StoreError(fmt.Sprintf("ensure hosted index: %d: %s", status, body), nil)
	}
	return nil
}

// UpsertChunks uploads chunks in mergeOrUpload batches. Batches are posted
// one after another; when a batch fails, batches already accepted by the
// service stay in the index.
func (r *RemoteIndex) UpsertChunks(ctx context.Context, chunks []*chunk.Chunk) error {
	for start := 0; start < len(chunks); start += remoteBatchSize {
		end := min(start+remoteBatchSize, len(chunks))

		docs := make([]remoteDocument, 0, end-start)
		for _, c := range chunks[start:end] {
			docs = append(docs, remoteDocument{
				Action:        "mergeOrUpload",
				ID:            c.ID,
				Content:       c.Content,
				SourceFile:    c.SourceFile,
				HeadingPath:   c.HeadingPath,
				Domain:        c.Domain,
				Tags:          c.Tags,
				RelatedFiles:  c.RelatedFiles,
				IsInstruction: c.IsInstruction,
				Embedding:     c.Embedding,
				LastUpdated:   c.LastUpdated.UTC().Format(time.RFC3339),
				ChunkIndex:    c.ChunkIndex,
			})
		}

		if err := r.postDocuments(ctx, docs); err != nil {
			return err
		}
	}
	return nil
}

// escapeODataString escapes a value for a single-quoted OData string
// literal by doubling embedded single quotes.
func escapeODataString(s string) string {
	return strings.ReplaceAll(s, "'", "''")
}

// DeleteChunksForFile looks up the ids indexed for the file and deletes them.
func (r *RemoteIndex) DeleteChunksForFile(ctx context.Context, sourceFile string) error {
	sourceFile = chunk.NormalizePath(sourceFile)

	request := map[string]any{
		"filter": fmt.Sprintf("sourceFile eq '%s'", escapeODataString(sourceFile)),
		"select": "id",
		"top":    remoteBatchSize,
	}

	resp, err := r.search(ctx, request)
	if err != nil {
		return err
	}
	if len(resp.Value) == 0 {
		return nil
	}

	docs := make([]remoteDocument, 0, len(resp.Value))
	for _, v := range resp.Value {
		docs = append(docs, remoteDocument{Action: "delete", ID: v.ID})
	}
	return r.postDocuments(ctx, docs)
}

// Search issues one hybrid request; the service fuses keyword and vector
// rankings natively and returns provider scores (higher is better).
func (r *RemoteIndex) Search(ctx context.Context, query string, queryVector []float32, topK int) ([]SearchHit, error) {
	request := map[string]any{
		"search": query,
		"top":    topK,
	}
	if len(queryVector) > 0 {
		request["vectorQueries"] = []map[string]any{{
			"kind":   "vector",
			"vector": queryVector,
			"fields": "embedding",
			"k":      topK,
		}}
	}

	resp, err := r.search(ctx, request)
	if err != nil {
		return nil, err
	}

	hits := make([]SearchHit, 0, len(resp.Value))
	for _, v := range resp.Value {
		c := &chunk.Chunk{
			ID:            v.ID,
			Content:       v.Content,
			SourceFile:    v.SourceFile,
			HeadingPath:   v.HeadingPath,
			Domain:        v.Domain,
			Tags:          v.Tags,
			RelatedFiles:  v.RelatedFiles,
			IsInstruction: v.IsInstruction,
			ChunkIndex:    v.ChunkIndex,
		}
		if t, err := time.Parse(time.RFC3339, v.LastUpdated); err == nil {
			c.LastUpdated = t
		}
		hits = append(hits, SearchHit{Chunk: c, Score: v.Score})
	}
	return hits, nil
}

// remoteSearchResponse is the hosted search response body.
type remoteSearchResponse struct {
	Count int64 `json:"@odata.count"`
	Value []struct {
		Score float64 `json:"@search.score"`
		remoteDocument
	} `json:"value"`
}

// search posts one request to the docs/search endpoint.
func (r *RemoteIndex) search(ctx context.Context, request map[string]any) (*remoteSearchResponse, error) {
	path := "/indexes/" + url.PathEscape(r.config.IndexName) + "/docs/search"
	status, body, err := r.do(ctx, http.MethodPost, path, request)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, memexerrors.StoreError(fmt.Sprintf("hosted search: %d: %s", status, body), nil)
	}

	var resp remoteSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, memexerrors.StoreError("decode hosted search response", err)
	}
	return &resp, nil
}

// postDocuments posts one batch of index actions.
func (r *RemoteIndex) postDocuments(ctx context.Context, docs []remoteDocument) error {
	path := "/indexes/" + url.PathEscape(r.config.IndexName) + "/docs/index"
	status, body, err := r.do(ctx, http.MethodPost, path, map[string]any{"value": docs})
	if err != nil {
		return err
	}
	if status != http.StatusOK && status != http.StatusMultiStatus {
		return memexerrors.StoreError(fmt.Sprintf("hosted index write: %d: %s", status, body), nil)
	}
	return nil
}

// do executes one JSON request against the hosted service.
func (r *RemoteIndex) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return 0, nil, memexerrors.StoreError("hosted index is closed", nil)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return 0, nil, memexerrors.StoreError("marshal hosted request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, remoteRequestTimeout)
	defer cancel()

	endpoint := r.config.Endpoint + path + "?api-version=" + remoteAPIVersion
	req, err := http.NewRequestWithContext(reqCtx, method, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, nil, memexerrors.StoreError("build hosted request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", r.config.APIKey)

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, memexerrors.NetworkError("hosted search request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return 0, nil, memexerrors.NetworkError("read hosted response", err)
	}
	return resp.StatusCode, data, nil
}

// ChunkCount returns the hosted document count, 0 on error.
func (r *RemoteIndex) ChunkCount(ctx context.Context) int {
	resp, err := r.search(ctx, map[string]any{
		"search": "*", "top": 0, "count": true,
	})
	if err != nil {
		return 0
	}
	return int(resp.Count)
}

// SourceFileCount approximates distinct source files via a facet request;
// 0 on error.
func (r *RemoteIndex) SourceFileCount(ctx context.Context) int {
	path := "/indexes/" + url.PathEscape(r.config.IndexName) + "/docs/search"
	status, body, err := r.do(ctx, http.MethodPost, path, map[string]any{
		"search": "*",
		"top":    0,
		"facets": []string{"sourceFile,count:100000"},
	})
	if err != nil || status != http.StatusOK {
		return 0
	}

	var resp struct {
		Facets map[string][]struct {
			Value string `json:"value"`
		} `json:"@search.facets"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return 0
	}
	return len(resp.Facets["sourceFile"])
}

// LastIndexedTime returns the newest lastUpdated value, nil when empty.
func (r *RemoteIndex) LastIndexedTime(ctx context.Context) *time.Time {
	resp, err := r.search(ctx, map[string]any{
		"search":  "*",
		"top":     1,
		"orderby": "lastUpdated desc",
		"select":  "id,lastUpdated",
	})
	if err != nil || len(resp.Value) == 0 {
		return nil
	}
	t, err := time.Parse(time.RFC3339, resp.Value[0].LastUpdated)
	if err != nil {
		return nil
	}
	return &t
}

// Close releases pooled connections.
func (r *RemoteIndex) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	r.transport.CloseIdleConnections()
	return nil
}
