package embed

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	memexerrors "github.com/memexhq/memex/internal/errors"
)

// Remote embedder defaults.
const (
	DefaultRemoteTimeout    = 60 * time.Second
	DefaultRemoteDimensions = 1536
	remotePoolSize          = 10
)

// RemoteConfig configures the hosted embedding API client.
type RemoteConfig struct {
	// Endpoint is the base URL of the hosted embedding service.
	Endpoint string

	// APIKey is sent in the api-key header.
	APIKey string

	// Deployment is the model deployment name.
	Deployment string

	// Dimensions is the embedding dimension; 0 uses the service default.
	Dimensions int

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// MaxRetries bounds retry attempts for transient failures.
	MaxRetries int
}

// RemoteEmbedder generates embeddings via a hosted embedding API.
type RemoteEmbedder struct {
	client    *http.Client
	transport *http.Transport
	config    RemoteConfig

	mu     sync.RWMutex
	closed bool
}

// Verify interface implementation at compile time.
var _ Embedder = (*RemoteEmbedder)(nil)

// NewRemoteEmbedder creates a hosted embedding API client.
func NewRemoteEmbedder(cfg RemoteConfig) (*RemoteEmbedder, error) {
	if cfg.Endpoint == "" {
		return nil, memexerrors.ConfigError("hosted embedder requires an endpoint", nil)
	}
	if cfg.APIKey == "" {
		return nil, memexerrors.ConfigError("hosted embedder requires an api key", nil)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultRemoteTimeout
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultRemoteDimensions
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}

	// No client-level timeout: per-request contexts control deadlines.
	transport := &http.Transport{
		MaxIdleConns:        remotePoolSize,
		MaxIdleConnsPerHost: remotePoolSize,
		IdleConnTimeout:     30 * time.Second,
	}

	return &RemoteEmbedder{
		client:    &http.Client{Transport: transport},
		transport: transport,
		config:    cfg,
	}, nil
}

// embeddingRequest is the hosted API request body.
type embeddingRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model,omitempty"`
}

// embeddingResponse is the hosted API response body.
type embeddingResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed generates the embedding for a single text.
func (e *RemoteEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch generates embeddings for multiple texts in matching order.
// Large inputs are split into service-sized batches.
func (e *RemoteEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return nil, memexerrors.EmbedError("embedder is closed", nil)
	}
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += MaxBatchSize {
		end := min(start+MaxBatchSize, len(texts))

		var batch [][]float32
		err := withRetry(ctx, e.config.MaxRetries, DefaultRetryBaseDelay, func() error {
			var reqErr error
			batch, reqErr = e.requestEmbeddings(ctx, texts[start:end])
			return reqErr
		})
		if err != nil {
			return nil, err
		}
		results = append(results, batch...)
	}

	return results, nil
}

// requestEmbeddings performs one POST to the embeddings endpoint.
func (e *RemoteEmbedder) requestEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingRequest{Input: texts, Model: e.config.Deployment})
	if err != nil {
		return nil, memexerrors.EmbedError("marshal embedding request", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.config.Timeout)
	defer cancel()

	url := e.config.Endpoint + "/embeddings"
	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, memexerrors.EmbedError("build embedding request", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", e.config.APIKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, memexerrors.NetworkError("embedding request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, memexerrors.NetworkError(
				fmt.Sprintf("embedding service returned %d: %s", resp.StatusCode, data), nil)
		}
		return nil, memexerrors.EmbedError(
			fmt.Sprintf("embedding service returned %d: %s", resp.StatusCode, data), nil)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, memexerrors.EmbedError("decode embedding response", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, memexerrors.EmbedError(
			fmt.Sprintf("embedding count mismatch: sent %d, got %d", len(texts), len(parsed.Data)), nil)
	}

	vectors := make([][]float32, len(texts))
	for _, item := range parsed.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, memexerrors.EmbedError(
				fmt.Sprintf("embedding index out of range: %d", item.Index), nil)
		}
		vectors[item.Index] = normalizeVector(item.Embedding)
	}
	return vectors, nil
}

// Dimensions returns the embedding dimension.
func (e *RemoteEmbedder) Dimensions() int {
	return e.config.Dimensions
}

// ModelName returns the model identifier.
func (e *RemoteEmbedder) ModelName() string {
	if e.config.Deployment != "" {
		return e.config.Deployment
	}
	return "hosted"
}

// Close releases pooled connections.
func (e *RemoteEmbedder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true
	e.transport.CloseIdleConnections()
	return nil
}
