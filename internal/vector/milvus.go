// File path: internal/vector/milvus.go
package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/caseforge/caseforge/internal/common"
	"github.com/caseforge/caseforge/internal/common/telemetry"
)

// Entry is one knowledge unit projected into the vector index. ID is the
// catalog id; the entry carries enough payload for retrieval to answer
// without a catalog round trip.
type Entry struct {
	ID         string
	Content    string
	Kind       string
	GraphID    string
	Confidence float64
}

// SearchResult is one scored hit from the index.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]interface{}
}

// Store is the vector index boundary used by retrieval, extraction and the
// feedback loop.
type Store interface {
	Available() bool
	Collection() string
	EnsureCollection(ctx context.Context, dim int) error
	Upsert(ctx context.Context, entries []Entry, vectors [][]float32) error
	Search(ctx context.Context, vector []float32, limit int) ([]SearchResult, error)
	Close() error
}

// Client talks to a Milvus RESTful v2 endpoint.
type Client struct {
	httpClient *http.Client
	transport  *http.Transport

	baseURL    string
	collection string
	token      string
	available  bool

	cfg Config

	mu sync.RWMutex
}

var _ Store = (*Client)(nil)

var (
	errNotFound = errors.New("resource not found")
)

func NewFromEnv(ctx context.Context) (*Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	return New(ctx, cfg)
}

// New constructs a client using the provided configuration. Connection
// failures leave the client in the unavailable state instead of erroring so
// the service can come up before the index does.
func New(ctx context.Context, cfg Config) (*Client, error) {
	cfg.applyDefaults()
	baseURL := fmt.Sprintf("%s://%s:%s/v2/vectordb", cfg.Scheme, cfg.Host, cfg.Port)
	logger := common.Logger()
	logger.Info(
		"vector: initializing milvus client",
		"host", cfg.Host,
		"port", cfg.Port,
		"collection", cfg.Collection,
		"dimension", cfg.Dimension,
	)

	transport := &http.Transport{
		MaxIdleConns:        cfg.HTTPMaxIdleConns,
		MaxIdleConnsPerHost: cfg.HTTPMaxIdlePerHost,
		MaxConnsPerHost:     cfg.HTTPMaxConnsPerHost,
	}

	client := &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		transport:  transport,
		baseURL:    strings.TrimRight(baseURL, "/"),
		collection: cfg.Collection,
		token:      cfg.Token,
		cfg:        cfg,
	}

	if err := client.ensureReady(ctx); err != nil {
		logger.Warn("vector: milvus initialization failed", "collection", cfg.Collection, "error", err)
		return client, nil
	}
	logger.Info("vector: milvus connection established")
	return client, nil
}

func (c *Client) Available() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

func (c *Client) Collection() string {
	if c == nil {
		return ""
	}
	return c.collection
}

func (c *Client) setAvailable(available bool) {
	c.mu.Lock()
	c.available = available
	c.mu.Unlock()
}

func (c *Client) ensureReady(ctx context.Context) error {
	if c == nil {
		return errors.New("milvus client not configured")
	}
	if c.Available() {
		return nil
	}
	const maxAttempts = 3
	var err error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		err = c.ping(ctx)
		if err == nil {
			break
		}
		select {
		case <-ctx.Done():
			c.setAvailable(false)
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 250 * time.Millisecond):
		}
	}
	if err != nil {
		c.setAvailable(false)
		return err
	}
	if err = c.ensureCollection(ctx, c.cfg.Dimension); err != nil {
		c.setAvailable(false)
		return err
	}
	c.setAvailable(true)
	return nil
}

func (c *Client) ping(ctx context.Context) error {
	endpoint := fmt.Sprintf("%s/collections/list", c.baseURL)
	return c.doRequest(ctx, endpoint, map[string]interface{}{}, nil)
}

// EnsureCollection creates the collection when it does not exist yet.
func (c *Client) EnsureCollection(ctx context.Context, dim int) error {
	if dim <= 0 {
		return errors.New("invalid vector dimension")
	}
	if err := c.ensureReady(ctx); err != nil {
		return err
	}
	return c.ensureCollection(ctx, dim)
}

func (c *Client) ensureCollection(ctx context.Context, dim int) error {
	var has struct {
		Has bool `json:"has"`
	}
	endpoint := fmt.Sprintf("%s/collections/has", c.baseURL)
	if err := c.doRequest(ctx, endpoint, map[string]interface{}{"collectionName": c.collection}, &has); err != nil {
		return err
	}
	if has.Has {
		return nil
	}
	payload := map[string]interface{}{
		"collectionName": c.collection,
		"dimension":      dim,
		"idType":         "VarChar",
		"metricType":     "COSINE",
	}
	endpoint = fmt.Sprintf("%s/collections/create", c.baseURL)
	return c.doRequest(ctx, endpoint, payload, nil)
}

// Upsert writes entries and their embeddings in one batch.
func (c *Client) Upsert(ctx context.Context, entries []Entry, vectors [][]float32) error {
	if err := c.ensureReady(ctx); err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}
	if len(vectors) != len(entries) {
		return fmt.Errorf("milvus: %d entries with %d vectors", len(entries), len(vectors))
	}
	data := make([]map[string]interface{}, 0, len(entries))
	for idx, entry := range entries {
		graphID := entry.GraphID
		if graphID == "" {
			graphID = entry.ID
		}
		data = append(data, map[string]interface{}{
			"id":         entry.ID,
			"vector":     vectors[idx],
			"content":    entry.Content,
			"kind":       entry.Kind,
			"graph_id":   graphID,
			"confidence": entry.Confidence,
		})
	}
	payload := map[string]interface{}{
		"collectionName": c.collection,
		"data":           data,
	}
	endpoint := fmt.Sprintf("%s/entities/upsert", c.baseURL)
	if err := c.doRequest(ctx, endpoint, payload, nil); err != nil {
		return err
	}
	telemetry.RecordVectorUpsert(len(entries))
	return nil
}

// Search runs a top-k similarity query. Scores come back as COSINE
// similarity, larger is closer.
func (c *Client) Search(ctx context.Context, vector []float32, limit int) ([]SearchResult, error) {
	if err := c.ensureReady(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	payload := map[string]interface{}{
		"collectionName": c.collection,
		"data":           [][]float32{vector},
		"annsField":      "vector",
		"limit":          limit,
		"outputFields":   []string{"content", "kind", "graph_id", "confidence"},
	}
	var rows []map[string]interface{}
	endpoint := fmt.Sprintf("%s/entities/search", c.baseURL)
	start := time.Now()
	err := c.doRequest(ctx, endpoint, payload, &rows)
	telemetry.RecordVectorSearch(time.Since(start))
	if err != nil {
		return nil, err
	}
	results := make([]SearchResult, 0, len(rows))
	for _, row := range rows {
		result := SearchResult{Payload: make(map[string]interface{}, len(row))}
		for key, value := range row {
			switch key {
			case "id":
				result.ID, _ = value.(string)
			case "distance":
				if score, ok := value.(float64); ok {
					result.Score = float32(score)
				}
			default:
				result.Payload[key] = value
			}
		}
		if result.ID == "" {
			continue
		}
		results = append(results, result)
	}
	return results, nil
}

// doRequest posts a JSON payload and decodes the Milvus envelope. A non-zero
// code in the envelope is an error even on HTTP 200.
func (c *Client) doRequest(ctx context.Context, endpoint string, body interface{}, out interface{}) error {
	if c == nil {
		return errors.New("milvus client not configured")
	}
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		bodyReader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.token))
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return errNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("milvus %s failed: %s", endpoint, strings.TrimSpace(string(data)))
	}
	var envelope struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("milvus decode response: %w", err)
	}
	if envelope.Code != 0 {
		return fmt.Errorf("milvus %s failed: code %d %s", endpoint, envelope.Code, envelope.Message)
	}
	if out == nil || len(envelope.Data) == 0 {
		return nil
	}
	return json.Unmarshal(envelope.Data, out)
}

// Close releases pooled resources associated with the client.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	if c.transport != nil {
		c.transport.CloseIdleConnections()
	}
	return nil
}
