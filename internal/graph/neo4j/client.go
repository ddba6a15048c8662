// File path: internal/graph/neo4j/client.go
package neo4j

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/caseforge/caseforge/internal/common"
	"github.com/caseforge/caseforge/internal/common/telemetry"
	"github.com/caseforge/caseforge/internal/graph"
)

// Client implements graph.Client against the Neo4j HTTP transactional
// endpoint, with a lightweight lease pool bounding concurrent commits.
type Client struct {
	cfg        Config
	httpClient *http.Client
	transport  *http.Transport
	commitURL  string

	pool      chan struct{}
	closing   chan struct{}
	closeOnce sync.Once

	mu        sync.RWMutex
	available bool
}

var _ graph.Client = (*Client)(nil)

// schemaLabels are the node labels the service writes; each gets an id
// uniqueness constraint.
var schemaLabels = []string{"Requirement", "TestPoint", "Scenario", "Risk", "TestCase", "Defect"}

const maxExpandDepth = 5

type statement struct {
	Statement  string                 `json:"statement"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

type txRequest struct {
	Statements []statement `json:"statements"`
}

type txResponse struct {
	Results []struct {
		Columns []string `json:"columns"`
		Data    []struct {
			Row []json.RawMessage `json:"row"`
		} `json:"data"`
	} `json:"results"`
	Errors []struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"errors"`
}

// NewFromEnv loads configuration and constructs a client. It returns
// (nil, nil) when no endpoint is configured.
func NewFromEnv(ctx context.Context) (*Client, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Enabled() {
		return nil, nil
	}
	return NewClient(ctx, cfg)
}

// NewClient constructs a client from the provided configuration. A failed
// ping leaves the client unavailable rather than erroring.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if !cfg.Enabled() {
		return nil, errors.New("neo4j disabled")
	}
	logger := common.Logger()
	logger.Info("graph: initializing neo4j client",
		"endpoint", cfg.Endpoint, "database", cfg.Database,
		"pool", cfg.MaxConnections, "timeout", cfg.Timeout)

	transport := &http.Transport{
		MaxIdleConns:        cfg.HTTPMaxIdleConns,
		MaxIdleConnsPerHost: cfg.HTTPMaxIdlePerHost,
	}
	client := &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout, Transport: transport},
		transport:  transport,
		commitURL:  fmt.Sprintf("%s/db/%s/tx/commit", strings.TrimRight(cfg.Endpoint, "/"), cfg.Database),
		pool:       make(chan struct{}, cfg.MaxConnections),
		closing:    make(chan struct{}),
	}
	for i := 0; i < cfg.MaxConnections; i++ {
		client.pool <- struct{}{}
	}
	client.setAvailable(true)
	if err := client.ping(ctx); err != nil {
		logger.Warn("graph: neo4j ping failed", "error", err)
		client.setAvailable(false)
		return client, nil
	}
	logger.Info("graph: neo4j client ready")
	return client, nil
}

// Available reports whether the client is ready for use.
func (c *Client) Available() bool {
	if c == nil {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.available
}

// Close releases the underlying HTTP client resources.
func (c *Client) Close() error {
	if c == nil {
		return nil
	}
	c.closeOnce.Do(func() {
		close(c.closing)
		c.setAvailable(false)
		if c.transport != nil {
			c.transport.CloseIdleConnections()
		}
	})
	return nil
}

// EnsureSchema creates id uniqueness constraints for every label the
// service writes.
func (c *Client) EnsureSchema(ctx context.Context) error {
	if c == nil {
		return errors.New("neo4j client not configured")
	}
	start := time.Now()
	for _, label := range schemaLabels {
		stmt := fmt.Sprintf(
			"CREATE CONSTRAINT %s_id_unique IF NOT EXISTS FOR (n:%s) REQUIRE n.id IS UNIQUE",
			strings.ToLower(label), label)
		if _, err := c.commit(ctx, []statement{{Statement: stmt}}); err != nil {
			return fmt.Errorf("ensure schema for %s: %w", label, err)
		}
	}
	telemetry.RecordGraphQuery("schema", time.Since(start))
	return nil
}

// UpsertNode merges a node by id and overwrites its properties.
func (c *Client) UpsertNode(ctx context.Context, label string, properties map[string]interface{}) error {
	if err := graph.ValidIdentifier(label); err != nil {
		return err
	}
	id, _ := properties["id"].(string)
	if strings.TrimSpace(id) == "" {
		return errors.New("neo4j: node id required")
	}
	stmt := statement{
		Statement:  fmt.Sprintf("MERGE (n:%s {id: $props.id}) SET n += $props", label),
		Parameters: map[string]interface{}{"props": properties},
	}
	start := time.Now()
	_, err := c.commit(ctx, []statement{stmt})
	telemetry.RecordGraphQuery("upsert_node", time.Since(start))
	return err
}

// UpsertRelationship merges a typed edge between two existing nodes. Both
// endpoints must already exist; a missing endpoint merges nothing and is
// surfaced to callers as a nil error, matching MERGE-over-MATCH semantics.
func (c *Client) UpsertRelationship(ctx context.Context, fromLabel, fromID, toLabel, toID, relType string) error {
	for _, ident := range []string{fromLabel, toLabel, relType} {
		if err := graph.ValidIdentifier(ident); err != nil {
			return err
		}
	}
	if strings.TrimSpace(fromID) == "" || strings.TrimSpace(toID) == "" {
		return errors.New("neo4j: relationship endpoints required")
	}
	stmt := statement{
		Statement: fmt.Sprintf(
			"MATCH (a:%s {id: $from}) MATCH (b:%s {id: $to}) MERGE (a)-[r:%s]->(b)",
			fromLabel, toLabel, relType),
		Parameters: map[string]interface{}{"from": fromID, "to": toID},
	}
	start := time.Now()
	_, err := c.commit(ctx, []statement{stmt})
	telemetry.RecordGraphQuery("upsert_rel", time.Since(start))
	return err
}

// ExpandSubgraph fetches the combined neighborhood of all seed ids in one
// transactional call: one statement for nodes, one for relationships.
func (c *Client) ExpandSubgraph(ctx context.Context, seedIDs []string, depth int) (graph.Subgraph, error) {
	var sub graph.Subgraph
	if len(seedIDs) == 0 {
		return sub, nil
	}
	if depth < 1 {
		return sub, fmt.Errorf("neo4j: expand depth %d out of range", depth)
	}
	if depth > maxExpandDepth {
		depth = maxExpandDepth
	}
	params := map[string]interface{}{"ids": seedIDs}
	nodeStmt := statement{
		Statement: fmt.Sprintf(`MATCH (n) WHERE n.id IN $ids
OPTIONAL MATCH (n)-[*1..%d]-(m)
WITH collect(DISTINCT n) + collect(DISTINCT m) AS ns
UNWIND ns AS node
WITH DISTINCT node
WHERE node IS NOT NULL
RETURN node.id, labels(node), properties(node)`, depth),
		Parameters: params,
	}
	edgeStmt := statement{
		Statement: fmt.Sprintf(`MATCH (n) WHERE n.id IN $ids
MATCH (n)-[rels*1..%d]-()
UNWIND rels AS rel
RETURN DISTINCT startNode(rel).id, type(rel), endNode(rel).id`, depth),
		Parameters: params,
	}
	start := time.Now()
	resp, err := c.commit(ctx, []statement{nodeStmt, edgeStmt})
	telemetry.RecordGraphQuery("expand", time.Since(start))
	if err != nil {
		return sub, err
	}
	if len(resp.Results) != 2 {
		return sub, fmt.Errorf("neo4j: expected 2 result sets, got %d", len(resp.Results))
	}

	nodes := make([]graph.Node, 0, len(resp.Results[0].Data))
	for _, row := range resp.Results[0].Data {
		node, ok := decodeNodeRow(row.Row)
		if ok {
			nodes = append(nodes, node)
		}
	}
	edges := make([]graph.Edge, 0, len(resp.Results[1].Data))
	for _, row := range resp.Results[1].Data {
		edge, ok := decodeEdgeRow(row.Row)
		if ok {
			edges = append(edges, edge)
		}
	}
	sub.Merge(nodes, edges)
	sub.Sort()
	return sub, nil
}

func decodeNodeRow(row []json.RawMessage) (graph.Node, bool) {
	if len(row) < 3 {
		return graph.Node{}, false
	}
	var node graph.Node
	if err := json.Unmarshal(row[0], &node.ID); err != nil || node.ID == "" {
		return graph.Node{}, false
	}
	var labels []string
	if err := json.Unmarshal(row[1], &labels); err == nil && len(labels) > 0 {
		node.Label = labels[0]
	}
	_ = json.Unmarshal(row[2], &node.Properties)
	return node, true
}

func decodeEdgeRow(row []json.RawMessage) (graph.Edge, bool) {
	if len(row) < 3 {
		return graph.Edge{}, false
	}
	var edge graph.Edge
	if json.Unmarshal(row[0], &edge.Source) != nil ||
		json.Unmarshal(row[1], &edge.Type) != nil ||
		json.Unmarshal(row[2], &edge.Target) != nil {
		return graph.Edge{}, false
	}
	if edge.Source == "" || edge.Target == "" {
		return graph.Edge{}, false
	}
	return edge, true
}

func (c *Client) ping(ctx context.Context) error {
	pingTimeout := c.cfg.Timeout
	if pingTimeout <= 0 {
		pingTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	_, err := c.commit(ctx, []statement{{Statement: "RETURN 1"}})
	return err
}

func (c *Client) setAvailable(ready bool) {
	c.mu.Lock()
	c.available = ready
	c.mu.Unlock()
}

func (c *Client) acquire(ctx context.Context) (func(), error) {
	if c == nil {
		return nil, errors.New("neo4j client not configured")
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-c.closing:
		return nil, errors.New("neo4j client closed")
	case <-c.pool:
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			select {
			case c.pool <- struct{}{}:
			default:
			}
		})
	}, nil
}

func (c *Client) commit(ctx context.Context, statements []statement) (*txResponse, error) {
	release, err := c.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(txRequest{Statements: statements}); err != nil {
		return nil, fmt.Errorf("encode statements: %w", err)
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.commitURL, buf)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Accept", "application/json")
	if c.cfg.Username != "" {
		request.SetBasicAuth(c.cfg.Username, c.cfg.Password)
	}
	resp, err := c.httpClient.Do(request)
	if err != nil {
		c.setAvailable(false)
		return nil, fmt.Errorf("neo4j request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		c.setAvailable(false)
		return nil, fmt.Errorf("neo4j commit failed: status %d", resp.StatusCode)
	}
	var decoded txResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode neo4j response: %w", err)
	}
	if len(decoded.Errors) > 0 {
		first := decoded.Errors[0]
		return nil, fmt.Errorf("neo4j %s: %s", first.Code, first.Message)
	}
	c.setAvailable(true)
	return &decoded, nil
}
