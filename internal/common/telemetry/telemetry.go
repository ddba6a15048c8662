// File path: internal/common/telemetry/telemetry.go
package telemetry

import (
	"expvar"
	"strings"
	"sync"
	"time"
)

var (
	initOnce sync.Once

	vectorSearchTotal     *expvar.Int
	vectorSearchLatencyMS *expvar.Int
	vectorUpsertTotal     *expvar.Int

	graphQueryTotal     *expvar.Map
	graphQueryLatencyMS *expvar.Map

	llmChatTotal   *expvar.Int
	llmEmbedTotal  *expvar.Int
	llmFailedTotal *expvar.Int
)

func ensureInit() {
	initOnce.Do(func() {
		vectorSearchTotal = expvar.NewInt("caseforge_vector_search_total")
		vectorSearchLatencyMS = expvar.NewInt("caseforge_vector_search_latency_ms")
		vectorUpsertTotal = expvar.NewInt("caseforge_vector_upsert_total")

		graphQueryTotal = expvar.NewMap("caseforge_graph_query_total")
		graphQueryLatencyMS = expvar.NewMap("caseforge_graph_query_latency_ms")

		llmChatTotal = expvar.NewInt("caseforge_llm_chat_total")
		llmEmbedTotal = expvar.NewInt("caseforge_llm_embed_total")
		llmFailedTotal = expvar.NewInt("caseforge_llm_failed_total")
	})
}

// RecordVectorSearch counts a vector index search and its latency.
func RecordVectorSearch(duration time.Duration) {
	ensureInit()
	vectorSearchTotal.Add(1)
	if duration > 0 {
		vectorSearchLatencyMS.Add(duration.Milliseconds())
	}
}

// RecordVectorUpsert counts entities written to the vector index.
func RecordVectorUpsert(entries int) {
	ensureInit()
	if entries <= 0 {
		return
	}
	vectorUpsertTotal.Add(int64(entries))
}

// RecordGraphQuery counts a graph store round trip by kind
// (upsert_node, upsert_rel, expand).
func RecordGraphQuery(kind string, duration time.Duration) {
	ensureInit()
	key := strings.TrimSpace(strings.ToLower(kind))
	if key == "" {
		key = "unknown"
	}
	graphQueryTotal.Add(key, 1)
	if duration > 0 {
		graphQueryLatencyMS.Add(key, duration.Milliseconds())
	}
}

// RecordLLMCall counts a model invocation.
func RecordLLMCall(embed bool, err error) {
	ensureInit()
	if embed {
		llmEmbedTotal.Add(1)
	} else {
		llmChatTotal.Add(1)
	}
	if err != nil {
		llmFailedTotal.Add(1)
	}
}

// Snapshot returns the current counter values keyed by metric name.
func Snapshot() map[string]int64 {
	ensureInit()
	return map[string]int64{
		"vector_search_total": vectorSearchTotal.Value(),
		"vector_upsert_total": vectorUpsertTotal.Value(),
		"llm_chat_total":      llmChatTotal.Value(),
		"llm_embed_total":     llmEmbedTotal.Value(),
		"llm_failed_total":    llmFailedTotal.Value(),
	}
}
