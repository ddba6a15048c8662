// File path: internal/llm/llm.go
package llm

import (
	"log/slog"
	"os"
	"strings"
	"time"

	openai "github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"

	"github.com/caseforge/caseforge/internal/common"
	"github.com/caseforge/caseforge/internal/llm/providers"
)

type Message = providers.Message

type Provider = providers.Provider

// NewProvider selects the OpenAI-backed provider when OPENAI_API_KEY is set
// and falls back to the deterministic local provider otherwise.
func NewProvider() Provider {
	logger := common.Logger()
	key := strings.TrimSpace(os.Getenv("OPENAI_API_KEY"))
	if key == "" {
		logger.Warn("llm: OPENAI_API_KEY not set; using local provider")
		return providers.NewLocalProvider()
	}
	logger.Info("llm: OpenAI provider selected")
	return providers.NewOpenAIProvider(openai.NewClient(clientOptions(key, logger)...))
}

func clientOptions(key string, logger *slog.Logger) []option.RequestOption {
	opts := []option.RequestOption{option.WithAPIKey(key)}
	if raw := strings.TrimSpace(os.Getenv("OPENAI_HTTP_TIMEOUT")); raw != "" {
		if timeout, err := time.ParseDuration(raw); err != nil {
			logger.Warn("llm: bad OPENAI_HTTP_TIMEOUT ignored", "value", raw, "error", err)
		} else {
			opts = append(opts, option.WithRequestTimeout(timeout))
		}
	}
	if endpoint := strings.TrimSpace(os.Getenv("OPENAI_ENDPOINT")); endpoint != "" {
		logger.Info("llm: custom OpenAI endpoint", "endpoint", endpoint)
		opts = append(opts, option.WithBaseURL(endpoint))
	}
	return opts
}
