// File path: cmd/caseforge/services.go
package main

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/caseforge/caseforge/internal/common"
	"github.com/caseforge/caseforge/internal/common/process"
)

// Sidecar commands come from the environment so deployments can pick their
// own launchers, for example "milvus run standalone" or a docker invocation.
type sidecarEnv struct {
	name         string
	commandKey   string
	readyURLKey  string
	defaultReady string
}

var storeSidecars = []sidecarEnv{
	{
		name:         "milvus",
		commandKey:   "CASEFORGE_MILVUS_CMD",
		readyURLKey:  "CASEFORGE_MILVUS_READY_URL",
		defaultReady: "http://127.0.0.1:9091/healthz",
	},
	{
		name:         "neo4j",
		commandKey:   "CASEFORGE_NEO4J_CMD",
		readyURLKey:  "CASEFORGE_NEO4J_READY_URL",
		defaultReady: "http://127.0.0.1:7474/",
	},
}

func startStoreSidecars(ctx context.Context) ([]*process.Sidecar, error) {
	logger := common.Logger()
	var launched []*process.Sidecar
	for _, entry := range storeSidecars {
		command := strings.TrimSpace(os.Getenv(entry.commandKey))
		if command == "" {
			logger.Info("caseforge: sidecar not configured", "service", entry.name, "env", entry.commandKey)
			continue
		}
		parts := strings.Fields(command)
		readyURL := strings.TrimSpace(os.Getenv(entry.readyURLKey))
		if readyURL == "" {
			readyURL = entry.defaultReady
		}
		sc, err := process.Launch(ctx, process.Spec{
			Name:         entry.name,
			Command:      parts[0],
			Args:         parts[1:],
			ReadyURL:     readyURL,
			ReadyTimeout: 2 * time.Minute,
			StopTimeout:  10 * time.Second,
		})
		if err != nil {
			stopStoreSidecars(context.Background(), launched)
			return nil, err
		}
		launched = append(launched, sc)
	}
	return launched, nil
}

func stopStoreSidecars(ctx context.Context, sidecars []*process.Sidecar) {
	logger := common.Logger()
	for i := len(sidecars) - 1; i >= 0; i-- {
		if err := sidecars[i].Stop(ctx); err != nil {
			logger.Warn("caseforge: sidecar stop failed", "error", err)
		}
	}
}
