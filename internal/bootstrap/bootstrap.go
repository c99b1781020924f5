// Package bootstrap assembles the service from configuration.
package bootstrap

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"sat/internal/config"
	"sat/internal/contextmgr"
	"sat/internal/httpapi"
	"sat/internal/logging"
	"sat/internal/orchestrator"
	"sat/internal/provider"
	"sat/internal/runtime"
	"sat/internal/storage"
	"sat/internal/tools"
)

// BuildResult 构建结果；调用方负责 defer result.Store.Close()
// BuildResult is what main needs to serve; the caller owns Store.Close().
type BuildResult struct {
	Handler http.Handler
	Orch    *orchestrator.Orchestrator
	Store   storage.Store
	Log     zerolog.Logger
	Model   string
}

// Build 按依赖顺序初始化全部组件
// Build wires every component in dependency order: storage, provider, tools,
// runtime, context window manager, orchestrator, HTTP surface.
func Build(cfg config.Config) (*BuildResult, error) {
	log := logging.New(cfg.Server.LogLevel, cfg.Server.PrettyLogs)

	if dir := filepath.Dir(cfg.Storage.DBPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.DBPath)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	providerClient := provider.NewOpenAIProvider(provider.OpenAIConfig{
		BaseURL:    cfg.Provider.BaseURL,
		APIKey:     cfg.Provider.APIKey,
		Model:      cfg.Provider.Model,
		TimeoutMS:  cfg.Provider.TimeoutMS,
		MaxRetries: cfg.Provider.MaxRetries,
	})

	registry := tools.NewRegistry(
		tools.NewSearchTool(tools.SearchConfig{
			BaseURL:    cfg.Tools.SearchBaseURL,
			TimeoutSec: cfg.Tools.SearchTimeoutSec,
		}),
		tools.NewFetchTool(tools.FetchConfig{
			TimeoutSec: cfg.Tools.FetchTimeoutSec,
			MaxBodyKB:  cfg.Tools.FetchMaxBodyKB,
		}),
	)

	rt := runtime.NewRuntime(providerClient, registry, runtime.Config{
		SystemPrompt: cfg.Agent.SystemPrompt,
		MaxSteps:     cfg.Agent.MaxSteps,
	})

	reconciler := contextmgr.NewReconciler(
		store,
		contextmgr.NewLLMSummarizer(providerClient),
		contextmgr.NewTokenizer(cfg.ContextWindow.Encoding),
		contextmgr.Config{
			TokenThreshold: cfg.ContextWindow.TokenThreshold,
			KeepRecent:     cfg.ContextWindow.KeepRecent,
		},
	)

	orch := orchestrator.New(store, reconciler, rt, log)

	return &BuildResult{
		Handler: httpapi.New(orch, store, log),
		Orch:    orch,
		Store:   store,
		Log:     log,
		Model:   cfg.Provider.Model,
	}, nil
}
