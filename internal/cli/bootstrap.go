package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/lazypower/stratum/internal/config"
	"github.com/lazypower/stratum/internal/embed"
	"github.com/lazypower/stratum/internal/llm"
	"github.com/lazypower/stratum/internal/memory"
	"github.com/lazypower/stratum/internal/store"
)

// loadConfig reads the --config file when given, otherwise defaults. An
// ANTHROPIC_API_KEY in the environment switches the LLM provider over.
func loadConfig() (config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return cfg, err
		}
	}
	if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
		cfg.LLM.Provider = "anthropic"
		cfg.LLM.AnthropicKey = key
	}
	return cfg, nil
}

// pickEmbedder probes Ollama and falls back to the deterministic hashing
// embedder when no model server is reachable.
func pickEmbedder(cfg config.LLMConfig) embed.Embedder {
	ollamaURL := cfg.OllamaURL
	if ollamaURL == "" {
		ollamaURL = "http://localhost:11434"
	}
	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = "nomic-embed-text"
	}

	if embed.ProbeOllama(ollamaURL, embeddingModel) {
		fmt.Fprintf(os.Stderr, "  embedder: ollama (%s)\n", embeddingModel)
		return embed.NewOllamaEmbedder(ollamaURL, embeddingModel, 768)
	}
	fmt.Fprintf(os.Stderr, "  embedder: hashing (fallback)\n")
	return embed.NewHashingEmbedder(256)
}

// openSubsystem builds and starts a subsystem over the configured database.
// The returned cleanup stops the subsystem and closes the database.
func openSubsystem(cfg config.Config) (*memory.Subsystem, func(), error) {
	dbPath := cfg.Database.Path
	if dbPath == "" {
		var err error
		dbPath, err = store.DefaultDBPath()
		if err != nil {
			return nil, nil, fmt.Errorf("resolve db path: %w", err)
		}
	}

	db, err := store.Open(dbPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	llmClient, err := llm.NewClient(cfg.LLM)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: LLM not configured (%v), compression falls back to truncation\n", err)
		llmClient = nil
	} else {
		fmt.Fprintf(os.Stderr, "  llm: %s\n", cfg.LLM.Provider)
	}

	mem, err := memory.New(cfg, db, pickEmbedder(cfg.LLM), llmClient)
	if err != nil {
		db.Close()
		return nil, nil, err
	}
	if err := mem.Start(context.Background()); err != nil {
		db.Close()
		return nil, nil, err
	}

	cleanup := func() {
		mem.Close()
		db.Close()
	}
	fmt.Fprintf(os.Stderr, "  db: %s\n", dbPath)
	return mem, cleanup, nil
}

// drainPool blocks until the work queue empties or the timeout passes. Used
// by one-shot commands so queued jobs run before the process exits.
func drainPool(mem *memory.Subsystem, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for mem.Pool().Depth() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}
	// Give in-flight jobs a moment past the empty queue.
	time.Sleep(200 * time.Millisecond)
}
