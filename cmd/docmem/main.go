// docmem - tiered conversation memory and context assembly
// License: MIT
//
// Copyright (c) 2026 docmem contributors

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/dotsetgreg/docmem/pkg/config"
	"github.com/dotsetgreg/docmem/pkg/memory"
	"github.com/dotsetgreg/docmem/pkg/memory/qdrantstore"
	"github.com/dotsetgreg/docmem/pkg/memory/rediscache"
	"github.com/dotsetgreg/docmem/pkg/memory/sqlitearchive"
	"github.com/dotsetgreg/docmem/pkg/memory/vectorlite"
)

var (
	version = "dev"
	commit  = "unknown"
)

func main() {
	if err := executeCLI(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func configPath() string {
	if p := os.Getenv("DOCMEM_CONFIG"); p != "" {
		return p
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".docmem", "config.json")
}

func newLogger(debug bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if debug {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
	return log
}

// runtimeDeps groups everything buildOrchestrator opens so callers can close
// it in one place.
type runtimeDeps struct {
	Orchestrator *memory.Orchestrator
	Archive      *sqlitearchive.Archive
	closers      []func() error
}

func (d *runtimeDeps) Close() {
	if d.Orchestrator != nil {
		d.Orchestrator.Close()
	}
	for _, close := range d.closers {
		_ = close()
	}
}

func buildOrchestrator(cfg *config.Config, log *logrus.Logger) (*runtimeDeps, error) {
	deps := &runtimeDeps{}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	deps.closers = append(deps.closers, rdb.Close)
	cache := rediscache.New(rdb, rediscache.Config{
		Namespace: cfg.Redis.Namespace,
		TTL:       time.Duration(cfg.Redis.TTLSeconds) * time.Second,
	})

	archive, err := sqlitearchive.New(cfg.ArchivePath())
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Archive = archive
	deps.closers = append(deps.closers, archive.Close)

	embedder := memory.NewCharGramEmbedder(cfg.Vector.VectorSize)

	var semantic memory.SemanticStore
	switch cfg.Vector.Backend {
	case "", "local":
		local, err := vectorlite.New(cfg.VectorPath())
		if err != nil {
			deps.Close()
			return nil, err
		}
		deps.closers = append(deps.closers, local.Close)
		semantic = local
	case "qdrant":
		semantic = qdrantstore.New(qdrantstore.Config{
			BaseURL:    cfg.Vector.QdrantURL,
			APIKey:     cfg.Vector.QdrantAPIKey,
			Collection: cfg.Vector.Collection,
			VectorSize: cfg.Vector.VectorSize,
		}, log)
	default:
		deps.Close()
		return nil, fmt.Errorf("unknown vector backend %q", cfg.Vector.Backend)
	}

	summarizer := memory.NewRollingSummarizer(archive, nil, memory.SummarizerConfig{
		Threshold:       cfg.Memory.SummarizeThreshold,
		BootstrapAfter:  cfg.Memory.BootstrapAfter,
		MaxSummaryChars: cfg.Memory.MaxSummaryChars,
	}, log)

	allocator := memory.NewAllocator(memory.DefaultAllocatorConfig(), nil)

	orchCfg := memory.DefaultOrchestratorConfig()
	if cfg.Memory.PerChatCap > 0 {
		orchCfg.PerChatCap = cfg.Memory.PerChatCap
	}
	if cfg.Memory.TopK > 0 {
		orchCfg.TopK = cfg.Memory.TopK
	}
	if cfg.Memory.ScoreThreshold > 0 {
		orchCfg.ScoreThreshold = cfg.Memory.ScoreThreshold
	}
	if cfg.Memory.OverallTimeoutMS > 0 {
		orchCfg.OverallTimeout = time.Duration(cfg.Memory.OverallTimeoutMS) * time.Millisecond
	}
	orchCfg.MaxContextTokens = cfg.Model.MaxContextTokens

	orch, err := memory.NewOrchestrator(cache, archive, semantic, nil, summarizer, allocator, embedder, orchCfg, log)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.Orchestrator = orch
	return deps, nil
}
