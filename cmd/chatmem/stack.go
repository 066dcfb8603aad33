package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/scrypster/chatmem/internal/config"
	"github.com/scrypster/chatmem/internal/engine"
	"github.com/scrypster/chatmem/internal/llm"
	"github.com/scrypster/chatmem/internal/storage"
	"github.com/scrypster/chatmem/internal/storage/postgres"
	"github.com/scrypster/chatmem/internal/storage/sqlite"
)

// dbGetter is implemented by sinks that expose their database connection.
type dbGetter interface {
	GetDB() *sql.DB
}

// stack is the wired set of long-lived collaborators.
type stack struct {
	cfg    *config.Config
	sink   storage.SnapshotSink
	db     *sql.DB
	engine *engine.Engine
	chat   llm.Client
	memory llm.Client
}

// Close releases the snapshot sink.
func (s *stack) Close() {
	if s.sink != nil {
		if err := s.sink.Close(); err != nil {
			log.Printf("WARNING: Failed to close snapshot sink: %v", err)
		}
	}
}

// sqlitePath is the snapshot database of the sqlite storage engine.
func sqlitePath(cfg *config.Config) string {
	return filepath.Join(cfg.Storage.DataPath, "chatmem.db")
}

// openSink opens the configured snapshot sink. The memory engine has none.
func openSink(cfg *config.Config) (storage.SnapshotSink, error) {
	switch cfg.Storage.StorageEngine {
	case "sqlite":
		if err := os.MkdirAll(cfg.Storage.DataPath, 0o700); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
		sink, err := sqlite.NewSnapshotSink(sqlitePath(cfg))
		if err != nil {
			return nil, err
		}
		return sink, nil
	case "postgres":
		sink, err := postgres.NewSnapshotSink(cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, err
		}
		return sink, nil
	case "memory":
		return nil, nil
	default:
		return nil, fmt.Errorf("unsupported storage engine %q", cfg.Storage.StorageEngine)
	}
}

// loadStack reads the configuration, opens the sink and builds the engine.
// When online is false the engine uses a stub chat client and no extraction,
// which is all the offline tools need.
func loadStack(online bool) (*stack, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	sink, err := openSink(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot storage: %w", err)
	}
	s := &stack{cfg: cfg, sink: sink}

	// The persisted system prompt overrides the environment.
	if g, ok := sink.(dbGetter); ok {
		s.db = g.GetDB()
		dbCfg, err := config.LoadConfigFromDB(s.db)
		if err != nil {
			log.Printf("WARNING: Failed to load settings from database: %v", err)
		} else {
			s.cfg = dbCfg
		}
	}

	engCfg := engine.ConfigFromGlobal(s.cfg)
	if online {
		s.chat, err = llm.NewClient(llm.ChatProviderConfig(s.cfg))
		if err != nil {
			s.Close()
			return nil, err
		}
		s.memory, err = llm.NewClient(llm.MemoryProviderConfig(s.cfg))
		if err != nil {
			s.Close()
			return nil, err
		}
	} else {
		engCfg.ExtractionEnabled = false
		s.chat = llm.NewStubGenerator()
	}

	var extractor llm.TextGenerator
	if s.memory != nil {
		extractor = s.memory
	}
	s.engine, err = engine.NewEngine(engCfg, s.chat, extractor)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("failed to create engine: %w", err)
	}

	if s.sink != nil {
		s.engine.SetSnapshotSink(s.sink)
	}
	if s.db != nil {
		s.engine.SetPromptSaver(func(prompt string) error {
			s.cfg.Chat.SystemPrompt = prompt
			return s.cfg.SaveConfig(s.db)
		})
	}

	return s, nil
}

// loadSnapshot restores the persisted state into an engine that is not
// started.
func (s *stack) loadSnapshot(ctx context.Context) error {
	if s.sink == nil {
		return fmt.Errorf("storage engine %q keeps no snapshot", s.cfg.Storage.StorageEngine)
	}
	snap, err := s.sink.LoadSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("failed to load snapshot: %w", err)
	}
	return s.engine.Restore(ctx, snap)
}
