package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/scrypster/chatmem/internal/engine"
	"github.com/scrypster/chatmem/internal/llm"
	"github.com/scrypster/chatmem/internal/notify"
	"github.com/scrypster/chatmem/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API server",
	Long: `Run the chatmem HTTP API and WebSocket event stream.

The server restores the persisted snapshot on start, saves it periodically
while anything changes, and writes a final snapshot on SIGINT or SIGTERM.
Reset and flush requests dropped into the data directory by the other
commands are applied while it runs.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	log.Println("Starting chatmem server...")

	s, err := loadStack(true)
	if err != nil {
		return err
	}
	defer s.Close()

	log.Printf("Configuration loaded: storage=%s, provider=%s, model=%s",
		s.cfg.Storage.StorageEngine, s.cfg.LLM.LLMProvider, s.cfg.ChatModel())

	if err := s.engine.Start(context.Background()); err != nil {
		return fmt.Errorf("failed to start engine: %w", err)
	}

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	addr, _, err := server.Start(serverCtx, s.cfg, s.engine, server.Options{
		Breakers: map[string]*llm.CircuitBreaker{
			"chat":   s.chat.Breaker(),
			"memory": s.memory.Breaker(),
		},
	})
	if err != nil {
		shutdownEngine(s.engine, s.cfg.Engine.ShutdownTimeout)
		return fmt.Errorf("failed to start server: %w", err)
	}
	log.Printf("chatmem server listening on http://%s", addr)

	// Requests from the offline commands. The sink is shared, so the
	// running engine has to apply the same change or its next snapshot
	// would bring the cleared state back.
	watcher := notify.NewRequestWatcher(s.cfg.Storage.DataPath, func(req notify.Request) {
		applyRequest(s.engine, req)
	})
	if err := watcher.Start(); err != nil {
		log.Printf("WARNING: Request watcher disabled: %v", err)
	}

	if s.cfg.Storage.StorageEngine == "sqlite" && s.cfg.Storage.BackupInterval > 0 {
		mgr, err := newBackupManager(s.cfg)
		if err != nil {
			log.Printf("WARNING: Scheduled backups disabled: %v", err)
		} else {
			go mgr.Run(serverCtx)
		}
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	sig := <-sigChan
	log.Printf("Received signal %v, shutting down...", sig)

	watcher.Stop()
	serverCancel()
	shutdownEngine(s.engine, s.cfg.Engine.ShutdownTimeout)

	log.Println("Shutdown complete")
	return nil
}

// applyRequest performs a request received from another process.
func applyRequest(eng *engine.Engine, req notify.Request) {
	ctx := context.Background()

	var err error
	switch req.Action {
	case notify.ActionResetScope:
		err = eng.ResetAll(ctx, req.Scope)
	case notify.ActionResetAll:
		err = eng.ResetEverything(ctx)
	case notify.ActionFlush:
		err = eng.Flush(ctx)
	}
	if err != nil {
		log.Printf("ERROR: notify: %s request failed: %v", req.Action, err)
		return
	}
	log.Printf("notify: applied %s request", req.Action)
}

func shutdownEngine(eng *engine.Engine, budget time.Duration) {
	// Leave room for the final snapshot after the worker drain.
	ctx, cancel := context.WithTimeout(context.Background(), budget+10*time.Second)
	defer cancel()
	if err := eng.Shutdown(ctx); err != nil {
		log.Printf("ERROR: Engine shutdown failed: %v", err)
	}
}
