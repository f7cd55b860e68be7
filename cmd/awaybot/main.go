package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/gliderlab/awaybot/assist"
	"github.com/gliderlab/awaybot/flags"
	"github.com/gliderlab/awaybot/health"
	"github.com/gliderlab/awaybot/pkg/config"
	"github.com/gliderlab/awaybot/pkg/kv"
	"github.com/gliderlab/awaybot/storage"
	"github.com/gliderlab/awaybot/telegram"
)

func main() {
	log.Println("Starting awaybot...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	_ = os.MkdirAll(cfg.KVDir, 0o755)
	_ = os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755)

	// Flag store (persists across restarts)
	kvStore, err := kv.Open(kv.DefaultOptions(cfg.KVDir))
	if err != nil {
		log.Fatalf("open flag store: %v", err)
	}
	defer kvStore.Close()
	flagStore := flags.NewStore(kvStore)

	// Message log backing history retrieval
	store, err := storage.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer store.Close()

	// Transport
	client := telegram.NewClient(cfg.TelegramToken, cfg.OwnerID, store)
	client.SetRecordFilter(func(text string) bool {
		// The secret trigger must never appear as a conversation turn
		return strings.TrimSpace(text) == cfg.AssistSecret
	})

	// Policy core
	assembler := assist.NewAssembler(client, cfg.Tuning.TokenBudget)
	responder := assist.NewResponder(assist.ResponderConfig{
		APIKey:      cfg.TogetherAPIKey,
		BaseURL:     cfg.Tuning.BaseURL,
		Model:       cfg.Tuning.Model,
		OwnerName:   cfg.OwnerName,
		MaxTokens:   cfg.Tuning.MaxTokens,
		Temperature: cfg.Tuning.Temperature,
		Timeout:     time.Duration(cfg.Tuning.TimeoutSeconds) * time.Second,
	})
	policy := assist.NewPolicy(client, flagStore, assembler, responder, assist.PolicyConfig{
		Secret:        cfg.AssistSecret,
		ServiceChatID: cfg.ServiceChatID,
		HistoryLimit:  cfg.HistoryLimit,
	})
	router := assist.NewRouter(client, flagStore)

	client.OnEvent(func(ev telegram.Event) {
		ctx := context.Background()
		if ev.Outgoing {
			router.HandleOutgoing(ctx, ev)
		} else {
			policy.HandleIncoming(ctx, ev)
		}
	})

	if err := client.Start(); err != nil {
		log.Fatalf("start transport: %v", err)
	}

	// Startup self-notice to the owner
	if err := client.SendMessage(context.Background(), cfg.OwnerID, "✅ Assistant is working now"); err != nil {
		log.Printf("[WARN] startup notice failed: %v", err)
	}

	// Liveness endpoint
	srv := health.New(fmt.Sprintf("0.0.0.0:%d", cfg.Port), store)
	go func() {
		if err := srv.Start(); err != nil {
			log.Printf("health server failed: %v", err)
		}
	}()

	log.Printf("awaybot running (owner: %d, port: %d)", cfg.OwnerID, cfg.Port)

	// Graceful shutdown
	c := make(chan os.Signal, 1)
	signal.Notify(c, syscall.SIGINT, syscall.SIGTERM)
	<-c

	log.Println("awaybot shutting down...")
	client.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Stop(shutdownCtx)
}
