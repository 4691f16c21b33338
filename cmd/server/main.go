package main

import (
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/codecast/server/internal/api"
	"github.com/codecast/server/internal/config"
	"github.com/codecast/server/internal/exec"
	"github.com/codecast/server/internal/history"
	"github.com/codecast/server/internal/session"
	"github.com/codecast/server/internal/ws"
)

func main() {
	cfg := config.Load()

	store, err := history.New(cfg.DBPath)
	if err != nil {
		log.Fatalf("Failed to initialize run log: %v", err)
	}
	defer store.Close()

	prunerConfig := history.DefaultPrunerConfig()
	prunerConfig.KeepRecent = cfg.HistoryKeep
	pruner := history.NewPruner(store, prunerConfig)
	pruner.Start()

	registry := session.NewRegistry()
	hub := ws.NewHub(registry)
	go hub.Run()

	dispatcher := exec.NewDispatcher(cfg.ExecEndpoint, cfg.ExecTimeout)

	apiHandler := api.New(hub, dispatcher, store)
	handler := corsMiddleware(apiHandler.Routes())

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Println("Shutting down server...")
		pruner.Stop()
		store.Close()
		os.Exit(0)
	}()

	log.Printf("CodeCast server starting on :%s", cfg.Port)
	log.Printf("Execution service: %s (timeout %v)", cfg.ExecEndpoint, cfg.ExecTimeout)
	log.Println("Endpoints:")
	log.Println("  - WebSocket: /ws")
	log.Println("  - Health:    GET /health")
	log.Println("  - Stats:     GET /api/stats")
	log.Println("  - Rooms:     POST /api/rooms")
	log.Println("  - Execute:   POST /execute")
	log.Println("  - History:   GET /api/history")

	if err := http.ListenAndServe(":"+cfg.Port, handler); err != nil {
		log.Fatal("ListenAndServe: ", err)
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
