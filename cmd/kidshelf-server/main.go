package main

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/vnnguyen/kidshelf/internal/contentstore"
	"github.com/vnnguyen/kidshelf/internal/httpapi"
)

func main() {
	_ = godotenv.Load()

	addr := os.Getenv("KIDSHELF_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	backend, err := buildStateBackendFromEnv()
	if err != nil {
		log.Fatalf("failed to initialize state backend: %v", err)
	}
	store, err := contentstore.NewStore(contentstore.StoreOptions{
		StateBackend: backend,
		Logger:       log.Default(),
	})
	if err != nil {
		log.Fatalf("failed to initialize content store: %v", err)
	}
	server := httpapi.NewServerWithConfig(store, httpapi.ServerConfig{
		MaxBodyBytes: int64Env("KIDSHELF_MAX_BODY_BYTES", 0),
	})
	server.SetLogger(log.Default())

	log.Printf("kidshelf server listening on %s", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		log.Fatalf("server failed: %v", err)
	}
}

func buildStateBackendFromEnv() (contentstore.StateBackend, error) {
	dsn := strings.TrimSpace(os.Getenv("KIDSHELF_STATE_DSN"))
	if dsn == "" {
		dataDir := strings.TrimSpace(os.Getenv("KIDSHELF_DATA_DIR"))
		if dataDir == "" {
			dataDir = ".kidshelf"
		}
		dsn = "file://" + filepath.Join(dataDir, "state.json")
	}
	return contentstore.BuildStateBackendFromDSN(dsn)
}

func int64Env(name string, fallback int64) int64 {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback
	}
	value, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		log.Printf("invalid %s=%q, using fallback %d", name, raw, fallback)
		return fallback
	}
	return value
}
