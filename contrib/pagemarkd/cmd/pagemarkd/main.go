// Command pagemarkd runs the reference collaboration backend.
//
// Configuration comes from the environment (optionally a .env file):
// PAGEMARKD_ADDR, PAGEMARKD_DB, PAGEMARKD_TOKEN.
package main

import (
	"net/http"
	"os"

	"github.com/joho/godotenv"

	"github.com/pagemark/pagemark.go/contrib/pagemarkd"
	"github.com/pagemark/pagemark.go/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := pagemarkd.LoadConfig()
	log := logger.New(os.Stdout)

	store, err := pagemarkd.OpenStore(cfg.DatabasePath)
	if err != nil {
		log.Error("opening store failed", "path", cfg.DatabasePath, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	srv := pagemarkd.NewServer(store, log, cfg)
	log.Info("pagemarkd listening", "addr", cfg.Addr, "database", cfg.DatabasePath)
	if err := http.ListenAndServe(cfg.Addr, srv.Router()); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}
