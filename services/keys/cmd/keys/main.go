package main

import (
	"keys/internal/auth"
	"keys/internal/config"
	"keys/internal/observability/metrics"
	"keys/internal/service"
	"keys/internal/store"
	httptransport "keys/internal/transport/http"
	"log"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	metrics.MustRegister("keys")

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("gorm open: %v", err)
	}

	st := store.New(db)
	if err := st.AutoMigrate(); err != nil {
		log.Fatalf("auto migrate: %v", err)
	}

	svc := service.New(st)
	var verifier *auth.Client
	if cfg.AuthRequired {
		verifier = auth.NewClient(cfg.AuthBaseURL)
	}
	mux := httptransport.NewRouter(svc, verifier)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("keys service listening on %s", cfg.Addr)
	log.Fatal(srv.ListenAndServe())
}
