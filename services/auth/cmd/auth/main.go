package main

import (
	"log"
	"net/http"
	"time"

	"auth/internal/config"
	"auth/internal/observability/metrics"
	impl "auth/internal/service/impl"
	"auth/internal/store"
	httpx "auth/internal/transport/http"
	"auth/pkg/db"

	"github.com/joho/godotenv"

	"relaykit/jwtsigner"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	metrics.MustRegister("auth")

	// 1) DB (read from env, not hardcoded)
	gdb, err := db.OpenGorm(db.Config{DSN: cfg.DatabaseURL, LogSQL: cfg.LogSQL})
	if err != nil {
		log.Fatalf("gorm open: %v", err)
	}

	st := &store.Store{DB: gdb}

	// 2) Services
	pw := impl.NewPasswordServiceArgon2id()

	tokenCfg := impl.TokenConfig{
		Issuer:     cfg.Issuer,
		Audience:   cfg.Audience, // allow override via env; fallback provided in config.Load()
		AccessTTL:  cfg.AccessTTL,
		RefreshTTL: cfg.RefreshTTL,
		SigningKey: []byte(cfg.SigningKey),
	}

	// A JWKS signer is only constructed (and access tokens only signed
	// EdDSA) when JWKS_SIGNING_KEY is configured; otherwise this stays on
	// the HS256 path and the gateway must be run with
	// GATEWAY_SHARED_HS256_SECRET set to the same SIGNING_KEY.
	var jwksSigner *jwtsigner.Signer
	var ts *impl.TokenServiceImpl
	if cfg.JWKSSigningKey != "" {
		var err error
		jwksSigner, err = jwtsigner.NewFromBase64(cfg.JWKSSigningKey, cfg.SigningKeyID, cfg.Issuer)
		if err != nil {
			log.Fatalf("jwtsigner: %v", err)
		}
		ts = impl.NewTokenServiceWithJWKS(tokenCfg, st, jwksSigner)
	} else {
		ts = impl.NewTokenServiceHS256(tokenCfg, st)
	}

	as := impl.NewAuthServiceImpl(st, pw, ts)

	// 3) HTTP router
	mux := httpx.NewRouter(as, ts, jwksSigner)

	srv := &http.Server{
		Addr:              cfg.Addr, // e.g. ":8081"
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Printf("auth up on %s (issuer=%s)", srv.Addr, cfg.Issuer)
	log.Fatal(srv.ListenAndServe())
}
