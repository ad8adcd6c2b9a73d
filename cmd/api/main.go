package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/tardis-create/revenueforge-sub000/internal/audit"
	"github.com/tardis-create/revenueforge-sub000/internal/auth"
	"github.com/tardis-create/revenueforge-sub000/internal/catalog"
	"github.com/tardis-create/revenueforge-sub000/internal/httpapi"
	"github.com/tardis-create/revenueforge-sub000/internal/obs"
	"github.com/tardis-create/revenueforge-sub000/internal/ratelimit"
	"github.com/tardis-create/revenueforge-sub000/internal/rbac"
)

var version = "0.4.0"

func main() {
	obs.Init()

	// Refuse to serve with unverifiable auth: a missing secret is fatal.
	secret := strings.TrimSpace(os.Getenv("REVENUEFORGE_AUTH_SECRET"))
	if secret == "" {
		log.Fatal("REVENUEFORGE_AUTH_SECRET is required")
	}
	tokens, err := auth.NewTokens([]byte(secret))
	if err != nil {
		log.Fatalf("auth: %v", err)
	}

	var db *sql.DB
	if dsn := os.Getenv("REVENUEFORGE_PG_DSN"); dsn != "" {
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(50)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(15 * time.Minute)
		db.SetConnMaxIdleTime(5 * time.Minute)
	}

	// Rate-limit counters must live in a store shared by every instance.
	// Without Redis the in-memory store keeps a single node usable, but
	// limits are not enforced across instances.
	var counters ratelimit.CounterStore
	if addr := os.Getenv("REVENUEFORGE_REDIS_ADDR"); addr != "" {
		counters = ratelimit.NewRedisStore(redis.NewClient(&redis.Options{Addr: addr}))
	} else {
		obs.Warn("REVENUEFORGE_REDIS_ADDR not set, rate limits are per-process only", nil)
		counters = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.NewLimiter(counters, ratelimit.DefaultTiers)

	var auditStore audit.Store
	var userStore auth.UserStore
	var productStore catalog.Store
	if db != nil {
		auditStore = audit.NewPGStore(db)
		userStore = auth.NewPGUserStore(db)
		productStore = catalog.NewPGStore(db)
	} else {
		obs.Warn("REVENUEFORGE_PG_DSN not set, using in-memory stores", nil)
		auditStore = audit.NewMemoryStore()
		userStore = auth.NewMemoryUserStore()
		productStore = catalog.NewMemoryStore()
	}
	recorder := audit.NewRecorder(auditStore, nil)

	api := httpapi.New(httpapi.Config{
		Version:  version,
		Probe:    httpapi.ReadyProbe{DB: db},
		Tokens:   tokens,
		Verifier: tokens,
		Users:    userStore,
		Matrix:   rbac.Default(),
		Limiter:  limiter,
		Recorder: recorder,
		Products: productStore,
	})

	addr := os.Getenv("REVENUEFORGE_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting revenueforge-api %s on %s", version, srv.Addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	<-stop
	log.Println("Shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = srv.Shutdown(ctx)
	recorder.Flush()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
