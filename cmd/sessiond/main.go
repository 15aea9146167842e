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
	"golang.org/x/time/rate"

	"opsdesk.org/internal/directory"
	"opsdesk.org/internal/httpapi"
	"opsdesk.org/internal/idp"
	"opsdesk.org/internal/kv"
	"opsdesk.org/internal/obs"
	"opsdesk.org/internal/roles"
	"opsdesk.org/internal/session"
)

var (
	version = "0.3.1"
	commit  = "dev"
)

func main() {
	obs.Init()
	obs.InitBuildInfo(version, commit)

	idpURL := os.Getenv("OPSDESK_IDP_URL")
	if idpURL == "" {
		log.Fatal("OPSDESK_IDP_URL is required")
	}
	apiKey := os.Getenv("OPSDESK_IDP_API_KEY")

	cookieSecret := os.Getenv("OPSDESK_COOKIE_SECRET")
	if cookieSecret == "" {
		log.Fatal("OPSDESK_COOKIE_SECRET is required")
	}

	var allowList []string
	for _, email := range strings.Split(os.Getenv("OPSDESK_SUPER_ADMINS"), ",") {
		if email = strings.TrimSpace(email); email != "" {
			allowList = append(allowList, email)
		}
	}

	addr := os.Getenv("OPSDESK_ADDR")
	if addr == "" {
		addr = ":8080"
	}

	// Durable tier and directory share one database handle. Without a DSN
	// the daemon keeps session state in memory only.
	var db *sql.DB
	if dsn := os.Getenv("OPSDESK_PG_DSN"); dsn != "" {
		var err error
		db, err = sql.Open("pgx", dsn)
		if err != nil {
			log.Fatalf("open db: %v", err)
		}
		db.SetMaxOpenConns(10)
		db.SetMaxIdleConns(10)
		db.SetConnMaxLifetime(30 * time.Minute)
	}

	tiers := []kv.Tier{}
	if db != nil {
		tiers = append(tiers, kv.NewPG(db))
	} else {
		log.Println("OPSDESK_PG_DSN not set, durable tier replaced with memory")
		tiers = append(tiers, kv.NewMemory())
	}
	tiers = append(tiers, kv.NewMemory(), kv.NewCookieJar([]byte(cookieSecret), "/"))

	tokens := session.NewTokenStore(tiers[0])
	sims := session.NewSimulationStore(kv.NewReplicated(tiers...))

	gateway := idp.NewClient(idpURL, apiKey)

	var dir roles.Directory
	if db != nil {
		dir = directory.NewPG(db)
	}
	resolver := roles.NewResolver(dir, allowList,
		roles.WithLookupLimiter(rate.NewLimiter(rate.Limit(5), 10)),
	)

	coord := session.NewCoordinator(session.Config{
		Tokens:      tokens,
		Gateway:     gateway,
		Resolver:    resolver,
		Simulations: sims,
	})

	initCtx, cancelInit := context.WithTimeout(context.Background(), 15*time.Second)
	if err := coord.Init(initCtx); err != nil {
		log.Printf("init session state: %v", err)
	}
	cancelInit()

	api := httpapi.New(coord, httpapi.ReadyProbe{DB: db}, version)

	srv := &http.Server{
		Addr:              addr,
		Handler:           api.Handler(),
		ReadTimeout:       15 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	log.Printf("Starting opsdesk-sessiond %s on %s", version, srv.Addr)

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
	coord.Close()
	if db != nil {
		_ = db.Close()
	}
	log.Println("Stopped")
}
