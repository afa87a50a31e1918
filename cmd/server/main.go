package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/salmanemhb/astantcrm/internal/api"
	"github.com/salmanemhb/astantcrm/internal/config"
	"github.com/salmanemhb/astantcrm/internal/engagement"
	"github.com/salmanemhb/astantcrm/internal/resend"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"
)

// checkPortAvailable verifies that the target port is not already in use.
// This prevents confusion from stale processes occupying the port.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %v\n"+
			"  Hint: Run 'lsof -i :%d' to find the blocking process", port, addr, err, port)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	slash := strings.Index(rest, "/")
	if slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	log.Println("Astant CRM engagement server starting")

	// Load configuration
	cfg, err := config.LoadFromEnv("config/config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if os.Getenv("DATABASE_URL") != "" {
		log.Println("[config] DATABASE_URL env override active")
	}

	// Pre-flight check: verify the target port is available
	host := cfg.Server.GetHost()
	port := cfg.Server.Port
	if err := checkPortAvailable(host, port); err != nil {
		log.Fatalf("Pre-flight check FAILED: %v", err)
	}
	log.Printf("Pre-flight check passed: port %d is available", port)

	if cfg.Database.URL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	dbURL := cfg.Database.URL
	sep := "?"
	if strings.Contains(dbURL, "?") {
		sep = "&"
	}
	if !strings.Contains(dbURL, "connect_timeout") {
		dbURL += sep + "connect_timeout=5"
	}
	log.Printf("DB URL host portion: ...@%s/...", extractHost(dbURL))

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(3)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(30 * time.Second)

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 3*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		pingCancel()
		log.Fatalf("Database ping failed: %v", err)
	}
	pingCancel()
	log.Println("Database connected successfully")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Redis is an optional accelerator for webhook email lookups. A missing
	// or unreachable Redis never blocks startup.
	var redisClient *redis.Client
	if cfg.Redis.Enabled && cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			redisClient = redis.NewClient(&redis.Options{Addr: cfg.Redis.URL})
		} else {
			redisClient = redis.NewClient(opts)
		}
		pingCtx, pingCancel := context.WithTimeout(ctx, 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			log.Printf("Warning: Redis connection failed (%s): %v - webhook lookups fall back to Postgres", cfg.Redis.URL, err)
			redisClient.Close()
			redisClient = nil
		} else {
			log.Printf("Redis connected: %s (webhook lookup cache enabled)", cfg.Redis.URL)
		}
		pingCancel()
	} else {
		log.Println("Redis not configured (REDIS_URL not set) - webhook lookups go straight to Postgres")
	}

	// Webhook signature verification
	if cfg.Resend.WebhookSecret == "" {
		if cfg.IsProduction() {
			log.Fatal("RESEND_WEBHOOK_SECRET is required in production")
		}
		log.Println("Warning: RESEND_WEBHOOK_SECRET not set - webhook signatures will NOT be verified (development only)")
	}
	verifier, err := resend.NewVerifier(cfg.Resend.WebhookSecret, cfg.IsProduction(), cfg.Resend.Tolerance())
	if err != nil {
		log.Fatalf("Failed to initialize webhook verifier: %v", err)
	}

	// Engagement components
	store := engagement.NewStore(db)
	stats := engagement.NewStatsAggregator(db)
	scorer := engagement.NewScorer(db)
	pipeline := engagement.NewReconciler(db)
	processor := engagement.NewProcessor(store, stats, scorer, pipeline, redisClient)

	server := api.NewServer(cfg.Server, verifier, processor, store, stats, scorer, pipeline)

	// Setup graceful shutdown
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, port)
		log.Printf("Starting server on %s", addr)
		if err := server.ListenAndServe(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	log.Println("All services initialized - server is ready")

	<-done
	log.Println("Shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server shutdown error: %v", err)
	}

	if redisClient != nil {
		redisClient.Close()
	}
	if err := db.Close(); err != nil {
		log.Printf("Database close error: %v", err)
	}

	log.Println("Server stopped")
}
