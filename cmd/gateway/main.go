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
	"strconv"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"

	"github.com/alumnet/platform/internal/auth"
	"github.com/alumnet/platform/internal/ban"
	"github.com/alumnet/platform/internal/chat"
	"github.com/alumnet/platform/internal/gateway"
	"github.com/alumnet/platform/internal/messaging"
	"github.com/alumnet/platform/internal/notify"
	"github.com/alumnet/platform/internal/presence"
	"github.com/alumnet/platform/internal/ratelimit"
	"github.com/alumnet/platform/internal/ws"
)

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}

	// --- Identity verification ---
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	verifier := auth.NewVerifier([]byte(secret))

	instance, _ := os.Hostname()
	if v := os.Getenv("INSTANCE_NAME"); v != "" {
		instance = v
	}
	if instance == "" {
		instance = "gateway-1"
	}

	// --- PostgreSQL (optional; in-memory stores without it) ---
	var (
		db          *sql.DB
		chatStore   chat.Store
		notifyStore notify.Store
	)
	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL != "" {
		var err error
		db, err = sql.Open("postgres", databaseURL)
		if err != nil {
			log.Fatalf("failed to open postgres: %v", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(ctx); err != nil {
			cancel()
			log.Fatalf("failed to connect to postgres: %v", err)
		}
		cancel()

		if dir := os.Getenv("MIGRATIONS_DIR"); dir != "" {
			m, err := migrate.New("file://"+dir, databaseURL)
			if err != nil {
				log.Fatalf("failed to init migrations: %v", err)
			}
			if err := m.Up(); err != nil && err != migrate.ErrNoChange {
				log.Fatalf("failed to run migrations: %v", err)
			}
			log.Printf("migrations applied from %s", dir)
		}

		chatStore = chat.NewPostgresStore(db)
		notifyStore = notify.NewPostgresStore(db)
	} else {
		log.Printf("DATABASE_URL not set, using in-memory stores (messages are lost on restart)")
		chatStore = chat.NewMemoryStore()
		notifyStore = notify.NewMemoryStore()
	}

	// --- Gateway ---
	gwConfig := gateway.DefaultConfig()
	if v := os.Getenv("STORE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			gwConfig.StoreTimeout = d
		}
	}
	if v := os.Getenv("HISTORY_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			gwConfig.HistoryLimit = n
		}
	}
	gw := gateway.New(gwConfig, chatStore)

	// --- Redis presence mirror, rate limiting, suspensions (optional) ---
	var (
		registry *presence.Registry
		banStore *ban.Store
		limiter  *ratelimit.Limiter
	)
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		var err error
		registry, err = presence.NewRegistry(redisAddr, instance)
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		limiter = ratelimit.NewLimiter(registry.Client())
		gw.SetRegistry(registry)
		gw.SetLimiter(limiter)
		banStore = ban.NewStore(registry.Client())
	}

	// --- NATS relay + notification ingress (optional) ---
	var natsClient *messaging.Client
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		natsConfig := messaging.DefaultConfig()
		natsConfig.URL = natsURL
		natsConfig.Name = "alumnet-" + instance

		var err error
		natsClient, err = messaging.NewClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}

		relay := messaging.NewRelay(instance, gw.Router(), natsClient)
		if err := relay.Start(); err != nil {
			log.Fatalf("failed to start room relay: %v", err)
		}
		gw.SetBroadcaster(relay)
	}

	// The gateway serves both presence lookups and personal-room pushes for
	// the notification dispatcher.
	dispatcher := notify.NewDispatcher(notifyStore, gw, gw)
	if natsClient != nil {
		err := natsClient.SubscribeNotify(func(data []byte) {
			ctx, cancel := context.WithTimeout(context.Background(), gwConfig.StoreTimeout)
			defer cancel()
			if err := dispatcher.HandleRequest(ctx, data); err != nil {
				log.Printf("[notify] request failed: %v", err)
			}
		})
		if err != nil {
			log.Fatalf("failed to subscribe to notify ingress: %v", err)
		}
	}

	log.Printf("AlumNet realtime gateway starting")
	log.Printf("  instance:        %s", instance)
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  postgres:        %v", db != nil)
	log.Printf("  redis_mirror:    %v", registry != nil)
	log.Printf("  nats_relay:      %v", natsClient != nil)

	server := ws.NewServer(config, ws.Hooks{
		AllowConnect: func(r *http.Request) bool {
			// Per-host handshake limiting; fails open without Redis.
			if limiter == nil {
				return true
			}
			host, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				host = r.RemoteAddr
			}
			ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
			defer cancel()
			allowed, _ := limiter.Allow(ctx, host, ratelimit.RuleConnect)
			return allowed
		},
		Authenticate: func(r *http.Request) (auth.Identity, error) {
			identity, err := verifier.Verify(auth.FromRequest(r))
			if err != nil {
				return auth.Identity{}, err
			}
			// Suspension checks fail open: a Redis outage must not lock
			// every subject out of the gateway.
			if banStore != nil {
				ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
				defer cancel()
				suspended, _, reason, err := banStore.IsSuspended(ctx, identity.SubjectID)
				if err == nil && suspended {
					return auth.Identity{}, fmt.Errorf("subject %s suspended: %s", identity.SubjectID, reason)
				}
			}
			return identity, nil
		},
		Connected:    func(c *ws.Connection) { gw.Register(c) },
		Message:      func(c *ws.Connection, data []byte) { gw.Dispatch(c, data) },
		Disconnected: func(c *ws.Connection) { gw.Unregister(c) },
	})

	// Periodically refresh the Redis presence mirror so entries outlive
	// their TTL only while the subject is actually online.
	refreshDone := make(chan struct{})
	if registry != nil {
		go func() {
			ticker := time.NewTicker(presence.EntryTTL / 2)
			defer ticker.Stop()
			for {
				select {
				case <-refreshDone:
					return
				case <-ticker.C:
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					for _, subjectID := range gw.OnlineSubjects() {
						if err := registry.Refresh(ctx, subjectID); err != nil {
							log.Printf("presence refresh %s: %v", subjectID, err)
						}
					}
					cancel()
				}
			}
		}()
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)
		close(refreshDone)
		if natsClient != nil {
			natsClient.Close()
		}
		if err := server.Shutdown(); err != nil {
			log.Printf("shutdown error: %v", err)
		}
		if registry != nil {
			if err := registry.Close(); err != nil {
				log.Printf("redis close error: %v", err)
			}
		}
		if db != nil {
			if err := db.Close(); err != nil {
				log.Printf("postgres close error: %v", err)
			}
		}
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
