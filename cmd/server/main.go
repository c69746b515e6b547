package main

import (
	"context"
	"io"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"coscribe/internal/analysis"
	"coscribe/internal/config"
	"coscribe/internal/crdtdoc"
	"coscribe/internal/handler"
	"coscribe/internal/middleware"
	"coscribe/internal/room"
	"coscribe/internal/store"
	"coscribe/internal/transport/ws"

	"github.com/joho/godotenv"
	"github.com/rs/cors"
)

func main() {
	// Load .env file (silently ignore if it doesn't exist - for production)
	_ = godotenv.Load()

	// Load configuration: env first, optional coscribe.yaml overlay on top
	cfg := config.Load()
	if err := cfg.ApplyFile("coscribe.yaml"); err != nil {
		log.Fatalf("Failed to load config file: %v", err)
	}

	// Setup structured logging
	logLevel := slog.LevelInfo
	if cfg.Environment == "dev" {
		logLevel = slog.LevelDebug
	}

	var logOut io.Writer = os.Stdout
	if cfg.LogDir != "" {
		f, err := config.SetupLogFile(cfg.LogDir, cfg.MaxLogFiles)
		if err != nil {
			log.Fatalf("Failed to set up log file: %v", err)
		}
		defer f.Close()
		logOut = io.MultiWriter(os.Stdout, f)
	}

	logger := slog.New(slog.NewJSONHandler(logOut, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("server starting",
		"environment", cfg.Environment,
		"port", cfg.Port,
		"store_backend", cfg.StoreBackend,
	)

	ctx := context.Background()

	// Durable store for room state and document snapshots
	var (
		roomStore store.RoomStore
		err       error
	)
	switch cfg.StoreBackend {
	case config.StorePostgres:
		pool, poolErr := store.CreateConnectionPool(ctx, cfg.DatabaseURL)
		if poolErr != nil {
			log.Fatalf("Failed to create connection pool: %v", poolErr)
		}
		defer pool.Close()
		roomStore, err = store.NewPostgresStore(ctx, pool, cfg.TablePrefix)
	case config.StoreRedis:
		var rs *store.RedisStore
		rs, err = store.NewRedisStore(cfg.RedisURL)
		if err == nil {
			err = rs.Ping(ctx)
		}
		roomStore = rs
	default:
		log.Fatalf("Unknown store backend: %s", cfg.StoreBackend)
	}
	if err != nil {
		log.Fatalf("Failed to connect to store: %v", err)
	}
	defer roomStore.Close()
	logger.Info("store connected", "backend", cfg.StoreBackend)

	// Document registry: server-side CRDT replicas, flushed periodically
	docs := crdtdoc.NewRegistry(roomStore, logger)
	snapCtx, stopSnapshots := context.WithCancel(ctx)
	defer stopSnapshots()
	go docs.RunSnapshotLoop(snapCtx, cfg.SnapshotInterval)

	// Room coordinators
	hub := room.NewHub(roomStore, docs, logger)

	// Optional semantic-analysis client
	var analysisClient *analysis.Client
	if cfg.AnalysisURL != "" {
		analysisClient = analysis.NewClient(cfg.AnalysisURL, logger)
		logger.Info("analysis service configured", "url", cfg.AnalysisURL)
	}

	origins := strings.Split(cfg.CORSOrigins, ",")
	wsHandler := ws.NewHandler(hub, docs, origins, logger)
	restHandler := handler.New(hub, docs, analysisClient, logger)

	logger.Info("services initialized")

	// Create HTTP router (Go 1.22+ enhanced patterns)
	mux := http.NewServeMux()

	// Health check
	mux.HandleFunc("GET /health", restHandler.HealthCheck)

	// Websocket routes: room command channel and per-section document channels
	mux.HandleFunc("GET /ws/rooms/{roomID}", wsHandler.RoomSocket)
	mux.HandleFunc("GET /ws/rooms/{roomID}/sections/{sectionID}", wsHandler.SectionSocket)

	// REST reads
	mux.HandleFunc("GET /api/rooms/{roomID}", restHandler.GetRoomState)
	mux.HandleFunc("GET /api/rooms/{roomID}/sections/{sectionID}/text", restHandler.GetSectionText)

	// Analysis
	mux.HandleFunc("POST /api/rooms/{roomID}/sections/{sectionID}/analysis", restHandler.AnalyzeSection)

	// Build middleware chain
	var root http.Handler = mux

	// Apply middleware in reverse order (they wrap each other)
	// Order: CORS → Recovery → Logging → Routes
	root = middleware.RequestLogger(logger)(root)
	root = middleware.Recovery(logger)(root)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowCredentials: true,
	})
	root = corsHandler.Handler(root)

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     root,
		ReadTimeout: 15 * time.Second,
		// WriteTimeout stays disabled for long-lived websocket connections
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// Flush in-memory document replicas before exit
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("shutting down")
		stopSnapshots()
		flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		docs.FlushSnapshots(flushCtx)
		server.Shutdown(flushCtx)
	}()

	logger.Info("server listening", "port", cfg.Port)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
}
