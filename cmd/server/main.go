/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the attendance engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load .env (optional) and parse command-line flags
  2. Initialize the store backend (memory, sqlite, or mongo)
  3. Build the domain components (registry, engine, tracker, analytics)
  4. Start the event drain and the auto-checkout sweeper
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port     HTTP server port (default: 8080)
  -store    Backend: memory, sqlite, mongo (default: sqlite)
  -db       SQLite database path (default: attendance.db)
  -tenant   Tenant id the background sweeper runs for (default: default)
  -models   Comma-separated allowed target models (default: Employee)

ENVIRONMENT (.env supported):
  MONGO_URI       MongoDB connection string (store=mongo)
  MONGO_DATABASE  MongoDB database name (default: attendance)
  LOG_LEVEL       logrus level (default: info)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the sweeper and flush the event queue
  4. Close the store

SEE ALSO:
  - api/server.go: Router configuration
  - api/handlers.go: HTTP handlers
  - store/sqlite/sqlite.go, store/mongo/mongo.go: Database backends
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/warp/attendance-engine/api"
	"github.com/warp/attendance-engine/attendance"
	memstore "github.com/warp/attendance-engine/attendance/store"
	"github.com/warp/attendance-engine/store/mongo"
	"github.com/warp/attendance-engine/store/sqlite"
)

func main() {
	// .env is optional; flags and real env win.
	_ = godotenv.Load()

	port := flag.Int("port", 8080, "HTTP server port")
	storeKind := flag.String("store", "sqlite", "store backend: memory, sqlite, mongo")
	dbPath := flag.String("db", "attendance.db", "SQLite database path")
	tenantID := flag.String("tenant", "default", "tenant id for the background sweeper")
	models := flag.String("models", "Employee", "comma-separated allowed target models")
	flag.Parse()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(level)
	}

	var (
		records  attendance.RecordStore
		entities attendance.EntityStore
		shutdown func(context.Context) error
	)

	switch *storeKind {
	case "memory":
		mem := memstore.NewMemory()
		records, entities = mem, mem
		shutdown = func(context.Context) error { return nil }

	case "sqlite":
		db, err := sqlite.New(*dbPath)
		if err != nil {
			log.WithError(err).Fatal("failed to initialize sqlite store")
		}
		records, entities = db, db
		shutdown = func(context.Context) error { return db.Close() }

	case "mongo":
		uri := os.Getenv("MONGO_URI")
		if uri == "" {
			uri = "mongodb://localhost:27017"
		}
		database := os.Getenv("MONGO_DATABASE")
		if database == "" {
			database = "attendance"
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		db, err := mongo.New(ctx, uri, database)
		cancel()
		if err != nil {
			log.WithError(err).Fatal("failed to initialize mongo store")
		}
		records, entities = db, db
		shutdown = db.Close

	default:
		log.Fatalf("unknown store backend %q", *storeKind)
	}

	// Domain wiring
	allowed := strings.Split(*models, ",")
	for i := range allowed {
		allowed[i] = strings.TrimSpace(allowed[i])
	}
	registry := attendance.NewRegistry(allowed...)

	queue := attendance.NewQueue(1024, log)
	queue.Drain(&attendance.LogSink{Log: log})

	engine := attendance.NewEngine(records, registry,
		attendance.WithEventQueue(queue),
		attendance.WithLogger(log),
	)
	tracker := attendance.NewTracker(engine, entities)
	analytics := attendance.NewAnalytics(records, entities)

	handler := api.NewHandler(tracker, engine, analytics, registry, entities, log)
	router := api.NewRouter(handler)

	sweeper := api.NewSweepScheduler(tracker, *tenantID, log)
	sweeper.Start()

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.WithField("addr", server.Addr).Info("server starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.WithError(err).Error("server forced to shutdown")
	}

	sweeper.Stop()
	queue.Close()

	if err := shutdown(ctx); err != nil {
		log.WithError(err).Error("store close failed")
	}

	log.Info("server stopped")
}
