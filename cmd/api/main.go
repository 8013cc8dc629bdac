// Package main implements the claims-engine API server.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/trueclaim/claims-engine/engine/damage"
	"github.com/trueclaim/claims-engine/engine/estimate"
	"github.com/trueclaim/claims-engine/engine/genai"
	"github.com/trueclaim/claims-engine/engine/objstore"
	"github.com/trueclaim/claims-engine/engine/semantic"
	"github.com/trueclaim/claims-engine/pkg/metrics"
	"github.com/trueclaim/claims-engine/pkg/mid"
	"github.com/trueclaim/claims-engine/pkg/natsutil"
)

// Config holds all environment-based configuration.
type Config struct {
	Port          string
	GeminiAPIKey  string
	GeminiModel   string
	EmbedModel    string
	GeminiBaseURL string
	GeminiRate    float64
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3UseSSL      bool
	QdrantURL     string
	Collection    string
	NATSURL       string
	APIKey        string
	EncryptionKey string
	CORSOrigin    string
}

func loadConfig() Config {
	return Config{
		Port:          envOr("PORT", "8000"),
		GeminiAPIKey:  os.Getenv("GEMINI_API_KEY"),
		GeminiModel:   envOr("GEMINI_MODEL", "gemini-3-pro-preview"),
		EmbedModel:    envOr("GEMINI_EMBED_MODEL", "gemini-embedding-001"),
		GeminiBaseURL: os.Getenv("GEMINI_BASE_URL"),
		GeminiRate:    envFloat("GEMINI_RATE_PER_SEC", 2),
		S3Endpoint:    envOr("S3_ENDPOINT", "s3.amazonaws.com"),
		S3AccessKey:   os.Getenv("AWS_ACCESS_KEY_ID"),
		S3SecretKey:   os.Getenv("AWS_SECRET_ACCESS_KEY"),
		S3UseSSL:      envOr("S3_USE_SSL", "true") == "true",
		QdrantURL:     envOr("QDRANT_URL", "localhost:6334"),
		Collection:    envOr("QDRANT_COLLECTION", "image_descriptions"),
		NATSURL:       os.Getenv("NATS_URL"),
		APIKey:        os.Getenv("API_KEY"),
		EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
		CORSOrigin:    envOr("CORS_ORIGIN", "*"),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := loadConfig()

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited with error", "err", err)
		os.Exit(1)
	}
}

func run(cfg Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	reg := metrics.New()

	// --- Connect to object storage ---
	store, err := objstore.New(objstore.Config{
		Endpoint:  cfg.S3Endpoint,
		AccessKey: cfg.S3AccessKey,
		SecretKey: cfg.S3SecretKey,
		UseSSL:    cfg.S3UseSSL,
	}, logger)
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}

	// --- Build the model client ---
	model := genai.New(genai.Config{
		BaseURL:    cfg.GeminiBaseURL,
		APIKey:     cfg.GeminiAPIKey,
		Model:      cfg.GeminiModel,
		EmbedModel: cfg.EmbedModel,
		RatePerSec: cfg.GeminiRate,
	}, reg, logger)

	// --- Connect to Qdrant ---
	vectorStore, err := semantic.New(cfg.QdrantURL, cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant connect: %w", err)
	}
	defer vectorStore.Close()

	ensureCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	if err := vectorStore.EnsureCollection(ensureCtx); err != nil {
		logger.Warn("collection not ready, continuing degraded", "collection", cfg.Collection, "err", err)
	}
	cancel()

	// --- Connect to NATS (optional) ---
	var pub damage.Publisher
	natsUp := reg.Gauge("nats_connected", "1 when the event bus connection is up")
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			logger.Warn("nats unavailable, chunk events disabled", "err", err)
		} else {
			defer nc.Drain()
			pub = &natsPublisher{nc: nc}
			natsUp.Set(1)

			saved := reg.Counter("chunks_saved_events_total", "Chunk saved events observed on the bus")
			sub, err := natsutil.Subscribe(nc, damage.SubjectChunkSaved, func(ctx context.Context, ev damage.ChunkSavedEvent) {
				saved.Inc()
				logger.Info("chunk saved", "chunk_id", ev.ChunkID, "vin", ev.VIN, "side", ev.Side)
			})
			if err != nil {
				logger.Warn("chunk event subscription failed", "err", err)
			} else {
				defer sub.Unsubscribe()
			}
		}
	}

	// --- Build services ---
	analyzer := damage.New(store, model, vectorStore, pub, logger)
	estimator := estimate.New(model, vectorStore, store, logger)

	// --- Build HTTP server ---
	auth := mid.Auth(cfg.EncryptionKey, cfg.APIKey)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", handleRoot)
	mux.HandleFunc("GET /health", handleHealth(cfg.GeminiAPIKey != "", vectorStore))
	mux.Handle("GET /metrics", reg.Handler())

	mux.Handle("POST /vehicle-damage/classify", auth(handleClassify(analyzer, logger)))
	mux.Handle("POST /vehicle-damage/analyze-side", auth(handleAnalyzeSide(analyzer, logger)))
	mux.Handle("POST /vehicle-damage/analyze/chunks", auth(handleAnalyzeChunks(analyzer, logger)))
	mux.Handle("POST /vehicle-damage/save-chunk", auth(handleSaveChunk(analyzer, logger)))

	mux.Handle("GET /qdrant/search", auth(handleSearch(model, vectorStore, logger)))
	mux.Handle("GET /qdrant/collection/info", auth(handleCollectionInfo(vectorStore, logger)))
	mux.Handle("DELETE /qdrant/collection", auth(handleDeleteCollection(vectorStore, logger)))

	mux.Handle("POST /rag/estimate", auth(handleEstimate(estimator, logger)))

	handler := mid.Chain(mux,
		mid.Recover(logger),
		mid.Logger(logger),
		mid.Metrics(reg),
		mid.CORS(cfg.CORSOrigin),
		mid.OTel("claims-engine"),
	)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful shutdown ---
	errCh := make(chan error, 1)
	go func() {
		logger.Info("api server starting", "port", cfg.Port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// --- Adapters ---

// natsPublisher adapts a NATS connection to the damage.Publisher interface.
type natsPublisher struct {
	nc *nats.Conn
}

func (p *natsPublisher) Publish(ctx context.Context, subject string, v any) error {
	return natsutil.Publish(ctx, p.nc, subject, v)
}
