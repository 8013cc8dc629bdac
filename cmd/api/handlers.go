package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/trueclaim/claims-engine/engine/damage"
	"github.com/trueclaim/claims-engine/engine/domain"
	"github.com/trueclaim/claims-engine/engine/estimate"
	"github.com/trueclaim/claims-engine/engine/genai"
	"github.com/trueclaim/claims-engine/engine/semantic"
	"github.com/trueclaim/claims-engine/pkg/fn"
)

// damageService is the slice of the damage analyzer the handlers use.
type damageService interface {
	ClassifyImages(ctx context.Context, in damage.ClassifyInput) (damage.Classification, error)
	AnalyzeSide(ctx context.Context, in damage.SideInput) (damage.SideResult, error)
	AnalyzeChunks(ctx context.Context, in damage.AnalyzeInput) ([]damage.SideResult, error)
	SaveChunk(ctx context.Context, chunk domain.ChunkOutput) (string, error)
}

// estimateService generates repair estimates.
type estimateService interface {
	Generate(ctx context.Context, req estimate.Request) (estimate.Response, error)
}

// vectorStore is the slice of the Qdrant store the handlers use.
type vectorStore interface {
	CollectionInfo(ctx context.Context) (semantic.Info, error)
	DeleteCollection(ctx context.Context) error
	Search(ctx context.Context, vector []float32, opts semantic.SearchOpts) ([]domain.RetrievedChunk, error)
}

// embedder turns query text into a vector.
type embedder interface {
	Embed(ctx context.Context, text string, task genai.TaskType) ([]float32, error)
}

func respond(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// statusFor maps service errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrAuth):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrAccess):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrModelOutput),
		errors.Is(err, domain.ErrClassification),
		errors.Is(err, domain.ErrStandardsUnavailable):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrStoreUnavailable),
		errors.Is(err, domain.ErrTransient):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrStore),
		errors.Is(err, domain.ErrSchemaMismatch),
		errors.Is(err, domain.ErrInvalidSide),
		errors.Is(err, domain.ErrNoImages),
		errors.Is(err, domain.ErrInvalidLocator),
		errors.Is(err, domain.ErrNoQueryText):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
	Code  int    `json:"code"`
}

func writeError(w http.ResponseWriter, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		logger.Error("request failed", "err", err)
		respond(w, status, errorBody{Error: "internal server error", Code: status})
		return
	}
	respond(w, status, errorBody{Error: err.Error(), Code: status})
}

func badRequest(w http.ResponseWriter, msg string) {
	respond(w, http.StatusBadRequest, errorBody{Error: msg, Code: http.StatusBadRequest})
}

func handleRoot(w http.ResponseWriter, _ *http.Request) {
	respond(w, http.StatusOK, map[string]string{
		"name":        "TrueClaim Claims Engine",
		"version":     "1.0.0",
		"description": "Vehicle damage analysis and repair estimation",
		"health":      "/health",
	})
}

// healthResponse reports dependency readiness without failing the probe.
type healthResponse struct {
	Status           string `json:"status"`
	GeminiConfigured bool   `json:"gemini_configured"`
	QdrantConnected  bool   `json:"qdrant_connected"`
}

func handleHealth(geminiConfigured bool, store vectorStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()

		_, err := store.CollectionInfo(ctx)

		status := "healthy"
		if !geminiConfigured {
			status = "degraded"
		}
		respond(w, http.StatusOK, healthResponse{
			Status:           status,
			GeminiConfigured: geminiConfigured,
			QdrantConnected:  err == nil,
		})
	}
}

// classifyRequest is the JSON body for POST /vehicle-damage/classify.
type classifyRequest struct {
	BucketURL    string   `json:"bucket_url"`
	ImageURLs    []string `json:"image_urls"`
	CustomPrompt string   `json:"custom_classification_prompt"`
}

type classifyResponse struct {
	Success bool `json:"success"`
	damage.Classification
}

func handleClassify(analyzer damageService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req classifyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body")
			return
		}

		res, err := analyzer.ClassifyImages(r.Context(), damage.ClassifyInput{
			BucketURL:    req.BucketURL,
			ImageURLs:    req.ImageURLs,
			CustomPrompt: req.CustomPrompt,
		})
		if err != nil {
			writeError(w, logger, err)
			return
		}
		respond(w, http.StatusOK, classifyResponse{Success: true, Classification: res})
	}
}

// analyzeSideRequest is the JSON body for POST /vehicle-damage/analyze-side.
type analyzeSideRequest struct {
	Side             domain.Side        `json:"side"`
	Images           []string           `json:"images"`
	VehicleInfo      domain.VehicleInfo `json:"vehicle_info"`
	ApprovedEstimate domain.Estimate    `json:"approved_estimate"`
	CustomAnalysis   string             `json:"custom_damage_analysis_prompt"`
	CustomMerge      string             `json:"custom_merge_damage_prompt"`
}

// sideResponse is one analyzed side. SaveError is present when the
// analysis succeeded but persisting it did not.
type sideResponse struct {
	domain.ChunkOutput
	ChunkID   string `json:"chunk_id,omitempty"`
	SaveError string `json:"save_error,omitempty"`
}

func toSideResponse(res damage.SideResult) sideResponse {
	out := sideResponse{ChunkOutput: res.Chunk, ChunkID: res.ChunkID}
	if res.SaveErr != nil {
		out.SaveError = res.SaveErr.Error()
	}
	return out
}

func handleAnalyzeSide(analyzer damageService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analyzeSideRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body")
			return
		}

		res, err := analyzer.AnalyzeSide(r.Context(), damage.SideInput{
			Side:             req.Side,
			Images:           req.Images,
			VehicleInfo:      req.VehicleInfo,
			ApprovedEstimate: req.ApprovedEstimate,
			CustomAnalysis:   req.CustomAnalysis,
			CustomMerge:      req.CustomMerge,
		})
		if err != nil {
			writeError(w, logger, err)
			return
		}
		respond(w, http.StatusOK, toSideResponse(res))
	}
}

// analyzeChunksRequest is the JSON body for POST /vehicle-damage/analyze/chunks.
type analyzeChunksRequest struct {
	BucketURL            string             `json:"bucket_url"`
	VehicleInfo          domain.VehicleInfo `json:"vehicle_info"`
	ApprovedEstimate     domain.Estimate    `json:"approved_estimate"`
	CustomClassification string             `json:"custom_classification_prompt"`
	CustomAnalysis       string             `json:"custom_damage_analysis_prompt"`
	CustomMerge          string             `json:"custom_merge_damage_prompt"`
}

type analyzeChunksResponse struct {
	Success    bool           `json:"success"`
	Chunks     []sideResponse `json:"chunks"`
	TotalSides int            `json:"total_sides"`
}

func handleAnalyzeChunks(analyzer damageService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req analyzeChunksRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body")
			return
		}

		results, err := analyzer.AnalyzeChunks(r.Context(), damage.AnalyzeInput{
			BucketURL:            req.BucketURL,
			VehicleInfo:          req.VehicleInfo,
			ApprovedEstimate:     req.ApprovedEstimate,
			CustomClassification: req.CustomClassification,
			CustomAnalysis:       req.CustomAnalysis,
			CustomMerge:          req.CustomMerge,
		})
		if err != nil {
			writeError(w, logger, err)
			return
		}
		chunks := fn.Map(results, toSideResponse)
		respond(w, http.StatusOK, analyzeChunksResponse{
			Success:    true,
			Chunks:     chunks,
			TotalSides: len(chunks),
		})
	}
}

type saveChunkResponse struct {
	Success bool   `json:"success"`
	ChunkID string `json:"chunk_id"`
}

func handleSaveChunk(analyzer damageService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var chunk domain.ChunkOutput
		if err := json.NewDecoder(r.Body).Decode(&chunk); err != nil {
			badRequest(w, "invalid request body")
			return
		}

		id, err := analyzer.SaveChunk(r.Context(), chunk)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		respond(w, http.StatusOK, saveChunkResponse{Success: true, ChunkID: id})
	}
}

type searchResponse struct {
	Query   string                  `json:"query"`
	Count   int                     `json:"count"`
	Results []domain.RetrievedChunk `json:"results"`
}

func handleSearch(model embedder, store vectorStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		query := q.Get("query")
		if query == "" {
			badRequest(w, "query is required")
			return
		}

		opts := semantic.SearchOpts{Filters: map[string]string{}}
		if v := q.Get("limit"); v != "" {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				opts.TopK = n
			}
		}
		if v := q.Get("threshold"); v != "" {
			if f, err := strconv.ParseFloat(v, 32); err == nil {
				opts.ScoreThreshold = float32(f)
			}
		}
		if v := q.Get("make"); v != "" {
			opts.Filters["make"] = v
		}
		if v := q.Get("model"); v != "" {
			opts.Filters["model"] = v
		}

		vector, err := model.Embed(r.Context(), query, genai.TaskQuery)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		results, err := store.Search(r.Context(), vector, opts)
		if err != nil {
			writeError(w, logger, err)
			return
		}
		if results == nil {
			results = []domain.RetrievedChunk{}
		}
		respond(w, http.StatusOK, searchResponse{Query: query, Count: len(results), Results: results})
	}
}

func handleCollectionInfo(store vectorStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		info, err := store.CollectionInfo(r.Context())
		if err != nil {
			writeError(w, logger, err)
			return
		}
		respond(w, http.StatusOK, info)
	}
}

func handleDeleteCollection(store vectorStore, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := store.DeleteCollection(r.Context()); err != nil {
			writeError(w, logger, err)
			return
		}
		respond(w, http.StatusOK, map[string]any{"success": true})
	}
}

// estimateRequest is the JSON body for POST /rag/estimate.
type estimateRequest struct {
	VehicleInfo             domain.VehicleInfo         `json:"vehicle_info"`
	DamageDescriptions      []domain.DamageDescription `json:"damage_descriptions"`
	MergedDamageDescription string                     `json:"merged_damage_description"`
	PSSURL                  string                     `json:"pss_url"`
	FilterVehicle           bool                       `json:"filter_vehicle"`
	CustomPrompt            string                     `json:"custom_estimate_prompt"`
}

type estimateResponse struct {
	Success bool `json:"success"`
	estimate.Response
	ProcessingSeconds float64 `json:"processing_time_seconds"`
}

func handleEstimate(svc estimateService, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req estimateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			badRequest(w, "invalid request body")
			return
		}

		start := time.Now()
		res, err := svc.Generate(r.Context(), estimate.Request{
			VehicleInfo:             req.VehicleInfo,
			DamageDescriptions:      req.DamageDescriptions,
			MergedDamageDescription: req.MergedDamageDescription,
			PSSURL:                  req.PSSURL,
			FilterVehicle:           req.FilterVehicle,
			CustomPrompt:            req.CustomPrompt,
		})
		if err != nil {
			writeError(w, logger, err)
			return
		}
		respond(w, http.StatusOK, estimateResponse{
			Success:           true,
			Response:          res,
			ProcessingSeconds: time.Since(start).Seconds(),
		})
	}
}
