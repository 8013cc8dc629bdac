// Package estimate runs the retrieval-augmented estimate pipeline:
// embed the damage narrative, retrieve similar prior estimates, fetch
// the cost standards document, and ask the model for a line-item
// estimate grounded on all three.
package estimate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/trueclaim/claims-engine/engine/domain"
	"github.com/trueclaim/claims-engine/engine/genai"
	"github.com/trueclaim/claims-engine/engine/prompt"
	"github.com/trueclaim/claims-engine/engine/semantic"
)

// Model is the slice of the generative client the pipeline uses.
type Model interface {
	Embed(ctx context.Context, text string, task genai.TaskType) ([]float32, error)
	GenerateEstimate(ctx context.Context, in genai.EstimateInput) (domain.Estimate, error)
}

// Searcher retrieves similar prior damage chunks.
type Searcher interface {
	Search(ctx context.Context, vector []float32, opts semantic.SearchOpts) ([]domain.RetrievedChunk, error)
}

// DocFetcher loads the PSS document from object storage.
type DocFetcher interface {
	FetchJSON(ctx context.Context, locator string, v any) error
}

// Service generates estimates.
type Service struct {
	model  Model
	search Searcher
	docs   DocFetcher
	log    *slog.Logger

	topK           int
	scoreThreshold float32
}

// New creates an estimate Service with the default retrieval settings.
func New(model Model, search Searcher, docs DocFetcher, log *slog.Logger) *Service {
	return &Service{
		model:          model,
		search:         search,
		docs:           docs,
		log:            log,
		topK:           5,
		scoreThreshold: 0.5,
	}
}

// Request is one estimate generation request. Either the merged
// narrative or individual damage descriptions must be present.
type Request struct {
	VehicleInfo             domain.VehicleInfo
	DamageDescriptions      []domain.DamageDescription
	MergedDamageDescription string
	// PSSURL locates the cost standards JSON. Required; the request
	// fails before any model call when it is missing or unfetchable.
	PSSURL string
	// FilterVehicle restricts retrieval to the same make and model.
	FilterVehicle bool
	CustomPrompt  string
}

// Response carries the generated estimate and retrieval metadata.
type Response struct {
	Estimate        domain.Estimate         `json:"estimate"`
	RetrievedChunks []domain.RetrievedChunk `json:"retrieved_chunks"`
	PSSDataUsed     bool                    `json:"pss_data_used"`
}

// Generate runs the full pipeline for one request.
func (s *Service) Generate(ctx context.Context, req Request) (Response, error) {
	query := req.MergedDamageDescription
	if query == "" && len(req.DamageDescriptions) > 0 {
		query = prompt.DamageList(req.DamageDescriptions)
	}
	if query == "" {
		return Response{}, domain.ErrNoQueryText
	}

	// Standards come first: a model call is pointless if the grounding
	// document cannot be loaded.
	if req.PSSURL == "" {
		return Response{}, fmt.Errorf("pss_url is required: %w", domain.ErrStandardsUnavailable)
	}
	if err := domain.ValidateLocator(req.PSSURL); err != nil {
		return Response{}, err
	}
	var pssRaw map[string]any
	if err := s.docs.FetchJSON(ctx, req.PSSURL, &pssRaw); err != nil {
		return Response{}, fmt.Errorf("pss %s: %v: %w", req.PSSURL, err, domain.ErrStandardsUnavailable)
	}
	parts := ExtractParts(decodePSS(pssRaw))

	vector, err := s.model.Embed(ctx, query, genai.TaskQuery)
	if err != nil {
		return Response{}, err
	}

	opts := semantic.SearchOpts{TopK: s.topK, ScoreThreshold: s.scoreThreshold}
	if req.FilterVehicle {
		opts.Filters = map[string]string{}
		if req.VehicleInfo.Make != "" {
			opts.Filters["make"] = req.VehicleInfo.Make
		}
		if req.VehicleInfo.Model != "" {
			opts.Filters["model"] = req.VehicleInfo.Model
		}
	}
	chunks, err := s.search.Search(ctx, vector, opts)
	if err != nil {
		return Response{}, err
	}
	if len(chunks) == 0 {
		s.log.Info("no similar prior estimates found", "query_len", len(query))
	}

	var pssForPrompt any
	if pssRaw != nil {
		pssForPrompt = pssRaw
	}
	est, err := s.model.GenerateEstimate(ctx, genai.EstimateInput{
		VehicleInfo:        req.VehicleInfo,
		DamageDescriptions: req.DamageDescriptions,
		HumanDescription:   req.MergedDamageDescription,
		Chunks:             chunks,
		PSSData:            pssForPrompt,
		CustomPrompt:       req.CustomPrompt,
	})
	if err != nil {
		return Response{}, err
	}

	return Response{
		Estimate:        finalize(est, parts),
		RetrievedChunks: chunks,
		PSSDataUsed:     pssRaw != nil,
	}, nil
}

// finalize applies the output contract: labour hours only survive on
// Repair operations, and missing part ids are backfilled from the PSS
// parts map.
func finalize(est domain.Estimate, parts map[string]PartInfo) domain.Estimate {
	out := make(domain.Estimate, len(est))
	for category, ops := range est {
		cleaned := make([]domain.EstimateOperation, len(ops))
		for i, op := range ops {
			if op.Operation != "Repair" {
				op.LabourHours = nil
			}
			if op.PartID == "" {
				if id, ok := MatchPart(op.Description, parts); ok {
					op.PartID = id
				}
			}
			cleaned[i] = op
		}
		out[category] = cleaned
	}
	return out
}

// decodePSS converts the raw document into the typed hierarchy used
// for part matching. Decode failures yield an empty document; matching
// then simply finds nothing.
func decodePSS(raw map[string]any) PSSDocument {
	var doc PSSDocument
	b, err := json.Marshal(raw)
	if err != nil {
		return doc
	}
	_ = json.Unmarshal(b, &doc)
	return doc
}
