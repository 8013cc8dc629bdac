// Package damage orchestrates the claim-photo pipeline: classify images
// by vehicle side, analyze each side's damage, merge the findings, and
// persist the result as a searchable chunk.
package damage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/trueclaim/claims-engine/engine/domain"
	"github.com/trueclaim/claims-engine/engine/genai"
	"github.com/trueclaim/claims-engine/engine/semantic"
	"github.com/trueclaim/claims-engine/pkg/fn"
)

// Fetcher retrieves claim photos from object storage.
type Fetcher interface {
	Fetch(ctx context.Context, locator string) ([]byte, string, error)
	ListImages(ctx context.Context, folderLocator string) ([]string, error)
}

// Model is the slice of the generative client the pipeline uses.
type Model interface {
	Classify(ctx context.Context, images []genai.ImageInput, customPrompt string) (map[domain.Side][]string, error)
	AnalyzeSide(ctx context.Context, vi domain.VehicleInfo, side domain.Side, images []genai.ImageInput, approved domain.Estimate, customPrompt string) ([]domain.DamageDescription, error)
	MergeDescriptions(ctx context.Context, vi domain.VehicleInfo, descs []domain.DamageDescription, customPrompt string) (string, error)
	Embed(ctx context.Context, text string, task genai.TaskType) ([]float32, error)
}

// ChunkStore persists analyzed sides.
type ChunkStore interface {
	UpsertChunk(ctx context.Context, id string, vector []float32, chunk domain.ChunkOutput) error
}

// Publisher emits pipeline events. Implementations must not block on
// slow consumers.
type Publisher interface {
	Publish(ctx context.Context, subject string, v any) error
}

// SubjectChunkSaved is published after a chunk is durably stored.
const SubjectChunkSaved = "chunk.saved"

// ChunkSavedEvent is the payload on SubjectChunkSaved.
type ChunkSavedEvent struct {
	ChunkID string      `json:"chunk_id"`
	VIN     string      `json:"vin"`
	Side    domain.Side `json:"side"`
	SavedAt time.Time   `json:"saved_at"`
}

// Analyzer runs the damage pipeline.
type Analyzer struct {
	fetch Fetcher
	model Model
	store ChunkStore
	pub   Publisher
	log   *slog.Logger
	// fetchWorkers bounds the parallel image downloads during classify.
	fetchWorkers int
}

// New creates an Analyzer. pub may be nil when no event bus is configured.
func New(fetch Fetcher, model Model, store ChunkStore, pub Publisher, log *slog.Logger) *Analyzer {
	return &Analyzer{
		fetch:        fetch,
		model:        model,
		store:        store,
		pub:          pub,
		log:          log,
		fetchWorkers: 8,
	}
}

// ClassifyInput selects the images to classify, either an explicit list
// or everything under a folder locator.
type ClassifyInput struct {
	BucketURL    string
	ImageURLs    []string
	CustomPrompt string
}

// Classification groups input locators by vehicle side. Every input
// locator appears in exactly one bucket; images the model cannot place,
// and images that cannot be fetched, land under "unknown".
type Classification struct {
	Classified  map[domain.Side][]string `json:"classified_images"`
	TotalImages int                      `json:"total_images"`
}

// ClassifyImages fetches the selected images and buckets them by side.
func (a *Analyzer) ClassifyImages(ctx context.Context, in ClassifyInput) (Classification, error) {
	locators, err := a.resolve(ctx, in.BucketURL, in.ImageURLs)
	if err != nil {
		return Classification{}, err
	}

	fetched, unknown := a.fetchAll(ctx, locators)

	buckets := map[domain.Side][]string{}
	if len(fetched) > 0 {
		buckets, err = a.model.Classify(ctx, fetched, in.CustomPrompt)
		if err != nil {
			return Classification{}, err
		}
	}
	if len(unknown) > 0 {
		buckets[domain.SideUnknown] = append(buckets[domain.SideUnknown], unknown...)
	}

	return Classification{Classified: buckets, TotalImages: len(locators)}, nil
}

// resolve turns the request into a concrete locator list.
func (a *Analyzer) resolve(ctx context.Context, bucketURL string, imageURLs []string) ([]string, error) {
	if len(imageURLs) > 0 {
		for _, l := range imageURLs {
			if err := domain.ValidateLocator(l); err != nil {
				return nil, err
			}
		}
		return fn.Unique(imageURLs), nil
	}
	if bucketURL == "" {
		return nil, domain.ErrNoImages
	}
	if err := domain.ValidateLocator(bucketURL); err != nil {
		return nil, err
	}
	locators, err := a.fetch.ListImages(ctx, bucketURL)
	if err != nil {
		return nil, err
	}
	if len(locators) == 0 {
		return nil, fmt.Errorf("no images under %s: %w", bucketURL, domain.ErrNoImages)
	}
	return locators, nil
}

// fetchAll downloads locators in parallel. Unfetchable images are
// returned separately so classification can still bucket them.
func (a *Analyzer) fetchAll(ctx context.Context, locators []string) (fetched []genai.ImageInput, unknown []string) {
	results := fn.ParMapResult(locators, a.fetchWorkers, func(loc string) fn.Result[genai.ImageInput] {
		data, mime, err := a.fetch.Fetch(ctx, loc)
		if err != nil {
			return fn.Err[genai.ImageInput](fmt.Errorf("%s: %w", loc, err))
		}
		return fn.Ok(genai.ImageInput{Locator: loc, MIMEType: mime, Data: data})
	})
	for i, r := range results {
		img, err := r.Unwrap()
		if err != nil {
			a.log.Warn("image fetch failed, classifying as unknown", "locator", locators[i], "error", err)
			unknown = append(unknown, locators[i])
			continue
		}
		fetched = append(fetched, img)
	}
	return fetched, unknown
}

// SideInput is one side's analysis request.
type SideInput struct {
	Side             domain.Side
	Images           []string
	VehicleInfo      domain.VehicleInfo
	ApprovedEstimate domain.Estimate
	CustomAnalysis   string
	CustomMerge      string
}

// SideResult is an analyzed side. SaveErr is set when analysis
// succeeded but persisting the chunk did not; the analysis is still
// returned to the caller.
type SideResult struct {
	Chunk   domain.ChunkOutput
	ChunkID string
	SaveErr error
}

// AnalyzeSide analyzes one side's images, merges the findings, and
// persists the chunk. A persistence failure does not discard the
// analysis.
func (a *Analyzer) AnalyzeSide(ctx context.Context, in SideInput) (SideResult, error) {
	if err := domain.ValidateAnalyzeSide(in.Side, in.Images); err != nil {
		return SideResult{}, err
	}

	fetched, missing := a.fetchAll(ctx, in.Images)
	if len(fetched) == 0 {
		return SideResult{}, fmt.Errorf("no fetchable images for side %s: %w", in.Side, domain.ErrNoImages)
	}
	if len(missing) > 0 {
		a.log.Warn("analyzing side with partial image set", "side", in.Side, "missing", len(missing))
	}

	descs, err := a.model.AnalyzeSide(ctx, in.VehicleInfo, in.Side, fetched, in.ApprovedEstimate, in.CustomAnalysis)
	if err != nil {
		return SideResult{}, err
	}
	merged, err := a.model.MergeDescriptions(ctx, in.VehicleInfo, descs, in.CustomMerge)
	if err != nil {
		return SideResult{}, err
	}

	chunk := domain.ChunkOutput{
		VehicleInfo:             in.VehicleInfo,
		Side:                    in.Side,
		Images:                  in.Images,
		DamageDescriptions:      descs,
		MergedDamageDescription: merged,
		ApprovedEstimate:        in.ApprovedEstimate,
	}

	res := SideResult{Chunk: chunk}
	res.ChunkID, res.SaveErr = a.SaveChunk(ctx, chunk)
	if res.SaveErr != nil {
		a.log.Warn("chunk analysis succeeded but save failed", "side", in.Side, "error", res.SaveErr)
	}
	return res, nil
}

// AnalyzeInput drives the full pipeline over a folder of claim photos.
type AnalyzeInput struct {
	BucketURL            string
	VehicleInfo          domain.VehicleInfo
	ApprovedEstimate     domain.Estimate
	CustomClassification string
	CustomAnalysis       string
	CustomMerge          string
}

// AnalyzeChunks classifies every image under BucketURL and analyzes
// each side that received images, in the fixed side order.
func (a *Analyzer) AnalyzeChunks(ctx context.Context, in AnalyzeInput) ([]SideResult, error) {
	cls, err := a.ClassifyImages(ctx, ClassifyInput{BucketURL: in.BucketURL, CustomPrompt: in.CustomClassification})
	if err != nil {
		return nil, err
	}

	sides := fn.Filter(domain.Sides, func(s domain.Side) bool { return len(cls.Classified[s]) > 0 })

	var out []SideResult
	for _, side := range sides {
		res, err := a.AnalyzeSide(ctx, SideInput{
			Side:             side,
			Images:           cls.Classified[side],
			VehicleInfo:      in.VehicleInfo,
			ApprovedEstimate: in.ApprovedEstimate,
			CustomAnalysis:   in.CustomAnalysis,
			CustomMerge:      in.CustomMerge,
		})
		if err != nil {
			return nil, fmt.Errorf("side %s: %w", side, err)
		}
		out = append(out, res)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("no analyzable side received images: %w", domain.ErrNoImages)
	}
	return out, nil
}

// SaveChunk embeds the merged description and stores the chunk under
// its stable point ID, then announces the save. Saving the same vin
// and side again overwrites the prior record.
func (a *Analyzer) SaveChunk(ctx context.Context, chunk domain.ChunkOutput) (string, error) {
	if err := domain.ValidateChunk(chunk); err != nil {
		return "", err
	}

	vector, err := a.model.Embed(ctx, chunk.MergedDamageDescription, genai.TaskDocument)
	if err != nil {
		return "", err
	}

	id := semantic.PointID(chunk.VehicleInfo.VIN, chunk.Side)
	if err := a.store.UpsertChunk(ctx, id, vector, chunk); err != nil {
		return "", err
	}

	if a.pub != nil {
		event := ChunkSavedEvent{
			ChunkID: id,
			VIN:     chunk.VehicleInfo.VIN,
			Side:    chunk.Side,
			SavedAt: time.Now().UTC(),
		}
		if err := a.pub.Publish(ctx, SubjectChunkSaved, event); err != nil {
			a.log.Warn("chunk saved but event publish failed", "chunk_id", id, "error", err)
		}
	}

	a.log.Info("chunk saved", "chunk_id", id, "vin", chunk.VehicleInfo.VIN, "side", chunk.Side)
	return id, nil
}
