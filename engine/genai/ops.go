package genai

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/trueclaim/claims-engine/engine/domain"
	"github.com/trueclaim/claims-engine/engine/prompt"
	"github.com/trueclaim/claims-engine/pkg/fn"
)

// TaskType selects the embedding task hint. Documents and queries are
// embedded differently and must not be mixed up.
type TaskType string

const (
	TaskDocument TaskType = "RETRIEVAL_DOCUMENT"
	TaskQuery    TaskType = "RETRIEVAL_QUERY"
)

type classified struct {
	locator string
	side    domain.Side
}

// Classify determines which vehicle side each image shows. Images the
// model cannot place land in the "unknown" bucket; every input locator
// appears in exactly one bucket. customPrompt, when non-empty, replaces
// the default classification prompt.
func (c *Client) Classify(ctx context.Context, images []ImageInput, customPrompt string) (map[domain.Side][]string, error) {
	p := prompt.Or(customPrompt, prompt.DefaultClassification)

	results := fn.ParMapResult(images, c.cfg.Workers, func(img ImageInput) fn.Result[classified] {
		side, conf, err := c.classifyOne(ctx, p, img)
		if err != nil {
			return fn.Err[classified](fmt.Errorf("classify %s: %w", img.Locator, err))
		}
		c.log.Debug("image classified", "locator", img.Locator, "side", side, "confidence", conf)
		return fn.Ok(classified{locator: img.Locator, side: side})
	})

	all, err := fn.Collect(results).Unwrap()
	if err != nil {
		return nil, err
	}

	buckets := make(map[domain.Side][]string)
	for side, group := range fn.GroupBy(all, func(c classified) domain.Side { return c.side }) {
		for _, g := range group {
			buckets[side] = append(buckets[side], g.locator)
		}
	}
	return buckets, nil
}

func (c *Client) classifyOne(ctx context.Context, p string, img ImageInput) (domain.Side, float64, error) {
	type verdict struct {
		Side       string  `json:"side"`
		Confidence float64 `json:"confidence"`
	}
	v, err := withRetry(ctx, func(ctx context.Context) (verdict, error) {
		text, err := c.generateJSON(ctx, "classify", p, []ImageInput{img}, classificationSchema)
		if err != nil {
			return verdict{}, err
		}
		var v verdict
		if err := json.Unmarshal([]byte(text), &v); err != nil {
			return verdict{}, fmt.Errorf("classify decode: %w", domain.ErrModelOutput)
		}
		return v, nil
	})
	if err != nil {
		return "", 0, err
	}

	side := domain.Side(strings.ToLower(strings.TrimSpace(v.Side)))
	if !domain.ValidSide(side) && side != domain.SideUnknown {
		return "", 0, fmt.Errorf("side %q: %w", v.Side, domain.ErrClassification)
	}
	return side, v.Confidence, nil
}

// AnalyzeSide produces structured damage findings from all images of
// one side in a single model call. approved, when present, is included
// so the model grounds its findings against an adjuster's line items.
func (c *Client) AnalyzeSide(ctx context.Context, vi domain.VehicleInfo, side domain.Side, images []ImageInput, approved domain.Estimate, customPrompt string) ([]domain.DamageDescription, error) {
	p := prompt.Build(prompt.Or(customPrompt, prompt.DefaultDamageAnalysis), map[string]string{
		"year":              strconv.Itoa(vi.Year),
		"make":              vi.Make,
		"model":             vi.Model,
		"body_type":         vi.BodyType,
		"side":              string(side),
		"approved_estimate": prompt.ApprovedEstimate(approved),
	})

	return withRetry(ctx, func(ctx context.Context) ([]domain.DamageDescription, error) {
		text, err := c.generateJSON(ctx, "analyze_side", p, images, damageAnalysisSchema)
		if err != nil {
			return nil, err
		}
		var out struct {
			DamageDescriptions []domain.DamageDescription `json:"damage_descriptions"`
		}
		if err := json.Unmarshal([]byte(text), &out); err != nil {
			return nil, fmt.Errorf("analyze_side decode: %w", domain.ErrModelOutput)
		}
		return out.DamageDescriptions, nil
	})
}

// MergeDescriptions condenses per-side findings into one narrative. An
// empty input returns an empty string without calling the model.
func (c *Client) MergeDescriptions(ctx context.Context, vi domain.VehicleInfo, descs []domain.DamageDescription, customPrompt string) (string, error) {
	if len(descs) == 0 {
		return "", nil
	}

	p := prompt.Build(prompt.Or(customPrompt, prompt.DefaultMergeDamage), map[string]string{
		"year":                strconv.Itoa(vi.Year),
		"make":                vi.Make,
		"model":               vi.Model,
		"body_type":           vi.BodyType,
		"damage_descriptions": prompt.DamageList(descs),
	})

	return withRetry(ctx, func(ctx context.Context) (string, error) {
		text, err := c.generate(ctx, "merge", p, nil, "")
		if err != nil {
			return "", err
		}
		return strings.TrimSpace(text), nil
	})
}

// Embed converts text into a unit-length vector of EmbeddingDim floats.
func (c *Client) Embed(ctx context.Context, text string, task TaskType) ([]float32, error) {
	req := embedRequest{
		Content:              content{Parts: []part{{Text: text}}},
		TaskType:             string(task),
		OutputDimensionality: domain.EmbeddingDim,
	}
	url := fmt.Sprintf("%s/v1beta/models/%s:embedContent", c.cfg.BaseURL, c.cfg.EmbedModel)

	return withRetry(ctx, func(ctx context.Context) ([]float32, error) {
		var resp embedResponse
		if err := c.post(ctx, "embed", url, req, &resp); err != nil {
			return nil, err
		}
		vals := resp.Embedding.Values
		if len(vals) != domain.EmbeddingDim {
			return nil, fmt.Errorf("embed: got %d dimensions, want %d: %w", len(vals), domain.EmbeddingDim, domain.ErrModelOutput)
		}
		return normalize(vals), nil
	})
}

// normalize L2-normalizes in float64 before narrowing to float32. A
// zero vector is returned as-is.
func normalize(vals []float64) []float32 {
	var sum float64
	for _, v := range vals {
		sum += v * v
	}
	out := make([]float32, len(vals))
	if sum == 0 {
		return out
	}
	inv := 1 / math.Sqrt(sum)
	for i, v := range vals {
		out[i] = float32(v * inv)
	}
	return out
}

// EstimateInput carries everything the estimate prompt needs.
type EstimateInput struct {
	VehicleInfo        domain.VehicleInfo
	DamageDescriptions []domain.DamageDescription
	HumanDescription   string
	Chunks             []domain.RetrievedChunk
	PSSData            any
	CustomPrompt       string
}

// GenerateEstimate asks the model for a category-grouped estimate,
// grounded on retrieved prior estimates and the cost standards data.
func (c *Client) GenerateEstimate(ctx context.Context, in EstimateInput) (domain.Estimate, error) {
	p := prompt.Build(prompt.Or(in.CustomPrompt, prompt.DefaultEstimateGeneration), map[string]string{
		"vehicle_info":        prompt.VehicleInfo(in.VehicleInfo),
		"damage_descriptions": prompt.DamageListDetailed(in.DamageDescriptions),
		"human_description":   orNone(in.HumanDescription),
		"retrieved_chunks":    prompt.RetrievedChunks(in.Chunks),
		"pss_data":            prompt.JSON(in.PSSData),
	})

	return withRetry(ctx, func(ctx context.Context) (domain.Estimate, error) {
		text, err := c.generateJSON(ctx, "estimate", p, nil, estimateSchema)
		if err != nil {
			return nil, err
		}
		var out struct {
			Estimate map[string][]struct {
				Description string   `json:"Description"`
				Operation   string   `json:"Operation"`
				LaborHours  *float64 `json:"LaborHours"`
				PartID      string   `json:"PartId"`
			} `json:"estimate"`
		}
		if err := json.Unmarshal([]byte(text), &out); err != nil {
			return nil, fmt.Errorf("estimate decode: %w", domain.ErrModelOutput)
		}

		est := make(domain.Estimate, len(out.Estimate))
		for category, ops := range out.Estimate {
			converted := make([]domain.EstimateOperation, 0, len(ops))
			for _, op := range ops {
				converted = append(converted, domain.EstimateOperation{
					Description: op.Description,
					Operation:   op.Operation,
					LabourHours: op.LaborHours,
					PartID:      op.PartID,
				})
			}
			est[category] = converted
		}
		return est, nil
	})
}

func orNone(s string) string {
	if s == "" {
		return "None provided"
	}
	return s
}
