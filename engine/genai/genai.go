// Package genai is the REST client for the Gemini generative API. It
// covers the two endpoints the pipeline needs, generateContent for
// multimodal analysis and embedContent for retrieval vectors, and
// converts transport and schema failures into the shared error
// taxonomy.
package genai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/trueclaim/claims-engine/engine/domain"
	"github.com/trueclaim/claims-engine/pkg/fn"
	"github.com/trueclaim/claims-engine/pkg/metrics"
	"github.com/trueclaim/claims-engine/pkg/resilience"
)

// Config holds client settings. Zero values fall back to defaults.
type Config struct {
	BaseURL    string
	APIKey     string
	Model      string
	EmbedModel string
	// RatePerSec caps outbound requests across all operations.
	RatePerSec float64
	Burst      int
	Timeout    time.Duration
	// Workers bounds the per-image classification fan-out.
	Workers int
}

const (
	defaultBaseURL    = "https://generativelanguage.googleapis.com"
	defaultModel      = "gemini-3-pro-preview"
	defaultEmbedModel = "gemini-embedding-001"
)

// ImageInput is one fetched image ready for a model call.
type ImageInput struct {
	Locator  string
	MIMEType string
	Data     []byte
}

// Client talks to the generative API.
type Client struct {
	cfg     Config
	http    *http.Client
	limiter *rate.Limiter
	breaker *resilience.Breaker
	reg     *metrics.Registry
	log     *slog.Logger
}

// New creates a Client. reg may be nil, in which case metrics go to a
// private registry.
func New(cfg Config, reg *metrics.Registry, log *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.EmbedModel == "" {
		cfg.EmbedModel = defaultEmbedModel
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 2
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if reg == nil {
		reg = metrics.New()
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.Timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		reg:     reg,
		log:     log,
	}
}

// Wire types for generateContent.

type inlineData struct {
	MIMEType string `json:"mime_type"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	Temperature      float64 `json:"temperature"`
	ResponseMIMEType string  `json:"responseMimeType,omitempty"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Wire types for embedContent.

type embedRequest struct {
	Content              content `json:"content"`
	TaskType             string  `json:"taskType,omitempty"`
	OutputDimensionality int     `json:"outputDimensionality,omitempty"`
}

type embedResponse struct {
	Embedding struct {
		Values []float64 `json:"values"`
	} `json:"embedding"`
}

// post sends one rate-limited, breaker-guarded request and decodes the
// response into out.
func (c *Client) post(ctx context.Context, op, url string, in, out any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}
	start := time.Now()
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		body, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("%s marshal: %w", op, err)
		}
		req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("x-goog-api-key", c.cfg.APIKey)

		resp, err := c.http.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %v: %w", op, err, domain.ErrTransient)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return fmt.Errorf("%s: status %d: %s: %w", op, resp.StatusCode, msg, domain.ErrTransient)
			}
			return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, msg)
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%s decode: %w", op, err)
		}
		return nil
	})

	c.reg.Histogram(metrics.WithLabels("genai_request_seconds", "op", op), "Generative API request latency.", nil).Since(start)
	if err != nil {
		c.reg.Counter(metrics.WithLabels("genai_request_failures_total", "op", op), "Failed generative API requests.").Inc()
	}
	return err
}

// generate runs one generateContent call and returns the first
// candidate's text.
func (c *Client) generate(ctx context.Context, op, promptText string, images []ImageInput, mimeType string) (string, error) {
	parts := []part{{Text: promptText}}
	for _, img := range images {
		mt := img.MIMEType
		if mt == "" {
			mt = "image/jpeg"
		}
		parts = append(parts, part{InlineData: &inlineData{
			MIMEType: mt,
			Data:     base64.StdEncoding.EncodeToString(img.Data),
		}})
	}

	req := generateRequest{
		Contents: []content{{Parts: parts}},
		GenerationConfig: generationConfig{
			Temperature:      1.0,
			ResponseMIMEType: mimeType,
		},
	}

	var resp generateResponse
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.cfg.BaseURL, c.cfg.Model)
	if err := c.post(ctx, op, url, req, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("%s: empty response: %w", op, domain.ErrModelOutput)
	}
	return resp.Candidates[0].Content.Parts[0].Text, nil
}

// generateJSON runs generate in JSON mode and validates the output
// against schema. An invalid first answer gets one corrective follow-up
// before the call fails with ErrModelOutput.
func (c *Client) generateJSON(ctx context.Context, op, promptText string, images []ImageInput, schema *jsonSchema) (string, error) {
	p := promptText
	var lastReason string
	for attempt := 0; attempt < 2; attempt++ {
		text, err := c.generate(ctx, op, p, images, "application/json")
		if err != nil {
			return "", err
		}
		reason, ok := schema.check(text)
		if ok {
			return text, nil
		}
		lastReason = reason
		c.log.Warn("model output failed schema check", "op", op, "attempt", attempt+1, "reason", reason)
		p = promptText + "\n\nThe previous response was invalid: " + reason +
			"\nRespond again with only a JSON object that satisfies the required structure."
	}
	return "", fmt.Errorf("%s: %s: %w", op, lastReason, domain.ErrModelOutput)
}

// outcome lets withRetry carry a non-retryable error through fn.Retry
// without triggering another attempt.
type outcome[T any] struct {
	val T
	err error
}

var retryOpts = fn.RetryOpts{
	MaxAttempts: 2,
	InitialWait: 500 * time.Millisecond,
	MaxWait:     2 * time.Second,
	Jitter:      true,
}

// withRetry runs f with a single bounded retry on transient failures.
func withRetry[T any](ctx context.Context, f func(context.Context) (T, error)) (T, error) {
	res := fn.Retry(ctx, retryOpts, func(ctx context.Context) fn.Result[outcome[T]] {
		v, err := f(ctx)
		if err != nil && domain.Retryable(err) {
			return fn.Err[outcome[T]](err)
		}
		return fn.Ok(outcome[T]{val: v, err: err})
	})
	o, err := res.Unwrap()
	if err != nil {
		var zero T
		return zero, err
	}
	return o.val, o.err
}
