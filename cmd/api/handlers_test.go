package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/trueclaim/claims-engine/engine/damage"
	"github.com/trueclaim/claims-engine/engine/domain"
	"github.com/trueclaim/claims-engine/engine/estimate"
	"github.com/trueclaim/claims-engine/engine/genai"
	"github.com/trueclaim/claims-engine/engine/semantic"
)

func discardLog() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeDamage struct {
	classification damage.Classification
	side           damage.SideResult
	sides          []damage.SideResult
	chunkID        string
	err            error

	gotClassify damage.ClassifyInput
	gotSide     damage.SideInput
	gotAnalyze  damage.AnalyzeInput
	gotChunk    domain.ChunkOutput
}

func (f *fakeDamage) ClassifyImages(_ context.Context, in damage.ClassifyInput) (damage.Classification, error) {
	f.gotClassify = in
	return f.classification, f.err
}

func (f *fakeDamage) AnalyzeSide(_ context.Context, in damage.SideInput) (damage.SideResult, error) {
	f.gotSide = in
	return f.side, f.err
}

func (f *fakeDamage) AnalyzeChunks(_ context.Context, in damage.AnalyzeInput) ([]damage.SideResult, error) {
	f.gotAnalyze = in
	return f.sides, f.err
}

func (f *fakeDamage) SaveChunk(_ context.Context, chunk domain.ChunkOutput) (string, error) {
	f.gotChunk = chunk
	return f.chunkID, f.err
}

type fakeEstimate struct {
	resp estimate.Response
	err  error
	got  estimate.Request
}

func (f *fakeEstimate) Generate(_ context.Context, req estimate.Request) (estimate.Response, error) {
	f.got = req
	return f.resp, f.err
}

type fakeStore struct {
	info    semantic.Info
	results []domain.RetrievedChunk
	err     error
	gotOpts semantic.SearchOpts
}

func (f *fakeStore) CollectionInfo(context.Context) (semantic.Info, error) {
	return f.info, f.err
}

func (f *fakeStore) DeleteCollection(context.Context) error { return f.err }

func (f *fakeStore) Search(_ context.Context, _ []float32, opts semantic.SearchOpts) ([]domain.RetrievedChunk, error) {
	f.gotOpts = opts
	return f.results, f.err
}

type fakeEmbedder struct {
	vector  []float32
	err     error
	gotText string
	gotTask genai.TaskType
}

func (f *fakeEmbedder) Embed(_ context.Context, text string, task genai.TaskType) ([]float32, error) {
	f.gotText = text
	f.gotTask = task
	return f.vector, f.err
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrAuth, http.StatusUnauthorized},
		{domain.ErrAccess, http.StatusForbidden},
		{domain.ErrNotFound, http.StatusNotFound},
		{domain.ErrModelOutput, http.StatusUnprocessableEntity},
		{domain.ErrClassification, http.StatusUnprocessableEntity},
		{domain.ErrStandardsUnavailable, http.StatusUnprocessableEntity},
		{domain.ErrStoreUnavailable, http.StatusServiceUnavailable},
		{domain.ErrTransient, http.StatusServiceUnavailable},
		{domain.ErrStore, http.StatusBadRequest},
		{domain.ErrSchemaMismatch, http.StatusBadRequest},
		{domain.ErrNoImages, http.StatusBadRequest},
		{domain.ErrInvalidSide, http.StatusBadRequest},
		{domain.ErrInvalidLocator, http.StatusBadRequest},
		{domain.ErrNoQueryText, http.StatusBadRequest},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		if got := statusFor(tc.err); got != tc.want {
			t.Errorf("statusFor(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestStatusForWrapped(t *testing.T) {
	err := &domain.ValidationError{Field: "side", Value: "top", Wrapped: domain.ErrInvalidSide}
	if got := statusFor(err); got != http.StatusBadRequest {
		t.Fatalf("wrapped validation error mapped to %d, want 400", got)
	}
}

func TestHandleHealth(t *testing.T) {
	store := &fakeStore{info: semantic.Info{Name: "image_descriptions"}}

	rec := httptest.NewRecorder()
	handleHealth(true, store)(rec, httptest.NewRequest("GET", "/health", nil))

	var got healthResponse
	json.NewDecoder(rec.Body).Decode(&got)
	if got.Status != "healthy" || !got.GeminiConfigured || !got.QdrantConnected {
		t.Fatalf("unexpected health: %+v", got)
	}
}

func TestHandleHealthDegraded(t *testing.T) {
	store := &fakeStore{err: domain.ErrStoreUnavailable}

	rec := httptest.NewRecorder()
	handleHealth(false, store)(rec, httptest.NewRequest("GET", "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("health probe must not fail, got %d", rec.Code)
	}
	var got healthResponse
	json.NewDecoder(rec.Body).Decode(&got)
	if got.Status != "degraded" || got.QdrantConnected {
		t.Fatalf("unexpected health: %+v", got)
	}
}

func TestHandleClassify(t *testing.T) {
	svc := &fakeDamage{classification: damage.Classification{
		Classified:  map[domain.Side][]string{domain.SideFront: {"s3://b/1.jpg"}},
		TotalImages: 1,
	}}

	body := `{"bucket_url":"s3://b/claims/","custom_classification_prompt":"p"}`
	rec := httptest.NewRecorder()
	handleClassify(svc, discardLog())(rec, httptest.NewRequest("POST", "/vehicle-damage/classify", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if svc.gotClassify.BucketURL != "s3://b/claims/" || svc.gotClassify.CustomPrompt != "p" {
		t.Fatalf("input not forwarded: %+v", svc.gotClassify)
	}
	var got classifyResponse
	json.NewDecoder(rec.Body).Decode(&got)
	if !got.Success || got.TotalImages != 1 || len(got.Classified[domain.SideFront]) != 1 {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestHandleClassifyMalformedBody(t *testing.T) {
	rec := httptest.NewRecorder()
	handleClassify(&fakeDamage{}, discardLog())(rec, httptest.NewRequest("POST", "/vehicle-damage/classify", strings.NewReader("{nope")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleAnalyzeSideErrorMapping(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrNoImages, http.StatusBadRequest},
		{domain.ErrModelOutput, http.StatusUnprocessableEntity},
		{domain.ErrTransient, http.StatusServiceUnavailable},
	}
	for _, tc := range cases {
		svc := &fakeDamage{err: tc.err}
		rec := httptest.NewRecorder()
		body := `{"side":"front","images":["s3://b/1.jpg"]}`
		handleAnalyzeSide(svc, discardLog())(rec, httptest.NewRequest("POST", "/vehicle-damage/analyze-side", strings.NewReader(body)))
		if rec.Code != tc.want {
			t.Errorf("err %v: status = %d, want %d", tc.err, rec.Code, tc.want)
		}
	}
}

func TestHandleAnalyzeSideSaveError(t *testing.T) {
	svc := &fakeDamage{side: damage.SideResult{
		Chunk:   domain.ChunkOutput{Side: domain.SideFront, MergedDamageDescription: "dented"},
		SaveErr: domain.ErrStoreUnavailable,
	}}

	rec := httptest.NewRecorder()
	body := `{"side":"front","images":["s3://b/1.jpg"]}`
	handleAnalyzeSide(svc, discardLog())(rec, httptest.NewRequest("POST", "/vehicle-damage/analyze-side", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("analysis with failed save must still return 200, got %d", rec.Code)
	}
	var got map[string]any
	json.NewDecoder(rec.Body).Decode(&got)
	if msg, _ := got["save_error"].(string); msg == "" || got["merged_damage_description"] != "dented" {
		t.Fatalf("unexpected response: %v", got)
	}
}

func TestHandleAnalyzeChunks(t *testing.T) {
	svc := &fakeDamage{sides: []damage.SideResult{
		{Chunk: domain.ChunkOutput{Side: domain.SideFront}, ChunkID: "id-1"},
		{Chunk: domain.ChunkOutput{Side: domain.SideRear}, ChunkID: "id-2"},
	}}

	body := `{"bucket_url":"s3://b/claims/","vehicle_info":{"vin":"V1","make":"Toyota","model":"Camry","year":2021}}`
	rec := httptest.NewRecorder()
	handleAnalyzeChunks(svc, discardLog())(rec, httptest.NewRequest("POST", "/vehicle-damage/analyze/chunks", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if svc.gotAnalyze.VehicleInfo.Make != "Toyota" {
		t.Fatalf("vehicle info not forwarded: %+v", svc.gotAnalyze)
	}
	var got analyzeChunksResponse
	json.NewDecoder(rec.Body).Decode(&got)
	if got.TotalSides != 2 || got.Chunks[0].ChunkID != "id-1" || got.Chunks[1].Side != domain.SideRear {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestHandleSaveChunk(t *testing.T) {
	svc := &fakeDamage{chunkID: "abc-123"}

	body := `{"vehicle_info":{"vin":"V1"},"side":"front","images":["s3://b/1.jpg"],"merged_damage_description":"dent"}`
	rec := httptest.NewRecorder()
	handleSaveChunk(svc, discardLog())(rec, httptest.NewRequest("POST", "/vehicle-damage/save-chunk", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if svc.gotChunk.VehicleInfo.VIN != "V1" || svc.gotChunk.Side != domain.SideFront {
		t.Fatalf("chunk not forwarded: %+v", svc.gotChunk)
	}
	var got saveChunkResponse
	json.NewDecoder(rec.Body).Decode(&got)
	if !got.Success || got.ChunkID != "abc-123" {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestHandleSearch(t *testing.T) {
	emb := &fakeEmbedder{vector: make([]float32, domain.EmbeddingDim)}
	store := &fakeStore{results: []domain.RetrievedChunk{{Content: "front dent", Score: 0.9}}}

	req := httptest.NewRequest("GET", "/qdrant/search?query=dented+bumper&limit=3&threshold=0.6&make=Toyota&model=Camry", nil)
	rec := httptest.NewRecorder()
	handleSearch(emb, store, discardLog())(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if emb.gotText != "dented bumper" || emb.gotTask != genai.TaskQuery {
		t.Fatalf("embed call: text %q task %q", emb.gotText, emb.gotTask)
	}
	if store.gotOpts.TopK != 3 || store.gotOpts.ScoreThreshold != 0.6 {
		t.Fatalf("search opts: %+v", store.gotOpts)
	}
	if store.gotOpts.Filters["make"] != "Toyota" || store.gotOpts.Filters["model"] != "Camry" {
		t.Fatalf("filters: %+v", store.gotOpts.Filters)
	}
	var got searchResponse
	json.NewDecoder(rec.Body).Decode(&got)
	if got.Count != 1 || got.Results[0].Content != "front dent" {
		t.Fatalf("unexpected response: %+v", got)
	}
}

func TestHandleSearchMissingQuery(t *testing.T) {
	rec := httptest.NewRecorder()
	handleSearch(&fakeEmbedder{}, &fakeStore{}, discardLog())(rec, httptest.NewRequest("GET", "/qdrant/search", nil))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleSearchEmptyResults(t *testing.T) {
	emb := &fakeEmbedder{vector: make([]float32, domain.EmbeddingDim)}
	rec := httptest.NewRecorder()
	handleSearch(emb, &fakeStore{}, discardLog())(rec, httptest.NewRequest("GET", "/qdrant/search?query=x", nil))

	if !strings.Contains(rec.Body.String(), `"results":[]`) {
		t.Fatalf("empty results must encode as [], got %s", rec.Body)
	}
}

func TestHandleCollectionInfoUnavailable(t *testing.T) {
	store := &fakeStore{err: domain.ErrStoreUnavailable}
	rec := httptest.NewRecorder()
	handleCollectionInfo(store, discardLog())(rec, httptest.NewRequest("GET", "/qdrant/collection/info", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleDeleteCollection(t *testing.T) {
	rec := httptest.NewRecorder()
	handleDeleteCollection(&fakeStore{}, discardLog())(rec, httptest.NewRequest("DELETE", "/qdrant/collection", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
}

func TestHandleEstimate(t *testing.T) {
	hours := 2.5
	svc := &fakeEstimate{resp: estimate.Response{
		Estimate: domain.Estimate{
			"front": {{Description: "Bumper", Operation: "Repair", LabourHours: &hours}},
		},
		RetrievedChunks: []domain.RetrievedChunk{{Content: "prior dent"}},
		PSSDataUsed:     true,
	}}

	body := `{"vehicle_info":{"vin":"V1","make":"Toyota"},"merged_damage_description":"front dent","pss_url":"s3://b/pss.json","filter_vehicle":true}`
	rec := httptest.NewRecorder()
	handleEstimate(svc, discardLog())(rec, httptest.NewRequest("POST", "/rag/estimate", strings.NewReader(body)))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	if svc.got.PSSURL != "s3://b/pss.json" || !svc.got.FilterVehicle {
		t.Fatalf("request not forwarded: %+v", svc.got)
	}
	var got map[string]any
	json.NewDecoder(rec.Body).Decode(&got)
	if got["success"] != true || got["pss_data_used"] != true {
		t.Fatalf("unexpected response: %v", got)
	}
	if _, ok := got["processing_time_seconds"]; !ok {
		t.Fatal("missing processing_time_seconds")
	}
}

func TestHandleEstimateStandardsUnavailable(t *testing.T) {
	svc := &fakeEstimate{err: domain.ErrStandardsUnavailable}
	rec := httptest.NewRecorder()
	body := `{"merged_damage_description":"dent","pss_url":"s3://b/missing.json"}`
	handleEstimate(svc, discardLog())(rec, httptest.NewRequest("POST", "/rag/estimate", strings.NewReader(body)))

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422", rec.Code)
	}
}
