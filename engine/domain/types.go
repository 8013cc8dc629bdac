// Package domain defines the core claim-processing types, the error
// taxonomy shared by every external-collaborator client, and request
// validation. It is the validation gate at pipeline entry points.
package domain

// Side is the vehicle facet an image depicts.
type Side string

const (
	SideFront Side = "front"
	SideRear  Side = "rear"
	SideLeft  Side = "left"
	SideRight Side = "right"
	SideRoof  Side = "roof"

	// SideUnknown is a classification bucket for images the model cannot
	// place. It is never a valid ChunkOutput side.
	SideUnknown Side = "unknown"
)

// Sides lists the five analyzable vehicle sides.
var Sides = []Side{SideFront, SideRear, SideLeft, SideRight, SideRoof}

// ValidSide reports whether s is one of the five analyzable sides.
func ValidSide(s Side) bool {
	for _, v := range Sides {
		if s == v {
			return true
		}
	}
	return false
}

// VehicleInfo identifies the vehicle under claim. Supplied by the caller
// and echoed back verbatim in every output.
type VehicleInfo struct {
	VIN      string `json:"vin"`
	Make     string `json:"make"`
	Model    string `json:"model"`
	Year     int    `json:"year"`
	BodyType string `json:"body_type"`
}

// DamageDescription is a single damage finding produced by the model
// from one side's images.
type DamageDescription struct {
	Location      string `json:"location"`
	Part          string `json:"part"`
	Severity      string `json:"severity"`
	Type          string `json:"type"`
	StartPosition string `json:"start_position"`
	EndPosition   string `json:"end_position"`
	Description   string `json:"description"`
}

// EstimateOperation is one line item of an estimate, grouped under a
// part category. LabourHours is present only for Repair operations.
type EstimateOperation struct {
	Description string   `json:"Description"`
	Operation   string   `json:"Operation"`
	LabourHours *float64 `json:"LabourHours,omitempty"`
	PartID      string   `json:"PartId,omitempty"`
}

// Estimate maps part categories to their operations.
type Estimate map[string][]EstimateOperation

// ChunkOutput is the unit of persistence: the analysis result for one
// vehicle side. Immutable after creation except for the optional attach
// of ApprovedEstimate.
type ChunkOutput struct {
	VehicleInfo             VehicleInfo         `json:"vehicle_info"`
	Side                    Side                `json:"side"`
	Images                  []string            `json:"images"`
	DamageDescriptions      []DamageDescription `json:"damage_descriptions"`
	MergedDamageDescription string              `json:"merged_damage_description"`
	ApprovedEstimate        Estimate            `json:"approved_estimate"`
}

// EmbeddingDim is the fixed vector dimensionality for damage-description
// embeddings. The vector collection is created with this size and every
// upsert/search must match it.
const EmbeddingDim = 768

// RetrievedChunk is a prior damage record returned by similarity search.
type RetrievedChunk struct {
	Score              float32             `json:"score"`
	Content            string              `json:"content"`
	VehicleInfo        VehicleInfo         `json:"vehicle_info"`
	Side               Side                `json:"side"`
	DamageDescriptions []DamageDescription `json:"damage_descriptions"`
	ApprovedEstimate   Estimate            `json:"approved_estimate"`
}
