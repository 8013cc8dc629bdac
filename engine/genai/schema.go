package genai

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// jsonSchema wraps a compiled JSON Schema with a check method that
// returns a human-readable reason on failure, suitable for feeding back
// to the model.
type jsonSchema struct {
	schema *gojsonschema.Schema
}

func mustSchema(raw string) *jsonSchema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(raw))
	if err != nil {
		panic("genai: bad schema: " + err.Error())
	}
	return &jsonSchema{schema: s}
}

// check validates doc. On failure it returns a reason and false.
func (s *jsonSchema) check(doc string) (string, bool) {
	res, err := s.schema.Validate(gojsonschema.NewStringLoader(doc))
	if err != nil {
		return "not parseable as JSON: " + err.Error(), false
	}
	if res.Valid() {
		return "", true
	}
	reasons := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		reasons = append(reasons, e.String())
	}
	return strings.Join(reasons, "; "), false
}

// classificationSchema describes the per-image side verdict. The side is
// deliberately an open string so an out-of-set answer surfaces as a
// classification error rather than a schema one.
var classificationSchema = mustSchema(`{
	"type": "object",
	"required": ["side", "confidence"],
	"properties": {
		"side": {"type": "string"},
		"confidence": {"type": "number", "minimum": 0, "maximum": 1}
	}
}`)

// damageAnalysisSchema describes the structured findings for one side.
var damageAnalysisSchema = mustSchema(`{
	"type": "object",
	"required": ["damage_descriptions"],
	"properties": {
		"damage_descriptions": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["location", "part", "severity", "type", "start_position", "end_position", "description"],
				"properties": {
					"location": {"type": "string"},
					"part": {"type": "string"},
					"severity": {"type": "string"},
					"type": {"type": "string"},
					"start_position": {"type": "string"},
					"end_position": {"type": "string"},
					"description": {"type": "string"}
				}
			}
		}
	}
}`)

// estimateSchema describes the generated estimate, keyed by part
// category. Labor hours stay optional; they only apply to repairs.
var estimateSchema = mustSchema(`{
	"type": "object",
	"required": ["estimate"],
	"properties": {
		"estimate": {
			"type": "object",
			"additionalProperties": {
				"type": "array",
				"items": {
					"type": "object",
					"required": ["Description", "Operation"],
					"properties": {
						"Description": {"type": "string"},
						"Operation": {"type": "string"},
						"LaborHours": {"type": ["number", "null"]},
						"PartId": {"type": ["string", "null"]}
					}
				}
			}
		}
	}
}`)
