package prompt

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/trueclaim/claims-engine/engine/domain"
)

// VehicleInfo renders vehicle info as natural language, e.g.
// "2020 Subaru Outback (Wagon)\nVIN: 4S4...".
func VehicleInfo(v domain.VehicleInfo) string {
	if v == (domain.VehicleInfo{}) {
		return "Not provided"
	}
	s := fmt.Sprintf("%d %s %s (%s)", v.Year, v.Make, v.Model, v.BodyType)
	if v.VIN != "" {
		s += "\nVIN: " + v.VIN
	}
	return s
}

// DamageList renders damage descriptions for the merge prompt: a
// numbered list of location, part, severity, type, and description.
func DamageList(damages []domain.DamageDescription) string {
	if len(damages) == 0 {
		return "No damage descriptions provided"
	}
	var b strings.Builder
	for i, d := range damages {
		fmt.Fprintf(&b, "\n%d. %s - %s:\n", i+1, orUnknown(d.Location), orUnknown(d.Part))
		fmt.Fprintf(&b, "   Severity: %s\n", orUnknown(d.Severity))
		fmt.Fprintf(&b, "   Type: %s\n", orUnknown(d.Type))
		fmt.Fprintf(&b, "   Description: %s\n", d.Description)
	}
	return b.String()
}

// DamageListDetailed renders damage descriptions for the estimate
// prompt, including positions.
func DamageListDetailed(damages []domain.DamageDescription) string {
	if len(damages) == 0 {
		return "No damage detected"
	}
	var b strings.Builder
	for i, d := range damages {
		fmt.Fprintf(&b, "\n%d. **%s** at %s\n", i+1, orUnknown(d.Part), orUnknown(d.Location))
		fmt.Fprintf(&b, "   - Severity: %s\n", orUnknown(d.Severity))
		fmt.Fprintf(&b, "   - Type: %s\n", orUnknown(d.Type))
		fmt.Fprintf(&b, "   - Position: %s to %s\n", orNA(d.StartPosition), orNA(d.EndPosition))
		fmt.Fprintf(&b, "   - Description: %s\n", orNA(d.Description))
	}
	return b.String()
}

// ApprovedEstimate renders an estimate grouped by part category.
func ApprovedEstimate(est domain.Estimate) string {
	if len(est) == 0 {
		return "No approved estimate provided"
	}
	var b strings.Builder
	for category, ops := range est {
		fmt.Fprintf(&b, "\n%s:\n", category)
		for _, op := range ops {
			if op.LabourHours != nil {
				fmt.Fprintf(&b, "  - %s: %s (%g hours)\n", op.Description, op.Operation, *op.LabourHours)
			} else {
				fmt.Fprintf(&b, "  - %s: %s\n", op.Description, op.Operation)
			}
		}
	}
	return b.String()
}

// RetrievedChunks renders similarity-search hits as historical
// estimates for the generation prompt.
func RetrievedChunks(chunks []domain.RetrievedChunk) string {
	if len(chunks) == 0 {
		return "No similar historical estimates found"
	}
	var b strings.Builder
	for i, c := range chunks {
		fmt.Fprintf(&b, "\n### Historical Estimate %d (Similarity: %.2f)\n", i+1, c.Score)
		fmt.Fprintf(&b, "**Vehicle**: %d %s %s\n", c.VehicleInfo.Year, c.VehicleInfo.Make, c.VehicleInfo.Model)
		fmt.Fprintf(&b, "**Side**: %s\n", c.Side)
		fmt.Fprintf(&b, "**Damage Description**: %s\n", c.Content)
		if len(c.ApprovedEstimate) > 0 {
			b.WriteString("**Approved Operations**:\n")
			for category, ops := range c.ApprovedEstimate {
				fmt.Fprintf(&b, "  - %s:\n", category)
				for _, op := range ops {
					if op.LabourHours != nil {
						fmt.Fprintf(&b, "    - %s: %s (%g hrs)\n", op.Description, op.Operation, *op.LabourHours)
					} else {
						fmt.Fprintf(&b, "    - %s: %s\n", op.Description, op.Operation)
					}
				}
			}
		}
	}
	return b.String()
}

// JSON renders arbitrary structured data (the PSS document) as indented
// JSON for embedding in a prompt.
func JSON(v any) string {
	if v == nil {
		return "Not provided"
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "Not provided"
	}
	return string(data)
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func orNA(s string) string {
	if s == "" {
		return "N/A"
	}
	return s
}
