package prompt

import (
	"strings"
	"testing"

	"github.com/trueclaim/claims-engine/engine/domain"
)

func TestBuildSubstitutesKnownPlaceholders(t *testing.T) {
	out := Build("Analyzing a {year} {make} {model}.", map[string]string{
		"year": "2020", "make": "Subaru", "model": "Outback",
	})
	if out != "Analyzing a 2020 Subaru Outback." {
		t.Fatalf("unexpected output: %q", out)
	}
}

func TestBuildLeavesUnknownPlaceholderLiteral(t *testing.T) {
	out := Build("Known: {side}. Unknown: {foo}.", map[string]string{"side": "front"})
	if !strings.Contains(out, "front") {
		t.Error("known placeholder not substituted")
	}
	if !strings.Contains(out, "{foo}") {
		t.Errorf("unknown placeholder should stay literal, got %q", out)
	}
}

func TestBuildNoValues(t *testing.T) {
	const tmpl = "static text with {placeholder}"
	if out := Build(tmpl, nil); out != tmpl {
		t.Fatalf("template without values should pass through, got %q", out)
	}
}

func TestOr(t *testing.T) {
	if Or("custom", "default") != "custom" {
		t.Error("custom template should win")
	}
	if Or("", "default") != "default" {
		t.Error("empty custom should fall back to default")
	}
}

func TestVehicleInfoRendering(t *testing.T) {
	v := domain.VehicleInfo{VIN: "4S4BTDNC3L3195200", Make: "Subaru", Model: "Outback", Year: 2020, BodyType: "Wagon"}
	out := VehicleInfo(v)
	if out != "2020 Subaru Outback (Wagon)\nVIN: 4S4BTDNC3L3195200" {
		t.Fatalf("unexpected rendering: %q", out)
	}
	if VehicleInfo(domain.VehicleInfo{}) != "Not provided" {
		t.Error("zero vehicle info should render as Not provided")
	}
}

func TestDamageListRendering(t *testing.T) {
	damages := []domain.DamageDescription{
		{
			Location:    "Rear Left Quarter Panel",
			Part:        "Quarter Panel",
			Severity:    "Medium",
			Type:        "Dent",
			Description: "Shallow dent with paint transfer.",
		},
	}
	out := DamageList(damages)
	for _, want := range []string{"1. Rear Left Quarter Panel - Quarter Panel", "Severity: Medium", "Type: Dent", "Shallow dent"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendering missing %q:\n%s", want, out)
		}
	}

	if DamageList(nil) != "No damage descriptions provided" {
		t.Error("empty list should render placeholder text")
	}
	if DamageListDetailed(nil) != "No damage detected" {
		t.Error("empty detailed list should render placeholder text")
	}
}

func TestApprovedEstimateRendering(t *testing.T) {
	hours := 1.5
	est := domain.Estimate{
		"Rear Bumper": {
			{Description: "Rear Bumper Cover", Operation: "Remove / Replace"},
			{Description: "Rear Bumper Reinforcement", Operation: "Repair", LabourHours: &hours},
		},
	}
	out := ApprovedEstimate(est)
	if !strings.Contains(out, "Rear Bumper Cover: Remove / Replace") {
		t.Errorf("missing replace line:\n%s", out)
	}
	if !strings.Contains(out, "Rear Bumper Reinforcement: Repair (1.5 hours)") {
		t.Errorf("missing repair hours:\n%s", out)
	}
	if ApprovedEstimate(nil) != "No approved estimate provided" {
		t.Error("empty estimate should render placeholder text")
	}
}

func TestRetrievedChunksRendering(t *testing.T) {
	chunks := []domain.RetrievedChunk{
		{
			Score:       0.91,
			Content:     "Rear bumper scuffed across the left corner.",
			VehicleInfo: domain.VehicleInfo{Make: "Subaru", Model: "Outback", Year: 2020},
			Side:        domain.SideRear,
			ApprovedEstimate: domain.Estimate{
				"Rear Bumper": {{Description: "Rear Bumper Cover", Operation: "Remove / Replace"}},
			},
		},
	}
	out := RetrievedChunks(chunks)
	for _, want := range []string{"Historical Estimate 1 (Similarity: 0.91)", "2020 Subaru Outback", "**Side**: rear", "Rear Bumper Cover"} {
		if !strings.Contains(out, want) {
			t.Errorf("rendering missing %q:\n%s", want, out)
		}
	}
	if RetrievedChunks(nil) != "No similar historical estimates found" {
		t.Error("zero retrieval should render the no-history text")
	}
}

func TestDefaultTemplatesCarryTheirPlaceholders(t *testing.T) {
	cases := map[string][]string{
		DefaultDamageAnalysis:     {"{year}", "{make}", "{model}", "{body_type}", "{side}", "{approved_estimate}"},
		DefaultMergeDamage:        {"{year}", "{make}", "{model}", "{body_type}", "{damage_descriptions}"},
		DefaultEstimateGeneration: {"{vehicle_info}", "{damage_descriptions}", "{human_description}", "{retrieved_chunks}", "{pss_data}"},
	}
	for tmpl, placeholders := range cases {
		for _, p := range placeholders {
			if !strings.Contains(tmpl, p) {
				t.Errorf("template missing placeholder %s", p)
			}
		}
	}
}
