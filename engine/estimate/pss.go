package estimate

import (
	"strings"
)

// PSS (Parts and Service Standards) documents arrive as JSON with a
// fixed Categories > SubCategories > Parts > PartDetails hierarchy.
// Only the fields needed for part matching are decoded; the raw
// document still travels into the estimate prompt untouched.

type PSSDocument struct {
	Categories []PSSCategory `json:"Categories"`
}

type PSSCategory struct {
	Description   string           `json:"Description"`
	SubCategories []PSSSubCategory `json:"SubCategories"`
}

type PSSSubCategory struct {
	Description string    `json:"Description"`
	Parts       []PSSPart `json:"Parts"`
}

type PSSPart struct {
	PartDetails []PSSPartDetail `json:"PartDetails"`
}

type PSSPartDetail struct {
	ID              flexID `json:"Id"`
	FullDescription string `json:"FullDescription"`
	Part            struct {
		Description string `json:"Description"`
	} `json:"Part"`
}

// flexID tolerates part ids serialized as either numbers or strings.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	*f = flexID(strings.Trim(string(b), `"`))
	return nil
}

// PartInfo is one matchable PSS part.
type PartInfo struct {
	ID              string
	FullDescription string
	Description     string
}

// ExtractParts flattens a PSS document into a lowercase-keyed lookup.
// Both the full description and the short part description become keys;
// the first occurrence of a key wins.
func ExtractParts(doc PSSDocument) map[string]PartInfo {
	parts := make(map[string]PartInfo)
	add := func(key string, info PartInfo) {
		key = strings.ToLower(strings.TrimSpace(key))
		if key == "" || info.ID == "" {
			return
		}
		if _, exists := parts[key]; !exists {
			parts[key] = info
		}
	}

	for _, cat := range doc.Categories {
		for _, sub := range cat.SubCategories {
			for _, part := range sub.Parts {
				for _, detail := range part.PartDetails {
					info := PartInfo{
						ID:              string(detail.ID),
						FullDescription: detail.FullDescription,
						Description:     detail.Part.Description,
					}
					add(detail.FullDescription, info)
					add(detail.Part.Description, info)
				}
			}
		}
	}
	return parts
}

// MatchPart finds the PSS part id for a generated operation's part
// description. Exact match first, then word overlap, then substring
// containment either way.
func MatchPart(desc string, parts map[string]PartInfo) (string, bool) {
	needle := strings.ToLower(strings.TrimSpace(desc))
	if needle == "" || len(parts) == 0 {
		return "", false
	}

	if info, ok := parts[needle]; ok {
		return info.ID, true
	}

	needleWords := wordSet(needle)
	for key, info := range parts {
		if overlap(wordSet(key), needleWords) >= 2 {
			return info.ID, true
		}
		if strings.Contains(needle, key) || strings.Contains(key, needle) {
			return info.ID, true
		}
	}
	return "", false
}

func wordSet(s string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, w := range strings.Fields(s) {
		out[w] = struct{}{}
	}
	return out
}

func overlap(a, b map[string]struct{}) int {
	n := 0
	for w := range a {
		if _, ok := b[w]; ok {
			n++
		}
	}
	return n
}
