// Package evidence defines the closed evidence taxonomy and the
// minimum-coverage rule used to judge whether a draft artifact is backed by
// enough supporting material. This is the leaf model consumed by the autonomy
// classifier, the QC gates, and the template factory.
package evidence

import (
	"sort"
)

// Type categorizes a piece of linked evidence. Immutable reference data.
type Type string

const (
	ClientInstruction Type = "CLIENT_INSTRUCTION"
	IdentityAuthority Type = "IDENTITY_AUTHORITY"
	FinancialRecords  Type = "FINANCIAL_RECORDS"
	SourceDocuments   Type = "SOURCE_DOCUMENTS"
	RegistryExtracts  Type = "REGISTRY_EXTRACTS"
	LegalSources      Type = "LEGAL_SOURCES"
	WorkpaperTrail    Type = "WORKPAPER_TRAIL"
	Correspondence    Type = "CORRESPONDENCE"
)

// AllTypes contains every evidence category.
var AllTypes = []Type{
	ClientInstruction,
	IdentityAuthority,
	FinancialRecords,
	SourceDocuments,
	RegistryExtracts,
	LegalSources,
	WorkpaperTrail,
	Correspondence,
}

// Item is a single linked evidence reference. The engine never inspects the
// underlying document; extraction belongs to upstream services.
type Item struct {
	ID   string `json:"id"`
	Type Type   `json:"type"`
	Ref  string `json:"ref,omitempty"`
}

// Requirement is attached per service/task type and states the minimum
// evidence coverage for that kind of work.
type Requirement struct {
	RequiredTypes []Type `json:"required_types"`
	MinItems      int    `json:"min_items"`
}

// SatisfiesMinimum reports whether linked covers every required type.
// missing is required minus linked, sorted for deterministic output.
func SatisfiesMinimum(linked, required []Type) (satisfied bool, missing []Type) {
	present := make(map[Type]bool, len(linked))
	for _, t := range linked {
		present[t] = true
	}
	for _, t := range required {
		if !present[t] {
			missing = append(missing, t)
		}
	}
	sort.Slice(missing, func(i, j int) bool { return missing[i] < missing[j] })
	return len(missing) == 0, missing
}

// Sufficiency is the scored result of ValidateSufficiency.
type Sufficiency struct {
	Sufficient bool   `json:"sufficient"`
	Score      int    `json:"score"` // 0-100
	Missing    []Type `json:"missing,omitempty"`
	ItemCount  int    `json:"item_count"`
}

// ValidateSufficiency scores the linked items against a requirement.
// Half the score comes from required-type coverage, half from item count
// relative to the minimum. Sufficient requires full coverage and the minimum
// item count.
func ValidateSufficiency(items []Item, req Requirement) Sufficiency {
	linked := make([]Type, 0, len(items))
	for _, it := range items {
		linked = append(linked, it.Type)
	}
	satisfied, missing := SatisfiesMinimum(linked, req.RequiredTypes)

	coverage := 1.0
	if n := len(req.RequiredTypes); n > 0 {
		coverage = float64(n-len(missing)) / float64(n)
	}

	volume := 1.0
	if req.MinItems > 0 {
		volume = float64(len(items)) / float64(req.MinItems)
		if volume > 1 {
			volume = 1
		}
	}

	return Sufficiency{
		Sufficient: satisfied && len(items) >= req.MinItems,
		Score:      int(50*coverage + 50*volume),
		Missing:    missing,
		ItemCount:  len(items),
	}
}
