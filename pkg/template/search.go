package template

import (
	"github.com/Masterminds/semver/v3"

	"github.com/cleargate-io/cleargate/pkg/identity"
	"github.com/cleargate-io/cleargate/pkg/pack"
)

// TriggerNoTemplateFound is returned instead of an error when a search comes
// up empty; it routes the caller to the orchestrator role.
const TriggerNoTemplateFound = "TRG_NO_TEMPLATE_FOUND"

// Query filters templates by exact service and pack match.
type Query struct {
	ServiceID string    `json:"service_id"`
	Pack      pack.Pack `json:"jurisdiction_pack"`
}

// SearchResult holds the matches and the best (highest-versioned) match.
// When no template matches, Trigger is set and RouteTo names the role that
// handles the miss.
type SearchResult struct {
	Matches   []Template `json:"matches"`
	BestMatch *Template  `json:"best_match,omitempty"`
	Trigger   string     `json:"trigger,omitempty"`
	RouteTo   string     `json:"route_to,omitempty"`
}

// Search filters all templates by exact service and pack. The best match is
// the highest semver among the matches; invalid stored versions sort lowest.
func Search(all []Template, query Query) SearchResult {
	var result SearchResult
	for _, tmpl := range all {
		if tmpl.ServiceID != query.ServiceID || tmpl.Pack != query.Pack {
			continue
		}
		result.Matches = append(result.Matches, tmpl)
	}

	if len(result.Matches) == 0 {
		result.Trigger = TriggerNoTemplateFound
		result.RouteTo = string(identity.RoleOrchestrator)
		return result
	}

	best := 0
	for i := 1; i < len(result.Matches); i++ {
		if compareVersions(result.Matches[i].Version, result.Matches[best].Version) > 0 {
			best = i
		}
	}
	result.BestMatch = &result.Matches[best]
	return result
}

func compareVersions(a, b string) int {
	va, errA := semver.NewVersion(a)
	vb, errB := semver.NewVersion(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	default:
		return va.Compare(vb)
	}
}
