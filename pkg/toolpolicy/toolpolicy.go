// Package toolpolicy is the single checkpoint every tool invocation passes
// through. A static per-agent tool-group allowlist runs first, then an
// ordered dynamic rule chain re-derives the dual-gate and escalation
// constraints at the point of invocation. The first denial short-circuits.
package toolpolicy

import (
	"sync"

	"github.com/cleargate-io/cleargate/pkg/errdefs"
	"github.com/cleargate-io/cleargate/pkg/pack"
)

// Group is a tool group. Five closed groups exist; only release_gated
// carries the gating flag.
type Group string

const (
	GroupCaseManagement  Group = "case_management"
	GroupDocumentFactory Group = "document_factory"
	GroupEvidence        Group = "evidence"
	GroupQCGates         Group = "qc_gates"
	GroupReleaseGated    Group = "release_gated"
)

// AllGroups contains every tool group.
var AllGroups = []Group{
	GroupCaseManagement,
	GroupDocumentFactory,
	GroupEvidence,
	GroupQCGates,
	GroupReleaseGated,
}

// Valid reports whether g is a known group.
func (g Group) Valid() bool {
	for _, known := range AllGroups {
		if g == known {
			return true
		}
	}
	return false
}

// RequiresGating reports whether tools in the group require the dual release
// gate before invocation.
func RequiresGating(g Group) bool { return g == GroupReleaseGated }

// Tool is a registered tool and its group binding.
type Tool struct {
	Name  string `json:"name"`
	Group Group  `json:"group"`
}

// Registry is the static tool catalog.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds a tool to the catalog.
func (r *Registry) Register(tool Tool) error {
	if tool.Name == "" {
		return errdefs.Validation("name", "tool name required")
	}
	if !tool.Group.Valid() {
		return errdefs.Validation("group", "unknown tool group "+string(tool.Group))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name] = tool
	return nil
}

// Lookup returns the tool for a name.
func (r *Registry) Lookup(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// GetToolGroup returns the group a tool belongs to.
func (r *Registry) GetToolGroup(name string) (Group, bool) {
	tool, ok := r.Lookup(name)
	return tool.Group, ok
}

// Invocation is the context a single tool call is judged against.
type Invocation struct {
	AgentID             string    `json:"agent_id"`
	ToolName            string    `json:"tool_name"`
	Jurisdiction        pack.Pack `json:"jurisdiction,omitempty"`
	HasGovernorApproval bool      `json:"has_governor_approval"`
	HasGuardianPass     bool      `json:"has_guardian_pass"`
	NoveltyScore        float64   `json:"novelty_score,omitempty"` // 0..1
	ExternalAction      bool      `json:"external_action"`
}

// Verdict is the policy outcome for one invocation.
type Verdict struct {
	Allowed    bool   `json:"allowed"`
	Rule       string `json:"rule"`
	Reason     string `json:"reason"`
	EscalateTo string `json:"escalate_to,omitempty"`
}
