// Package identity resolves acting ids to governance roles and to the
// statically configured tool-group allowlists the tool policy engine
// consumes. The Guardian (QC authority) and Governor (release authority) are
// single designated roles; every role check happens per call, never cached.
package identity

import (
	"sync"

	"github.com/cleargate-io/cleargate/pkg/errdefs"
)

// Role is a governance role.
type Role string

const (
	RoleGovernor     Role = "governor"
	RoleGuardian     Role = "guardian"
	RoleOrchestrator Role = "orchestrator"
	RoleOperator     Role = "operator"
	RoleEngineAgent  Role = "engine_agent"
)

// Actor is a registered acting principal: a human role holder or an engine
// agent.
type Actor struct {
	ID         string   `json:"id"`
	Name       string   `json:"name,omitempty"`
	Role       Role     `json:"role"`
	ToolGroups []string `json:"tool_groups,omitempty"`
}

// Directory is the identity source consumed by the governance components.
type Directory interface {
	// Resolve returns the actor for an id, or NotFoundError.
	Resolve(actorID string) (Actor, error)
	// HasRole reports whether the id resolves to the given role. Unknown
	// ids report false rather than erroring, so role gates can run before
	// existence checks.
	HasRole(actorID string, role Role) bool
	// ToolGroups returns the statically configured allowlist for an agent.
	ToolGroups(actorID string) []string
}

// StaticDirectory is an in-memory Directory populated at startup from
// configuration.
type StaticDirectory struct {
	mu     sync.RWMutex
	actors map[string]Actor
}

// NewStaticDirectory creates an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{actors: make(map[string]Actor)}
}

// Register adds or replaces an actor.
func (d *StaticDirectory) Register(actor Actor) error {
	if actor.ID == "" {
		return errdefs.Validation("id", "actor id required")
	}
	if actor.Role == "" {
		return errdefs.Validation("role", "actor role required")
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.actors[actor.ID] = actor
	return nil
}

func (d *StaticDirectory) Resolve(actorID string) (Actor, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	actor, ok := d.actors[actorID]
	if !ok {
		return Actor{}, errdefs.NotFound("actor", actorID)
	}
	return actor, nil
}

func (d *StaticDirectory) HasRole(actorID string, role Role) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	actor, ok := d.actors[actorID]
	return ok && actor.Role == role
}

func (d *StaticDirectory) ToolGroups(actorID string) []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	actor, ok := d.actors[actorID]
	if !ok {
		return nil
	}
	groups := make([]string, len(actor.ToolGroups))
	copy(groups, actor.ToolGroups)
	return groups
}
