package toolpolicy

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/decls"
	"github.com/google/cel-go/common/types"

	"github.com/cleargate-io/cleargate/pkg/audit"
	"github.com/cleargate-io/cleargate/pkg/identity"
)

// noveltyEscalationThreshold is the normalized novelty score above which a
// call is routed to an operator instead of proceeding unattended.
const noveltyEscalationThreshold = 0.7

// Engine evaluates tool invocations. Built-in rules run in a fixed order;
// operator-loaded CEL rules run after them and may only tighten the policy.
type Engine struct {
	registry  *Registry
	directory identity.Directory
	rec       *audit.Recorder

	mu       sync.RWMutex
	env      *cel.Env
	celRules []celRule
}

type celRule struct {
	id         string
	program    cel.Program
	escalateTo string
}

// NewEngine creates a policy engine over the given tool registry and
// identity directory.
func NewEngine(registry *Registry, directory identity.Directory, rec *audit.Recorder) (*Engine, error) {
	env, err := cel.NewEnv(
		cel.VariableDecls(
			decls.NewVariable("agent_id", types.StringType),
			decls.NewVariable("tool_name", types.StringType),
			decls.NewVariable("tool_group", types.StringType),
			decls.NewVariable("jurisdiction", types.StringType),
			decls.NewVariable("has_governor_approval", types.BoolType),
			decls.NewVariable("has_guardian_pass", types.BoolType),
			decls.NewVariable("novelty_score", types.DoubleType),
			decls.NewVariable("external_action", types.BoolType),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL env: %w", err)
	}
	return &Engine{
		registry:  registry,
		directory: directory,
		rec:       rec,
		env:       env,
	}, nil
}

// LoadRule compiles and appends an operator-supplied CEL rule. The
// expression must evaluate to a bool; false denies the invocation.
func (e *Engine) LoadRule(ruleID, source, escalateTo string) error {
	ast, issues := e.env.Compile(source)
	if issues != nil && issues.Err() != nil {
		return fmt.Errorf("rule %s compilation failed: %w", ruleID, issues.Err())
	}
	program, err := e.env.Program(ast)
	if err != nil {
		return fmt.Errorf("rule %s program construction failed: %w", ruleID, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	e.celRules = append(e.celRules, celRule{id: ruleID, program: program, escalateTo: escalateTo})
	return nil
}

// CanAgentAccessTool is the static pre-check: the agent's configured
// tool-group allowlist must include the tool's group. Unknown agent or
// unknown tool denies.
func (e *Engine) CanAgentAccessTool(agentID, toolName string) bool {
	tool, ok := e.registry.Lookup(toolName)
	if !ok {
		return false
	}
	for _, group := range e.directory.ToolGroups(agentID) {
		if Group(group) == tool.Group {
			return true
		}
	}
	return false
}

// Evaluate runs the static pre-check and the ordered rule chain for one
// invocation. Every verdict is audited.
func (e *Engine) Evaluate(ctx context.Context, inv Invocation) Verdict {
	verdict := e.evaluate(inv)

	e.rec.Record(ctx, "tool_policy_evaluated", inv.AgentID, "tool_invocation", inv.ToolName,
		map[string]any{
			"allowed":     verdict.Allowed,
			"rule":        verdict.Rule,
			"reason":      verdict.Reason,
			"escalate_to": verdict.EscalateTo,
		})
	return verdict
}

func (e *Engine) evaluate(inv Invocation) Verdict {
	tool, ok := e.registry.Lookup(inv.ToolName)
	if !ok {
		return Verdict{Allowed: false, Rule: "static_access", Reason: "unknown tool " + inv.ToolName}
	}
	if !e.CanAgentAccessTool(inv.AgentID, inv.ToolName) {
		return Verdict{Allowed: false, Rule: "static_access",
			Reason: fmt.Sprintf("agent %s is not allowlisted for tool group %s", inv.AgentID, tool.Group)}
	}

	// Rule 1: no_direct_mutation. Always allows; its presence documents
	// that every mutation flows through this audited layer.

	// Rule 2: release_dual_gate. Release-gated tools need the Governor's
	// approval first and the Guardian's pass second.
	if RequiresGating(tool.Group) {
		if !inv.HasGovernorApproval {
			return Verdict{Allowed: false, Rule: "release_dual_gate",
				Reason:     "release-gated tool requires governor approval",
				EscalateTo: string(identity.RoleGovernor)}
		}
		if !inv.HasGuardianPass {
			return Verdict{Allowed: false, Rule: "release_dual_gate",
				Reason:     "release-gated tool requires guardian pass",
				EscalateTo: string(identity.RoleGuardian)}
		}
	}

	// Rule 3: jurisdiction_isolation. Pack enforcement happens upstream in
	// the pack check before an invocation reaches this engine; this layer
	// records the rule but never denies on it.

	// Rule 4: novelty_escalation.
	if inv.NoveltyScore > noveltyEscalationThreshold {
		return Verdict{Allowed: false, Rule: "novelty_escalation",
			Reason:     fmt.Sprintf("novelty score %.2f exceeds %.2f", inv.NoveltyScore, noveltyEscalationThreshold),
			EscalateTo: string(identity.RoleOperator)}
	}

	// Rule 5: external_action_hold.
	if inv.ExternalAction && !inv.HasGovernorApproval {
		return Verdict{Allowed: false, Rule: "external_action_hold",
			Reason:     "external action requires governor approval",
			EscalateTo: string(identity.RoleGovernor)}
	}

	// Operator-loaded CEL rules, in load order.
	e.mu.RLock()
	rules := e.celRules
	e.mu.RUnlock()
	if len(rules) > 0 {
		input := map[string]any{
			"agent_id":              inv.AgentID,
			"tool_name":             inv.ToolName,
			"tool_group":            string(tool.Group),
			"jurisdiction":          string(inv.Jurisdiction),
			"has_governor_approval": inv.HasGovernorApproval,
			"has_guardian_pass":     inv.HasGuardianPass,
			"novelty_score":         inv.NoveltyScore,
			"external_action":       inv.ExternalAction,
		}
		for _, rule := range rules {
			out, _, err := rule.program.Eval(input)
			if err != nil {
				// Fail closed on evaluation errors.
				return Verdict{Allowed: false, Rule: rule.id,
					Reason: fmt.Sprintf("rule evaluation error: %v", err), EscalateTo: rule.escalateTo}
			}
			if allowed, ok := out.Value().(bool); !ok || !allowed {
				return Verdict{Allowed: false, Rule: rule.id,
					Reason: "denied by operator rule " + rule.id, EscalateTo: rule.escalateTo}
			}
		}
	}

	return Verdict{Allowed: true, Rule: "chain_complete", Reason: "all policy rules passed"}
}
