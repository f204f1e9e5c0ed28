// Package autonomy classifies a workflow context into an autonomy tier.
//
// Tier A acts fully autonomously, Tier B autonomously with a later check,
// Tier C requires a human decision before proceeding. Evaluation order is
// significant: absolute Tier-C triggers are checked first and any single
// trigger is sufficient. A context that fits no band falls back to Tier C,
// since the engine never infers permission from silence.
package autonomy

import (
	"fmt"

	"github.com/cleargate-io/cleargate/pkg/pack"
)

// Tier is an autonomy tier.
type Tier string

const (
	TierA Tier = "A"
	TierB Tier = "B"
	TierC Tier = "C"
)

// Threshold constants for the classification bands.
const (
	noveltyEscalation = 70 // above this, always Tier C
	noveltyLow        = 20 // at or below, eligible for Tier A
	noveltyModerate   = 50 // at or below, eligible for Tier B
	evidenceFloor     = 50 // below this, always Tier C
	evidenceExcellent = 85 // at or above, eligible for Tier A
	evidenceAdequate  = 60 // at or above, eligible for Tier B
)

// Input is the workflow context a decision is derived from.
type Input struct {
	Jurisdiction              pack.Pack `json:"jurisdiction"`
	Service                   string    `json:"service"`
	Workflow                  string    `json:"workflow"`
	ExternalImpact            bool      `json:"external_impact"`
	DisputeOrRegulatorySignal bool      `json:"dispute_or_regulatory_signal"`
	FirstTimeExecution        bool      `json:"first_time_execution"`
	HasApprovedTemplate       bool      `json:"has_approved_template"`
	NoveltyScore              int       `json:"novelty_score"`        // 0-100
	EvidenceCompleteness      int       `json:"evidence_completeness"` // 0-100
}

// Decision is derived per decision point and never stored independently.
type Decision struct {
	Tier          Tier     `json:"tier"`
	RequiresHuman bool     `json:"requires_human"`
	Reasoning     []string `json:"reasoning"`
}

// Evaluate maps a workflow context to an autonomy decision. The first
// matching band wins; reasoning names every Tier-C trigger that fired.
func Evaluate(in Input) Decision {
	if reasons := tierCTriggers(in); len(reasons) > 0 {
		return Decision{Tier: TierC, RequiresHuman: true, Reasoning: reasons}
	}

	if in.NoveltyScore <= noveltyLow &&
		in.EvidenceCompleteness >= evidenceExcellent &&
		in.HasApprovedTemplate {
		return Decision{
			Tier:          TierA,
			RequiresHuman: false,
			Reasoning:     []string{"low novelty, excellent evidence, approved template, internal impact"},
		}
	}

	if in.NoveltyScore <= noveltyModerate && in.EvidenceCompleteness >= evidenceAdequate {
		return Decision{
			Tier:          TierB,
			RequiresHuman: false,
			Reasoning:     []string{"standard workflow with adequate evidence and moderate novelty"},
		}
	}

	// Unmatched scenario: neither band fits cleanly. Conservative default is
	// escalation to a human rather than silently granting autonomy.
	return Decision{
		Tier:          TierC,
		RequiresHuman: true,
		Reasoning: []string{fmt.Sprintf(
			"unmatched scenario (novelty=%d evidence=%d template=%t): conservative escalation",
			in.NoveltyScore, in.EvidenceCompleteness, in.HasApprovedTemplate)},
	}
}

func tierCTriggers(in Input) []string {
	var reasons []string
	if in.ExternalImpact {
		reasons = append(reasons, "external impact requires human sign-off")
	}
	if in.DisputeOrRegulatorySignal {
		reasons = append(reasons, "dispute or regulatory signal present")
	}
	if in.NoveltyScore > noveltyEscalation {
		reasons = append(reasons, fmt.Sprintf("novelty score %d exceeds %d", in.NoveltyScore, noveltyEscalation))
	}
	if in.FirstTimeExecution {
		reasons = append(reasons, "first-time execution of this workflow")
	}
	if in.EvidenceCompleteness < evidenceFloor {
		reasons = append(reasons, fmt.Sprintf("evidence completeness %d below %d", in.EvidenceCompleteness, evidenceFloor))
	}
	return reasons
}

// IsFullyAutonomous reports whether the context is Tier A.
func IsFullyAutonomous(in Input) bool {
	return Evaluate(in).Tier == TierA
}

// RequiresHuman reports whether a human must decide before proceeding.
func RequiresHuman(in Input) bool {
	return Evaluate(in).RequiresHuman
}
