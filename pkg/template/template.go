// Package template implements the versioned artifact lifecycle for
// generation templates: drafting, risk-tiered publish gating, jurisdiction
// pack isolation, instantiation with frozen version snapshots, and the
// template QC battery.
package template

import (
	"time"

	"github.com/cleargate-io/cleargate/pkg/evidence"
	"github.com/cleargate-io/cleargate/pkg/pack"
)

// Status is a template lifecycle status.
type Status string

const (
	StatusDraft     Status = "DRAFT"
	StatusPublished Status = "PUBLISHED"
	StatusRetired   Status = "RETIRED"
)

// Risk classes gate the approvals required before publication.
type Risk string

const (
	RiskLow    Risk = "LOW"
	RiskMedium Risk = "MEDIUM"
	RiskHigh   Risk = "HIGH"
)

// ApprovalKind names a publish approval.
type ApprovalKind string

const (
	ApprovalGuardianPass         ApprovalKind = "GUARDIAN_PASS"
	ApprovalGovernorPolicyReview ApprovalKind = "GOVERNOR_POLICY_REVIEW"
)

// Approval is a recorded publish approval.
type Approval struct {
	Kind       ApprovalKind `json:"kind"`
	ApprovedBy string       `json:"approved_by"`
	At         time.Time    `json:"at"`
}

// Placeholder is a named slot in the generated artifact.
type Placeholder struct {
	ID       string `json:"id"`
	Label    string `json:"label"`
	Required bool   `json:"required"`
}

// ChangeEntry is one append-only change-log record.
type ChangeEntry struct {
	Version string    `json:"version"`
	Author  string    `json:"author"`
	Notes   []string  `json:"notes"`
	At      time.Time `json:"at"`
}

// Template is a versioned generation template bound to a jurisdiction pack.
type Template struct {
	ID             string               `json:"id"` // tmpl_*
	ServiceID      string               `json:"service_id"`
	OwnerAgent     string               `json:"owner_agent"`
	Name           string               `json:"name"`
	Purpose        string               `json:"purpose"`
	Pack           pack.Pack            `json:"jurisdiction_pack"`
	Version        string               `json:"version"` // semver
	Status         Status               `json:"status"`
	Risk           Risk                 `json:"risk_class"`
	RequiredInputs []string             `json:"required_inputs,omitempty"`
	Evidence       evidence.Requirement `json:"evidence_requirements"`
	Placeholders   []Placeholder        `json:"placeholders,omitempty"`
	Instructions   []string             `json:"generation_instructions,omitempty"`
	ChangeLog      []ChangeEntry        `json:"change_log,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// Deviation is an append-only note recording where an instance departed from
// its template.
type Deviation struct {
	FieldID   string    `json:"field_id"`
	Deviation string    `json:"deviation"`
	Reason    string    `json:"reason"`
	LoggedBy  string    `json:"logged_by"`
	At        time.Time `json:"at"`
}

// Instance is a template instantiated for a specific case/task, carrying a
// frozen snapshot of the template version it was created from.
type Instance struct {
	ID              string      `json:"id"` // inst_*
	TemplateID      string      `json:"template_id"`
	TemplateVersion string      `json:"template_version"`
	Pack            pack.Pack   `json:"jurisdiction_pack"`
	Status          Status      `json:"status"`
	CaseID          string      `json:"case_id"`
	TaskID          string      `json:"task_id"`
	DeviationNotes  []Deviation `json:"deviation_notes,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
}

// CheckPackEnforcement reports whether the template may be used under
// targetPack; a mismatch yields a PackMismatchError.
func CheckPackEnforcement(tmpl Template, targetPack pack.Pack) error {
	return pack.Enforce(tmpl.Pack, targetPack)
}
