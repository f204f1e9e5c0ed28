package template

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/cleargate-io/cleargate/pkg/errdefs"
	"github.com/cleargate-io/cleargate/pkg/evidence"
	"github.com/cleargate-io/cleargate/pkg/pack"
)

//go:embed definition.schema.json
var definitionSchema string

const draftVersion = "0.1.0"

// Definition is the authored content of a template draft, validated against
// the embedded JSON schema before a draft is created.
type Definition struct {
	Name           string               `json:"name"`
	Purpose        string               `json:"purpose"`
	Risk           Risk                 `json:"risk_class"`
	RequiredInputs []string             `json:"required_inputs,omitempty"`
	Evidence       evidence.Requirement `json:"evidence_requirements"`
	Placeholders   []Placeholder        `json:"placeholders,omitempty"`
	Instructions   []string             `json:"generation_instructions,omitempty"`
}

// Factory creates and evolves templates.
type Factory struct {
	schema *jsonschema.Schema
	clock  func() time.Time
}

// NewFactory compiles the definition schema and returns a factory.
func NewFactory() (*Factory, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("definition.schema.json", bytes.NewReader([]byte(definitionSchema))); err != nil {
		return nil, fmt.Errorf("failed to load definition schema: %w", err)
	}
	schema, err := compiler.Compile("definition.schema.json")
	if err != nil {
		return nil, fmt.Errorf("failed to compile definition schema: %w", err)
	}
	return &Factory{schema: schema, clock: time.Now}, nil
}

// WithClock overrides the clock for deterministic testing.
func (f *Factory) WithClock(clock func() time.Time) *Factory {
	f.clock = clock
	return f
}

// CreateDraft validates the definition and returns a new DRAFT template at
// version 0.1.0 bound to the given jurisdiction pack.
func (f *Factory) CreateDraft(ownerAgent, serviceID string, jurisdiction pack.Pack, def Definition) (Template, error) {
	if ownerAgent == "" {
		return Template{}, errdefs.Validation("owner_agent", "required")
	}
	if serviceID == "" {
		return Template{}, errdefs.Validation("service_id", "required")
	}
	if !jurisdiction.Valid() {
		return Template{}, errdefs.Validation("jurisdiction_pack", "unknown pack "+string(jurisdiction))
	}
	if err := f.validateDefinition(def); err != nil {
		return Template{}, err
	}

	now := f.clock().UTC()
	return Template{
		ID:             "tmpl_" + uuid.New().String(),
		ServiceID:      serviceID,
		OwnerAgent:     ownerAgent,
		Name:           def.Name,
		Purpose:        def.Purpose,
		Pack:           jurisdiction,
		Version:        draftVersion,
		Status:         StatusDraft,
		Risk:           def.Risk,
		RequiredInputs: def.RequiredInputs,
		Evidence:       def.Evidence,
		Placeholders:   def.Placeholders,
		Instructions:   def.Instructions,
		CreatedAt:      now,
	}, nil
}

func (f *Factory) validateDefinition(def Definition) error {
	raw, err := json.Marshal(def)
	if err != nil {
		return errdefs.Validation("definition", err.Error())
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return errdefs.Validation("definition", err.Error())
	}
	if err := f.schema.Validate(doc); err != nil {
		return errdefs.Validation("definition", err.Error())
	}
	return nil
}

// requiredApprovals is the risk-class-gated approval table. MEDIUM inherits
// the stricter HIGH set.
func requiredApprovals(risk Risk) []ApprovalKind {
	if risk == RiskLow {
		return []ApprovalKind{ApprovalGuardianPass}
	}
	return []ApprovalKind{ApprovalGuardianPass, ApprovalGovernorPolicyReview}
}

// CanPublish returns the first missing approval kind for the template's risk
// class, or ok when every required approval is present.
func CanPublish(tmpl Template, approvals []Approval) (missing ApprovalKind, ok bool) {
	present := make(map[ApprovalKind]bool, len(approvals))
	for _, a := range approvals {
		present[a.Kind] = true
	}
	for _, kind := range requiredApprovals(tmpl.Risk) {
		if !present[kind] {
			return kind, false
		}
	}
	return "", true
}

// Publish promotes a draft to PUBLISHED at 1.0.0, or bumps the patch version
// of an already published template, appending a change-log entry either way.
func (f *Factory) Publish(tmpl Template, approvals []Approval, author string, changeNotes []string) (Template, error) {
	if missing, ok := CanPublish(tmpl, approvals); !ok {
		return Template{}, &errdefs.PolicyViolation{Rule: "publish approvals incomplete",
			Detail: "missing " + string(missing)}
	}

	switch tmpl.Status {
	case StatusDraft:
		tmpl.Status = StatusPublished
		tmpl.Version = "1.0.0"
	case StatusPublished:
		version, err := semver.NewVersion(tmpl.Version)
		if err != nil {
			return Template{}, errdefs.Validation("version", fmt.Sprintf("stored version %q is not semver: %v", tmpl.Version, err))
		}
		bumped := version.IncPatch()
		tmpl.Version = bumped.String()
	default:
		return Template{}, &errdefs.StateError{Current: string(tmpl.Status), Detail: "only DRAFT or PUBLISHED templates can be published"}
	}

	tmpl.ChangeLog = append(tmpl.ChangeLog, ChangeEntry{
		Version: tmpl.Version,
		Author:  author,
		Notes:   changeNotes,
		At:      f.clock().UTC(),
	})
	return tmpl, nil
}

// Retire marks a published template RETIRED. Retired templates cannot be
// instantiated or republished.
func (f *Factory) Retire(tmpl Template, author, reason string) (Template, error) {
	if tmpl.Status != StatusPublished {
		return Template{}, &errdefs.StateError{Current: string(tmpl.Status), Detail: "only PUBLISHED templates can be retired"}
	}
	tmpl.Status = StatusRetired
	tmpl.ChangeLog = append(tmpl.ChangeLog, ChangeEntry{
		Version: tmpl.Version,
		Author:  author,
		Notes:   []string{"retired: " + reason},
		At:      f.clock().UTC(),
	})
	return tmpl, nil
}

// Instantiate creates a DRAFT instance for a case/task under targetPack,
// enforcing jurisdiction isolation and freezing the template version.
func (f *Factory) Instantiate(tmpl Template, caseID, taskID string, targetPack pack.Pack) (Instance, error) {
	if err := CheckPackEnforcement(tmpl, targetPack); err != nil {
		return Instance{}, err
	}
	if tmpl.Status == StatusRetired {
		return Instance{}, &errdefs.StateError{Current: string(StatusRetired), Detail: "retired templates cannot be instantiated"}
	}

	return Instance{
		ID:              "inst_" + uuid.New().String(),
		TemplateID:      tmpl.ID,
		TemplateVersion: tmpl.Version,
		Pack:            targetPack,
		Status:          StatusDraft,
		CaseID:          caseID,
		TaskID:          taskID,
		CreatedAt:       f.clock().UTC(),
	}, nil
}

// LogDeviation appends a deviation note to the instance. Prior notes are
// never mutated.
func (f *Factory) LogDeviation(inst Instance, deviation, reason, loggedBy, fieldID string) (Instance, error) {
	if deviation == "" {
		return Instance{}, errdefs.Validation("deviation", "required")
	}
	inst.DeviationNotes = append(inst.DeviationNotes, Deviation{
		FieldID:   fieldID,
		Deviation: deviation,
		Reason:    reason,
		LoggedBy:  loggedBy,
		At:        f.clock().UTC(),
	})
	return inst, nil
}
