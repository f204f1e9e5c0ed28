package autonomy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cleargate-io/cleargate/pkg/autonomy"
)

// neutral returns an input that fires no Tier-C trigger and fits Tier B.
func neutral() autonomy.Input {
	return autonomy.Input{
		NoveltyScore:         30,
		EvidenceCompleteness: 75,
	}
}

func TestEvaluate_ExternalImpactAlwaysTierC(t *testing.T) {
	in := neutral()
	in.ExternalImpact = true
	in.EvidenceCompleteness = 100
	in.HasApprovedTemplate = true
	in.NoveltyScore = 0

	got := autonomy.Evaluate(in)
	assert.Equal(t, autonomy.TierC, got.Tier)
	assert.True(t, got.RequiresHuman)
	assert.Contains(t, got.Reasoning[0], "external impact")
}

func TestEvaluate_DisputeSignal(t *testing.T) {
	in := neutral()
	in.DisputeOrRegulatorySignal = true
	assert.True(t, autonomy.RequiresHuman(in))
}

func TestEvaluate_HighNovelty(t *testing.T) {
	in := neutral()
	in.NoveltyScore = 80
	got := autonomy.Evaluate(in)
	assert.Equal(t, autonomy.TierC, got.Tier)
}

func TestEvaluate_FirstTimeExecution(t *testing.T) {
	in := neutral()
	in.FirstTimeExecution = true
	assert.True(t, autonomy.RequiresHuman(in))
}

func TestEvaluate_LowEvidence(t *testing.T) {
	in := neutral()
	in.EvidenceCompleteness = 40
	got := autonomy.Evaluate(in)
	assert.Equal(t, autonomy.TierC, got.Tier)
}

func TestEvaluate_TierA(t *testing.T) {
	in := autonomy.Input{
		NoveltyScore:         10,
		EvidenceCompleteness: 90,
		HasApprovedTemplate:  true,
	}
	got := autonomy.Evaluate(in)
	assert.Equal(t, autonomy.TierA, got.Tier)
	assert.False(t, got.RequiresHuman)
	assert.True(t, autonomy.IsFullyAutonomous(in))
}

func TestEvaluate_TierB(t *testing.T) {
	in := autonomy.Input{
		NoveltyScore:         40,
		EvidenceCompleteness: 70,
	}
	got := autonomy.Evaluate(in)
	assert.Equal(t, autonomy.TierB, got.Tier)
	assert.False(t, got.RequiresHuman)
	assert.False(t, autonomy.IsFullyAutonomous(in))
}

func TestEvaluate_MultipleTriggersAllNamed(t *testing.T) {
	in := autonomy.Input{
		ExternalImpact:       true,
		FirstTimeExecution:   true,
		NoveltyScore:         90,
		EvidenceCompleteness: 10,
	}
	got := autonomy.Evaluate(in)
	assert.Equal(t, autonomy.TierC, got.Tier)
	assert.Len(t, got.Reasoning, 4)
}

// Medium novelty, medium evidence, no template: fits neither Tier A nor
// Tier B cleanly. The engine escalates conservatively.
func TestEvaluate_UnmatchedScenarioDefaultsToTierC(t *testing.T) {
	in := autonomy.Input{
		NoveltyScore:         55,
		EvidenceCompleteness: 60,
	}
	got := autonomy.Evaluate(in)
	assert.Equal(t, autonomy.TierC, got.Tier)
	assert.True(t, got.RequiresHuman)
	assert.Contains(t, got.Reasoning[0], "unmatched scenario")
}

func TestEvaluate_TierABoundaries(t *testing.T) {
	tests := []struct {
		name     string
		novelty  int
		evidence int
		template bool
		want     autonomy.Tier
	}{
		{"at both thresholds", 20, 85, true, autonomy.TierA},
		{"novelty just above", 21, 85, true, autonomy.TierB},
		{"evidence just below", 20, 84, true, autonomy.TierB},
		{"no template", 20, 85, false, autonomy.TierB},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := autonomy.Evaluate(autonomy.Input{
				NoveltyScore:         tt.novelty,
				EvidenceCompleteness: tt.evidence,
				HasApprovedTemplate:  tt.template,
			})
			assert.Equal(t, tt.want, got.Tier)
		})
	}
}
