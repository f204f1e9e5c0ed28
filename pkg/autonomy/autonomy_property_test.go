//go:build property
// +build property

// Property-based tests for the classifier's invariants.
package autonomy_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/cleargate-io/cleargate/pkg/autonomy"
)

func genInput() gopter.Gen {
	return gopter.CombineGens(
		gen.Bool(), gen.Bool(), gen.Bool(), gen.Bool(),
		gen.IntRange(0, 100), gen.IntRange(0, 100),
	).Map(func(vs []interface{}) autonomy.Input {
		return autonomy.Input{
			ExternalImpact:            vs[0].(bool),
			DisputeOrRegulatorySignal: vs[1].(bool),
			FirstTimeExecution:        vs[2].(bool),
			HasApprovedTemplate:       vs[3].(bool),
			NoveltyScore:              vs[4].(int),
			EvidenceCompleteness:      vs[5].(int),
		}
	})
}

// Any external-impact input must land in Tier C with requires_human set,
// regardless of every other field.
func TestProperty_ExternalImpactForcesTierC(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("external impact forces Tier C", prop.ForAll(
		func(in autonomy.Input) bool {
			in.ExternalImpact = true
			d := autonomy.Evaluate(in)
			return d.Tier == autonomy.TierC && d.RequiresHuman
		},
		genInput(),
	))

	properties.TestingRun(t)
}

// Tier A is only ever reached with requires_human unset, and Tier C only
// with it set. Tier B never requires a human.
func TestProperty_TierAndHumanFlagAgree(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("requires_human matches tier", prop.ForAll(
		func(in autonomy.Input) bool {
			d := autonomy.Evaluate(in)
			if d.Tier == autonomy.TierC {
				return d.RequiresHuman
			}
			return !d.RequiresHuman
		},
		genInput(),
	))

	properties.TestingRun(t)
}

// Evaluation is a pure function of its input.
func TestProperty_Deterministic(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("same input, same decision", prop.ForAll(
		func(in autonomy.Input) bool {
			a := autonomy.Evaluate(in)
			b := autonomy.Evaluate(in)
			if a.Tier != b.Tier || a.RequiresHuman != b.RequiresHuman {
				return false
			}
			if len(a.Reasoning) != len(b.Reasoning) {
				return false
			}
			for i := range a.Reasoning {
				if a.Reasoning[i] != b.Reasoning[i] {
					return false
				}
			}
			return true
		},
		genInput(),
	))

	properties.TestingRun(t)
}
