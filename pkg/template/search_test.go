package template_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate-io/cleargate/pkg/pack"
	"github.com/cleargate-io/cleargate/pkg/template"
)

func TestSearch_BestMatchIsHighestVersion(t *testing.T) {
	all := []template.Template{
		{ID: "tmpl_a", ServiceID: "svc-vat", Pack: pack.MTTax, Version: "1.0.0"},
		{ID: "tmpl_b", ServiceID: "svc-vat", Pack: pack.MTTax, Version: "1.2.0"},
		{ID: "tmpl_c", ServiceID: "svc-vat", Pack: pack.MTTax, Version: "1.0.3"},
		{ID: "tmpl_d", ServiceID: "svc-vat", Pack: pack.RWTax, Version: "9.0.0"}, // wrong pack
		{ID: "tmpl_e", ServiceID: "svc-cit", Pack: pack.MTTax, Version: "9.0.0"}, // wrong service
	}

	result := template.Search(all, template.Query{ServiceID: "svc-vat", Pack: pack.MTTax})
	require.Len(t, result.Matches, 3)
	require.NotNil(t, result.BestMatch)
	assert.Equal(t, "tmpl_b", result.BestMatch.ID)
	assert.Empty(t, result.Trigger)
}

func TestSearch_InvalidVersionSortsLowest(t *testing.T) {
	all := []template.Template{
		{ID: "tmpl_bad", ServiceID: "svc-vat", Pack: pack.MTTax, Version: "not-semver"},
		{ID: "tmpl_ok", ServiceID: "svc-vat", Pack: pack.MTTax, Version: "0.1.0"},
	}

	result := template.Search(all, template.Query{ServiceID: "svc-vat", Pack: pack.MTTax})
	require.NotNil(t, result.BestMatch)
	assert.Equal(t, "tmpl_ok", result.BestMatch.ID)
}

func TestSearch_NoMatchRoutesToOrchestrator(t *testing.T) {
	all := []template.Template{
		{ID: "tmpl_a", ServiceID: "svc-vat", Pack: pack.MTTax, Version: "1.0.0"},
	}

	result := template.Search(all, template.Query{ServiceID: "svc-payroll", Pack: pack.MTTax})
	assert.Empty(t, result.Matches)
	assert.Nil(t, result.BestMatch)
	assert.Equal(t, template.TriggerNoTemplateFound, result.Trigger)
	assert.Equal(t, "orchestrator", result.RouteTo)
}
