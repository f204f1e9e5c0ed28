package pack_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate-io/cleargate/pkg/errdefs"
	"github.com/cleargate-io/cleargate/pkg/pack"
)

func TestCompatible(t *testing.T) {
	tests := []struct {
		item, target pack.Pack
		want         bool
	}{
		{pack.MTTax, pack.MTTax, true},
		{pack.Global, pack.MTTax, true},
		{pack.Global, pack.RWNotary, true},
		{pack.MTTax, pack.RWTax, false},
		{pack.MTCSP, pack.MTTax, false},
		{pack.RWTax, pack.Global, false}, // GLOBAL target only accepts GLOBAL items
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, pack.Compatible(tt.item, tt.target), "%s under %s", tt.item, tt.target)
	}
}

func TestEnforce_Mismatch(t *testing.T) {
	err := pack.Enforce(pack.MTTax, pack.RWTax)
	require.Error(t, err)
	assert.True(t, errdefs.IsPackMismatch(err))
	assert.Contains(t, err.Error(), "MT_TAX")
	assert.Contains(t, err.Error(), "RW_TAX")
}

func TestEnforce_GlobalAlwaysAllowed(t *testing.T) {
	for _, target := range pack.All {
		assert.NoError(t, pack.Enforce(pack.Global, target))
	}
}

func TestParse(t *testing.T) {
	p, err := pack.Parse("MT_CSP")
	require.NoError(t, err)
	assert.Equal(t, pack.MTCSP, p)

	_, err = pack.Parse("XX_UNKNOWN")
	require.Error(t, err)
	var ve *errdefs.ValidationError
	assert.ErrorAs(t, err, &ve)
}
