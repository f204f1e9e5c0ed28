package identity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cleargate-io/cleargate/pkg/errdefs"
	"github.com/cleargate-io/cleargate/pkg/identity"
)

func newDirectory(t *testing.T) *identity.StaticDirectory {
	t.Helper()
	dir := identity.NewStaticDirectory()
	require.NoError(t, dir.Register(identity.Actor{ID: "marco", Role: identity.RoleGovernor}))
	require.NoError(t, dir.Register(identity.Actor{ID: "diane", Role: identity.RoleGuardian}))
	require.NoError(t, dir.Register(identity.Actor{
		ID:         "agent-tax-01",
		Role:       identity.RoleEngineAgent,
		ToolGroups: []string{"case_management", "evidence"},
	}))
	return dir
}

func TestDirectory_Resolve(t *testing.T) {
	dir := newDirectory(t)

	actor, err := dir.Resolve("marco")
	require.NoError(t, err)
	assert.Equal(t, identity.RoleGovernor, actor.Role)

	_, err = dir.Resolve("nobody")
	assert.True(t, errdefs.IsNotFound(err))
}

func TestDirectory_HasRole(t *testing.T) {
	dir := newDirectory(t)

	assert.True(t, dir.HasRole("marco", identity.RoleGovernor))
	assert.False(t, dir.HasRole("diane", identity.RoleGovernor))
	assert.True(t, dir.HasRole("diane", identity.RoleGuardian))
	// Unknown ids report false, never an error.
	assert.False(t, dir.HasRole("nobody", identity.RoleGovernor))
}

func TestDirectory_ToolGroups(t *testing.T) {
	dir := newDirectory(t)

	groups := dir.ToolGroups("agent-tax-01")
	assert.Equal(t, []string{"case_management", "evidence"}, groups)

	// Returned slice is a copy.
	groups[0] = "mutated"
	assert.Equal(t, []string{"case_management", "evidence"}, dir.ToolGroups("agent-tax-01"))

	assert.Nil(t, dir.ToolGroups("nobody"))
}

func TestDirectory_RegisterValidation(t *testing.T) {
	dir := identity.NewStaticDirectory()
	assert.Error(t, dir.Register(identity.Actor{Role: identity.RoleOperator}))
	assert.Error(t, dir.Register(identity.Actor{ID: "x"}))
}

func TestTokenManager_RoundTrip(t *testing.T) {
	tm, err := identity.NewTokenManager([]byte("test-signing-key"))
	require.NoError(t, err)

	actor := identity.Actor{
		ID:         "agent-tax-01",
		Role:       identity.RoleEngineAgent,
		ToolGroups: []string{"evidence"},
	}
	token, err := tm.Issue(actor, time.Hour)
	require.NoError(t, err)

	claims, err := tm.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "agent-tax-01", claims.Subject)
	assert.Equal(t, identity.RoleEngineAgent, claims.Role)
	assert.Equal(t, []string{"evidence"}, claims.ToolGroups)
}

func TestTokenManager_RejectsTamperedToken(t *testing.T) {
	tm, err := identity.NewTokenManager([]byte("key-a"))
	require.NoError(t, err)
	other, err := identity.NewTokenManager([]byte("key-b"))
	require.NoError(t, err)

	token, err := tm.Issue(identity.Actor{ID: "marco", Role: identity.RoleGovernor}, time.Hour)
	require.NoError(t, err)

	_, err = other.Verify(token)
	assert.Error(t, err)
}

func TestTokenManager_RejectsExpired(t *testing.T) {
	tm, err := identity.NewTokenManager([]byte("test-signing-key"))
	require.NoError(t, err)

	token, err := tm.Issue(identity.Actor{ID: "marco", Role: identity.RoleGovernor}, -time.Minute)
	require.NoError(t, err)

	_, err = tm.Verify(token)
	assert.Error(t, err)
}

func TestTokenManager_RequiresKey(t *testing.T) {
	_, err := identity.NewTokenManager(nil)
	assert.Error(t, err)
}
