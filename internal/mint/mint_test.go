package mint

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fabric-testbed/credential-broker/internal/directory"
)

func TestContainsScope(t *testing.T) {
	allowed := []string{"all", "cf", "mf"}
	assert.True(t, containsScope(allowed, "cf"))
	assert.False(t, containsScope(allowed, "bogus"))
	assert.False(t, containsScope(nil, "all"))
}

func TestFilterUUIDRolesDropsUUIDLikeNames(t *testing.T) {
	roles := []directory.Role{
		{Name: "project-leads"},
		{Name: "550e8400-e29b-41d4-a716-446655440000"},
		{Name: "facility-operators"},
	}

	filtered := filterUUIDRoles(roles)
	assert.Len(t, filtered, 2)
	assert.Equal(t, "project-leads", filtered[0].Name)
	assert.Equal(t, "facility-operators", filtered[1].Name)
}

func TestToClaimProjectsOmitsEmptyTagsAndMemberships(t *testing.T) {
	projects := []directory.Project{
		{UUID: "proj-1", Name: "Testbed Core"},
		{UUID: "proj-2", Name: "Edge", Tags: map[string]any{"color": "blue"}, Memberships: map[string]any{"is_owner": true}},
	}

	claims := toClaimProjects(projects)
	require := assert.New(t)
	require.Len(claims, 2)
	require.NotContains(claims[0], "tags")
	require.NotContains(claims[0], "memberships")
	require.Equal(map[string]any{"color": "blue"}, claims[1]["tags"])
	require.Equal(map[string]any{"is_owner": true}, claims[1]["memberships"])
}

func TestToClaimRoles(t *testing.T) {
	roles := []directory.Role{{Name: "project-leads"}}
	claims := toClaimRoles(roles)
	assert.Equal(t, []map[string]any{{"name": "project-leads"}}, claims)
}

func TestToInt64(t *testing.T) {
	assert.Equal(t, int64(42), toInt64(int64(42)))
	assert.Equal(t, int64(42), toInt64(float64(42)))
	assert.Equal(t, int64(0), toInt64("not a number"))
}

func TestHashTokenIsDeterministicAndKeyed(t *testing.T) {
	p1 := &Pipeline{Secret: "shared-secret"}
	p2 := &Pipeline{Secret: "shared-secret"}
	p3 := &Pipeline{Secret: "different-secret"}

	h1 := p1.hashToken("signed-jwt")
	h2 := p2.hashToken("signed-jwt")
	h3 := p3.hashToken("signed-jwt")

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
}
