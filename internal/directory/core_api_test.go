package directory

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCoreAPI(t *testing.T, handler http.HandlerFunc) *CoreAPI {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewCoreAPI(srv.URL, "fabric-vouch", "fabric-testbed.net", "cookie-value", "", srv.Client())
	require.NoError(t, err)
	return c
}

func TestNewCoreAPIRequiresBaseURL(t *testing.T) {
	_, err := NewCoreAPI("", "fabric-vouch", "", "cookie", "", http.DefaultClient)
	assert.Error(t, err)
}

func TestNewCoreAPIRequiresCookieOrToken(t *testing.T) {
	_, err := NewCoreAPI("https://core-api.example.org", "fabric-vouch", "", "", "", http.DefaultClient)
	assert.Error(t, err)
}

func TestNewCoreAPIFactoryBuildsPerCallerAdapter(t *testing.T) {
	factory := NewCoreAPIFactory("https://core-api.example.org", "fabric-vouch", "fabric-testbed.net", http.DefaultClient)

	a, err := factory("cookie-1", "")
	require.NoError(t, err)
	b, err := factory("cookie-2", "")
	require.NoError(t, err)

	assert.NotSame(t, a, b)
}

func TestWhoAmIUsesCookieAuth(t *testing.T) {
	var sawCookie string
	c := newCoreAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("fabric-vouch"); err == nil {
			sawCookie = ck.Value
		}
		_ = json.NewEncoder(w).Encode(whoamiResponse{Results: []struct {
			UUID  string `json:"uuid"`
			Email string `json:"email"`
		}{{UUID: "user-uuid", Email: "researcher@example.org"}}})
	})

	uuid, email, err := c.WhoAmI()
	require.NoError(t, err)
	assert.Equal(t, "user-uuid", uuid)
	assert.Equal(t, "researcher@example.org", email)
	assert.Equal(t, "cookie-value", sawCookie)
}

func TestWhoAmIPropagatesNonOKStatus(t *testing.T) {
	c := newCoreAPI(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_, _, err := c.WhoAmI()
	assert.Error(t, err)
}

func TestRolesReturnsPeopleRoles(t *testing.T) {
	c := newCoreAPI(t, func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(peopleResponse{Results: []struct {
			Roles []Role `json:"roles"`
		}{{Roles: []Role{{Name: "facility-operators"}}}}})
	})

	roles, err := c.Roles("user-uuid")
	require.NoError(t, err)
	require.Len(t, roles, 1)
	assert.Equal(t, "facility-operators", roles[0].Name)
}

func TestEnrichForProjectReturnsActiveMemberProject(t *testing.T) {
	c := newCoreAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/whoami":
			_ = json.NewEncoder(w).Encode(whoamiResponse{Results: []struct {
				UUID  string `json:"uuid"`
				Email string `json:"email"`
			}{{UUID: "user-uuid", Email: "researcher@example.org"}}})
		case r.URL.Path == "/projects/550e8400-e29b-41d4-a716-446655440000":
			_ = json.NewEncoder(w).Encode(projectResponse{Results: []Project{
				{UUID: "550e8400-e29b-41d4-a716-446655440000", Name: "Testbed Core", Active: true,
					Memberships: map[string]any{"is_member": true}},
			}})
		case r.URL.Path == "/people/user-uuid":
			_ = json.NewEncoder(w).Encode(peopleResponse{Results: []struct {
				Roles []Role `json:"roles"`
			}{{Roles: []Role{{Name: "project-leads"}}}}})
		}
	})

	email, uuid, roles, projects, err := c.EnrichForProject("eppn", "hint@example.org", "550e8400-e29b-41d4-a716-446655440000")
	require.NoError(t, err)
	assert.Equal(t, "researcher@example.org", email)
	assert.Equal(t, "user-uuid", uuid)
	require.Len(t, projects, 1)
	assert.Equal(t, "550e8400-e29b-41d4-a716-446655440000", projects[0].UUID)
	require.Len(t, roles, 1)
}

func TestEnrichForProjectRejectsNonMember(t *testing.T) {
	c := newCoreAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.URL.Path == "/whoami":
			_ = json.NewEncoder(w).Encode(whoamiResponse{Results: []struct {
				UUID  string `json:"uuid"`
				Email string `json:"email"`
			}{{UUID: "user-uuid", Email: "researcher@example.org"}}})
		case r.URL.Path == "/projects/550e8400-e29b-41d4-a716-446655440000":
			_ = json.NewEncoder(w).Encode(projectResponse{Results: []Project{
				{UUID: "550e8400-e29b-41d4-a716-446655440000", Name: "Testbed Core", Active: true, Memberships: map[string]any{}},
			}})
		}
	})

	_, _, _, _, err := c.EnrichForProject("eppn", "hint@example.org", "550e8400-e29b-41d4-a716-446655440000")
	assert.Error(t, err)
}
