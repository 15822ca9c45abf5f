package directory

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/go-ldap/ldap/v3"
)

// projectMembershipPattern matches CoManage's isMemberOf group DN shape,
// e.g. "CO:COU:some-project:members:active" (ldap.py).
var projectMembershipPattern = regexp.MustCompile(`CO:COU:(.+?):members:active`)

// LDAPAdapter is the legacy fallback directory path, used only when the
// REST directory is disabled by configuration (§4.C "Fallback"). The
// underlying ldap connection is not safe to share across goroutines, so
// every call is serialized behind a single process-wide mutex spanning
// bind/search/unbind (§5).
type LDAPAdapter struct {
	host       string
	user       string
	password   string
	searchBase string

	ignoreList []string
	rolesList  []string

	mu sync.Mutex
}

// NewLDAPAdapter builds the fallback adapter from configuration.
func NewLDAPAdapter(host, user, password, searchBase string, ignoreList, rolesList []string) *LDAPAdapter {
	return &LDAPAdapter{
		host:       host,
		user:       user,
		password:   password,
		searchBase: searchBase,
		ignoreList: ignoreList,
		rolesList:  rolesList,
	}
}

// NewLDAPFactory wraps a single process-wide LDAPAdapter in a
// directory.Factory, ignoring cookie/token: the fallback authenticates
// with its own bind credentials, not the caller's session (§4.C
// "Fallback").
func NewLDAPFactory(adapter *LDAPAdapter) Factory {
	return func(string, string) (Adapter, error) {
		return adapter, nil
	}
}

// WhoAmI is not available over LDAP; the fallback path never returns a
// uuid (§4.C "The LDAP path returns (roles, tags) only; uuid is absent").
func (l *LDAPAdapter) WhoAmI() (string, string, error) {
	return "", "", newErr("ldap: whoami is not supported by the LDAP fallback")
}

// Roles is not queried independently over LDAP; roles are derived from
// the same isMemberOf search as project membership, see EnrichForProject.
func (l *LDAPAdapter) Roles(string) ([]Role, error) {
	return nil, newErr("ldap: standalone role lookup is not supported by the LDAP fallback")
}

// EnrichForProject resolves project membership and roles via an
// isMemberOf LDAP search keyed by eppn (preferred) or email, filtered by
// the ignore list and roles list, and RAISES (does not silently filter)
// when the caller is not found to be a member of projectID. This
// resolves the original's open question on LDAP membership enforcement
// (§9, §4.C): ldap.py's get_project_and_roles always raises when
// belongs_to_project is false.
func (l *LDAPAdapter) EnrichForProject(eppn, email, projectID string) (string, string, []Role, []Project, error) {
	var filter string
	if eppn != "" {
		filter = fmt.Sprintf("(eduPersonPrincipalName=%s)", ldap.EscapeFilter(eppn))
	} else {
		filter = fmt.Sprintf("(mail=%s)", ldap.EscapeFilter(email))
	}

	attributes, err := l.search(filter)
	if err != nil {
		return "", "", nil, nil, err
	}

	if attributes == nil {
		// No profile found: no roles, no project tags, membership fails.
		return "", "", nil, nil, newErr("user is not a member of project: %s", projectID)
	}

	var roles []Role
	belongsToProject := false
	for _, a := range attributes {
		m := projectMembershipPattern.FindStringSubmatch(a)
		if m == nil {
			continue
		}
		found := m[1]
		if containsStr(l.ignoreList, found) {
			continue
		}
		if containsStr(l.rolesList, found) || strings.Contains(found, "-po") || strings.Contains(found, "-pm") {
			roles = append(roles, Role{Name: found})
		}
		if strings.Contains(found, projectID) {
			belongsToProject = true
		}
	}

	if !belongsToProject {
		return "", "", nil, nil, newErr("user is not a member of project: %s", projectID)
	}

	// CoManage has no project tags; project_id is echoed back as the sole
	// project entry with an empty tag set (ldap.py never returns a uuid).
	projects := []Project{{UUID: projectID, Tags: map[string]any{}}}
	return email, "", roles, projects, nil
}

// search binds, searches for isMemberOf values marked "active", and
// unbinds, all under the adapter-wide mutex.
func (l *LDAPAdapter) search(filter string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	conn, err := ldap.DialURL(fmt.Sprintf("ldaps://%s", l.host))
	if err != nil {
		return nil, newErr("ldap: dial failed: %v", err)
	}
	defer conn.Close()

	if err := conn.Bind(l.user, l.password); err != nil {
		return nil, newErr("ldap: bind failed: %v", err)
	}

	req := ldap.NewSearchRequest(
		l.searchBase,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		filter,
		[]string{"isMemberOf"},
		nil,
	)

	result, err := conn.Search(req)
	if err != nil {
		return nil, newErr("ldap: search failed: %v", err)
	}
	if len(result.Entries) == 0 {
		return nil, nil
	}

	raw := result.Entries[0].GetAttributeValues("isMemberOf")
	var active []string
	for _, v := range raw {
		if strings.Contains(v, "active") {
			active = append(active, v)
		}
	}
	return active, nil
}

func containsStr(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
