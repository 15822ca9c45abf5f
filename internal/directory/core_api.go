package directory

import (
	"fmt"
	"net/http"
	"net/url"
)

// CoreAPI implements Adapter against the external REST directory service
// exposing /whoami, /people/{uuid}, /projects (§4.C, grounded on
// original_source/fabric_cm/credmgr/external_apis/core_api.py).
type CoreAPI struct {
	baseURL      string
	cookieName   string
	cookieDomain string
	cookie       string
	token        string
	client       *http.Client
}

// NewCoreAPI constructs a CoreAPI adapter authenticated either by a proxy
// cookie (browser flows) or a bearer token (service-to-service calls).
// Exactly one of cookie/token should be non-empty.
func NewCoreAPI(baseURL, cookieName, cookieDomain, cookie, token string, client *http.Client) (*CoreAPI, error) {
	if baseURL == "" {
		return nil, newErr("core-api: base URL not configured")
	}
	if cookie == "" && token == "" {
		return nil, newErr("core-api: either cookie or token must be specified")
	}
	return &CoreAPI{
		baseURL:      baseURL,
		cookieName:   cookieName,
		cookieDomain: cookieDomain,
		cookie:       cookie,
		token:        token,
		client:       client,
	}, nil
}

// NewCoreAPIFactory builds a directory.Factory that constructs one CoreAPI
// adapter per call, scoped to the caller's cookie or bearer token (§5's
// "HTTPS sessions are per-request").
func NewCoreAPIFactory(baseURL, cookieName, cookieDomain string, client *http.Client) Factory {
	return func(cookie, token string) (Adapter, error) {
		return NewCoreAPI(baseURL, cookieName, cookieDomain, cookie, token, client)
	}
}

func (c *CoreAPI) newRequest(method, rawURL string) (*http.Request, error) {
	req, err := http.NewRequest(method, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	if c.cookie != "" {
		req.AddCookie(&http.Cookie{Name: c.cookieName, Value: c.cookie, Domain: c.cookieDomain})
	} else {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return req, nil
}

type whoamiResponse struct {
	Results []struct {
		UUID  string `json:"uuid"`
		Email string `json:"email"`
	} `json:"results"`
}

// WhoAmI queries GET /whoami.
func (c *CoreAPI) WhoAmI() (string, string, error) {
	req, err := c.newRequest(http.MethodGet, c.baseURL+"/whoami")
	if err != nil {
		return "", "", err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return "", "", newErr("core-api: whoami request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return "", "", newErr("core-api error occurred status_code: %d", resp.StatusCode)
	}
	var out whoamiResponse
	if err := decodeJSON(resp, &out); err != nil {
		return "", "", newErr("core-api: decoding whoami: %v", err)
	}
	if len(out.Results) == 0 {
		return "", "", newErr("core-api: whoami returned no results")
	}
	return out.Results[0].UUID, out.Results[0].Email, nil
}

type peopleResponse struct {
	Results []struct {
		Roles []Role `json:"roles"`
	} `json:"results"`
}

// Roles queries GET /people/{uuid}?as_self=true. Facility Operator is not
// project-specific, hence the dedicated people lookup rather than reading
// roles off a project record.
func (c *CoreAPI) Roles(uuid string) ([]Role, error) {
	req, err := c.newRequest(http.MethodGet, fmt.Sprintf("%s/people/%s?as_self=true", c.baseURL, uuid))
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, newErr("core-api: people request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, newErr("core-api error occurred status_code: %d", resp.StatusCode)
	}
	var out peopleResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, newErr("core-api: decoding people: %v", err)
	}
	if len(out.Results) == 0 {
		return nil, newErr("core-api: people lookup returned no results")
	}
	return out.Results[0].Roles, nil
}

type projectResponse struct {
	Results []Project `json:"results"`
}

type projectsPage struct {
	Size    int       `json:"size"`
	Total   int       `json:"total"`
	Results []Project `json:"results"`
}

func (c *CoreAPI) getProjectByID(projectID string) ([]Project, error) {
	req, err := c.newRequest(http.MethodGet, fmt.Sprintf("%s/projects/%s", c.baseURL, projectID))
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, newErr("core-api: project request failed: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, newErr("core-api error occurred status_code: %d", resp.StatusCode)
	}
	var out projectResponse
	if err := decodeJSON(resp, &out); err != nil {
		return nil, newErr("core-api: decoding project: %v", err)
	}
	return out.Results, nil
}

// getUserProjects paginates GET /projects, mirroring
// CoreApi.__get_user_projects's offset/limit doubling loop.
func (c *CoreAPI) getUserProjects(projectName, uuid string) ([]Project, error) {
	offset, limit := 0, 50
	var all []Project
	fetched := 0

	for {
		q := url.Values{}
		if projectName != "" {
			q.Set("search", projectName)
		}
		q.Set("offset", fmt.Sprintf("%d", offset))
		q.Set("limit", fmt.Sprintf("%d", limit))
		q.Set("person_uuid", uuid)
		q.Set("sort_by", "name")
		q.Set("order_by", "asc")

		req, err := c.newRequest(http.MethodGet, c.baseURL+"/projects?"+q.Encode())
		if err != nil {
			return nil, err
		}
		resp, err := c.client.Do(req)
		if err != nil {
			return nil, newErr("core-api: projects request failed: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			defer resp.Body.Close()
			return nil, newErr("core-api error occurred status_code: %d", resp.StatusCode)
		}
		var page projectsPage
		if err := decodeJSON(resp, &page); err != nil {
			return nil, newErr("core-api: decoding projects page: %v", err)
		}

		fetched += page.Size
		all = append(all, page.Results...)

		if fetched >= page.Total {
			break
		}
		offset = page.Size
		limit += limit
	}
	return all, nil
}

// getUserProjectsFor dispatches by-id / by-name / all, mirroring
// CoreApi.get_user_projects.
func (c *CoreAPI) getUserProjectsFor(projectIDOrName, uuid string) ([]Project, error) {
	switch {
	case projectIDOrName != "" && projectIDOrName != "all" && isUUIDLike(projectIDOrName):
		return c.getProjectByID(projectIDOrName)
	case projectIDOrName != "" && projectIDOrName != "all":
		return c.getUserProjects(projectIDOrName, uuid)
	default:
		return c.getUserProjects("", uuid)
	}
}

// EnrichForProject is the composite lookup the mint pipeline calls,
// applying the active/membership rules of §4.C. eppn/email are unused:
// the REST directory derives identity from the authenticated session.
func (c *CoreAPI) EnrichForProject(_, _, projectIDOrName string) (string, string, []Role, []Project, error) {
	uuid, email, err := c.WhoAmI()
	if err != nil {
		return "", "", nil, nil, err
	}

	raw, err := c.getUserProjectsFor(projectIDOrName, uuid)
	if err != nil {
		return "", "", nil, nil, err
	}

	all := projectIDOrName == "" || projectIDOrName == "all"

	var projects []Project
	for _, p := range raw {
		if !p.Active {
			if all {
				continue
			}
			return "", "", nil, nil, newErr("project %s is not active", p.Name)
		}

		isMember, _ := p.Memberships["is_member"].(bool)
		isCreator, _ := p.Memberships["is_creator"].(bool)
		isOwner, _ := p.Memberships["is_owner"].(bool)
		if !isMember && !isCreator && !isOwner {
			return "", "", nil, nil, newErr("user is not a member of project: %s", p.UUID)
		}

		kept := Project{Name: p.Name, UUID: p.UUID, Active: p.Active}
		if !all {
			kept.Tags = p.Tags
			kept.Memberships = p.Memberships
		}
		projects = append(projects, kept)
	}

	if len(projects) == 0 {
		return "", "", nil, nil, newErr("user is not a member of project: %s", projectIDOrName)
	}

	roles, err := c.Roles(uuid)
	if err != nil {
		return "", "", nil, nil, err
	}
	return email, uuid, roles, projects, nil
}
