package lifecycle

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"golang.org/x/oauth2"
)

// newRevokeRequest builds the POST to the IdP's revoke endpoint, basic
// authenticated with the OAuth2 client credentials, mirroring
// oauth_credmgr.py::revoke_token (requests_oauthlib does not expose a
// revoke call directly, so this is a plain HTTP POST as the original
// does).
func newRevokeRequest(ctx context.Context, cfg *oauth2.Config, revokeURL, refreshToken string) (*http.Request, error) {
	auth := base64.StdEncoding.EncodeToString([]byte(cfg.ClientID + ":" + cfg.ClientSecret))
	body := strings.NewReader(url.Values{
		"token":           {refreshToken},
		"token_type_hint": {"refresh_token"},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, revokeURL, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Basic "+auth)
	return req, nil
}

func doRevoke(req *http.Request) error {
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("revoke endpoint returned %d", resp.StatusCode)
	}
	return nil
}
