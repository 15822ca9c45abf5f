// Package audit logs a one-line breadcrumb for every create/refresh/
// revoke/delete, mirroring the original's log_event calls throughout
// oauth_credmgr.py.
package audit

import "log"

// Event logs one audit breadcrumb. project_id, user_id, and user_email
// may be empty when the caller does not yet know them (e.g. a failed
// refresh before enrichment completed).
func Event(action, tokenHash, projectID, userID, userEmail string) {
	log.Printf("audit: action=%s token_hash=%s project_id=%s user_id=%s user_email=%s",
		action, tokenHash, projectID, userID, userEmail)
}
