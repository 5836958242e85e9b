// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package auth

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// Viewer decides the privacy level of dashboard reads. A valid admin session
// or a matching dashboard token unlocks the full view; with no dashboard
// token configured the instance is open and every viewer gets the full view.
type Viewer struct {
	authority      *Authority
	dashboardToken string
}

// NewViewer creates a Viewer backed by the given session authority.
func NewViewer(authority *Authority, dashboardToken string) *Viewer {
	return &Viewer{authority: authority, dashboardToken: dashboardToken}
}

// TokenRequired reports whether a dashboard token is configured.
func (v *Viewer) TokenRequired() bool { return v.dashboardToken != "" }

// IsAdmin reports whether the request carries a valid admin session cookie
// and returns the admin username.
func (v *Viewer) IsAdmin(r *http.Request) (string, bool) {
	c, err := r.Cookie(SessionCookie)
	if err != nil || c.Value == "" {
		return "", false
	}
	user, err := v.authority.Verify(c.Value)
	if err != nil {
		return "", false
	}
	return user, true
}

// FullView reports whether the request is entitled to unmasked data.
func (v *Viewer) FullView(r *http.Request) bool {
	if _, ok := v.IsAdmin(r); ok {
		return true
	}
	if v.dashboardToken == "" {
		return true
	}
	provided := DashboardToken(r)
	return subtle.ConstantTimeCompare([]byte(provided), []byte(v.dashboardToken)) == 1
}

// DashboardToken extracts the viewer token from a request. The bearer header
// wins over the custom header, which wins over the query parameter; the
// query form exists for websocket clients that cannot set headers.
func DashboardToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	if x := strings.TrimSpace(r.Header.Get("X-Dashboard-Token")); x != "" {
		return x
	}
	return strings.TrimSpace(r.URL.Query().Get("token"))
}
