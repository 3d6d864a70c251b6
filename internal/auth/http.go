package auth

import (
	"net/http"
	"strings"
)

// TokenFromRequest reads the bearer token from the Authorization header,
// falling back to the "token" query parameter used by browser websockets.
func TokenFromRequest(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if t, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(t)
	}
	return r.URL.Query().Get("token")
}
