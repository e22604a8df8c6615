package gateway

import (
	"net/http"

	"avax-rpc-gateway/internal/balancer"
)

const sessionCookieName = "avax_session"
const sessionHeaderName = "X-Session-Id"
const sessionMaxAgeSeconds = 600

// resolveSession reads the sticky-session carrier from the cookie or
// header per §6, minting a fresh uuid if neither is present. The second
// return value reports whether the gateway minted a new id that the
// caller must set as a cookie.
func (gw *Gateway) resolveSession(r *http.Request) (string, bool) {
	if c, err := r.Cookie(sessionCookieName); err == nil && c.Value != "" {
		return c.Value, false
	}
	if h := r.Header.Get(sessionHeaderName); h != "" {
		return h, false
	}
	return balancer.NewSessionID(), true
}

func setSessionCookie(w http.ResponseWriter, sessionID string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   sessionMaxAgeSeconds,
		SameSite: http.SameSiteStrictMode,
	})
}
