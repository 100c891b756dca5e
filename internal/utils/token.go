package utils

import (
	"net/http"
	"strings"
)

const tokenSubprotocolPrefix = "token."

// TokenFromRequest finds a bearer token in the Authorization header, the
// token query parameter or a "token.<jwt>" websocket subprotocol. When the
// subprotocol carried it, that protocol is returned so the upgrade can echo it.
func TokenFromRequest(r *http.Request) (token string, subprotocol string) {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if t := strings.TrimPrefix(auth, "Bearer "); t != auth && t != "" {
			return strings.TrimSpace(t), ""
		}
	}

	if t := r.URL.Query().Get("token"); t != "" {
		return t, ""
	}

	for _, header := range r.Header.Values("Sec-WebSocket-Protocol") {
		for _, proto := range strings.Split(header, ",") {
			proto = strings.TrimSpace(proto)
			if strings.HasPrefix(proto, tokenSubprotocolPrefix) && len(proto) > len(tokenSubprotocolPrefix) {
				return strings.TrimPrefix(proto, tokenSubprotocolPrefix), proto
			}
		}
	}

	return "", ""
}
