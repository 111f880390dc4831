package ratelimit

import (
	"strings"

	"github.com/jmerrifield20/kiosktrust/internal/envelope"
)

// KeyFor derives the identity key for a request. A bearer credential is
// keyed by the hash of the whole token, so tokens sharing a prefix never
// share a window. Anonymous requests are keyed by remote address.
func KeyFor(authorization, remoteAddr string) string {
	if scheme, token, ok := strings.Cut(authorization, " "); ok && strings.EqualFold(scheme, "Bearer") {
		if token = strings.TrimSpace(token); token != "" {
			return "tok:" + envelope.Digest([]byte(token))
		}
	}
	if remoteAddr == "" {
		remoteAddr = "unknown"
	}
	return "ip:" + remoteAddr
}
