package client

import (
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// tokenExpiry decodes the exp claim from a bearer token without verifying
// the signature. Verification is the backend's job; the client only needs
// the expiry to schedule refreshes.
func tokenExpiry(token string) (time.Time, bool) {
	var claims jwt.RegisteredClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// expiringSoon reports whether the token expires within lead of now.
// A token that cannot be decoded counts as expiring: refreshing an odd
// token is safer than trusting it.
func expiringSoon(token string, lead time.Duration, now time.Time) bool {
	exp, ok := tokenExpiry(token)
	if !ok {
		return true
	}
	return !now.Add(lead).Before(exp)
}

// LoginRedirectPath builds the login entry point carrying the path to
// return to after re-authentication. It returns "" when current is
// already the login page or the root, where no redirect is wanted.
func LoginRedirectPath(current string) string {
	if current == "/login" || current == "/" || current == "" {
		return ""
	}
	return "/login?redirect=" + url.QueryEscape(current)
}
