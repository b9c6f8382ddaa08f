package api

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

// TokenVerifier resolves a bearer token to the user it belongs to.
type TokenVerifier interface {
	Verify(token string) (userID string, ok bool)
}

type credential struct {
	user  string
	token []byte
}

// StaticVerifier checks tokens against a fixed credential list. Every entry
// is compared on every call so timing does not reveal which token matched.
type StaticVerifier struct {
	creds []credential
}

// NewStaticVerifier builds a verifier from user to token pairs.
func NewStaticVerifier(tokens map[string]string) *StaticVerifier {
	v := &StaticVerifier{}
	for user, token := range tokens {
		if token == "" {
			continue
		}
		v.creds = append(v.creds, credential{user: user, token: []byte(token)})
	}
	return v
}

func (v *StaticVerifier) Verify(token string) (string, bool) {
	raw := []byte(token)
	user, found := "", false
	for _, c := range v.creds {
		if subtle.ConstantTimeCompare(raw, c.token) == 1 && !found {
			user, found = c.user, true
		}
	}
	return user, found
}

type principalKey struct{}

// PrincipalAuth rejects requests without a valid bearer token and stores the
// resolved user on the request context.
func PrincipalAuth(v TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(auth, prefix) {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			user, ok := v.Verify(auth[len(prefix):])
			if !ok {
				httpError(w, http.StatusUnauthorized, "authentication_error", "invalid or missing bearer token")
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, user)))
		})
	}
}

// Principal returns the authenticated user stored by PrincipalAuth, or the
// empty string outside an authenticated request.
func Principal(ctx context.Context) string {
	user, _ := ctx.Value(principalKey{}).(string)
	return user
}
