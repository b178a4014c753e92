package reportapi

import (
	"crypto/subtle"
	"net/http"
)

// BasicAuth guards the reporting endpoints with a single credential pair.
type BasicAuth struct {
	User     string
	Password string
}

func NewBasicAuth(user, password string) *BasicAuth {
	if user == "" || password == "" {
		return nil
	}
	return &BasicAuth{User: user, Password: password}
}

// Verify checks the request credentials in constant time. A nil auth admits
// everything, for deployments that front the API with their own gateway.
func (a *BasicAuth) Verify(r *http.Request) bool {
	if a == nil {
		return true
	}
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	return secureEqual(user, a.User) && secureEqual(pass, a.Password)
}

func secureEqual(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
