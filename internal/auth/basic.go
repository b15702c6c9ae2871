package auth

import (
	"encoding/base64"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// BasicStrategy implements HTTP Basic auth against a configured
// username → bcrypt-hash map, adopted from the wider reference pack
// (golang.org/x/crypto, used there for its SSH transport; here for its
// bcrypt subpackage, the standard ecosystem choice for password hashing).
// bcrypt.CompareHashAndPassword is already constant-time with respect to
// the candidate password, so no extra care is needed beyond calling it.
type BasicStrategy struct {
	// Users maps username to bcrypt hash.
	Users map[string]string
}

// NewBasicStrategy constructs a BasicStrategy from a username → bcrypt
// hash map.
func NewBasicStrategy(users map[string]string) *BasicStrategy {
	return &BasicStrategy{Users: users}
}

func (b *BasicStrategy) Authenticate(r *http.Request) (bool, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return false, nil
	}
	const prefix = "Basic "
	if !strings.HasPrefix(header, prefix) {
		return false, nil
	}
	decoded, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false, nil
	}
	user, pass, ok := strings.Cut(string(decoded), ":")
	if !ok {
		return false, nil
	}
	hash, ok := b.Users[user]
	if !ok {
		return false, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(pass)); err != nil {
		return false, nil
	}
	return true, nil
}
