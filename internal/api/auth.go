package api

import (
	"errors"
	"net/http"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// ErrEmptyToken is returned when hashing an empty admin token
var ErrEmptyToken = errors.New("admin token is empty")

// HashToken returns the bcrypt hash stored in the config for an admin token
func HashToken(token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrEmptyToken
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// requireAdmin rejects requests without a valid admin bearer token.
// Browsers cannot set headers on WebSocket upgrades, so ?token= is accepted too.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(s.adminTokenHash) == 0 {
			respondError(w, http.StatusUnauthorized, "admin token not configured")
			return
		}

		token := bearerToken(r)
		if token == "" {
			respondError(w, http.StatusUnauthorized, "missing admin token")
			return
		}
		if err := bcrypt.CompareHashAndPassword(s.adminTokenHash, []byte(token)); err != nil {
			s.log.WithField("remote", r.RemoteAddr).Warn("rejected admin token")
			respondError(w, http.StatusForbidden, "invalid admin token")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
