package httpapi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

type authError struct {
	status  int
	code    string
	message string
}

func (e *authError) Error() string {
	return e.message
}

// authorizeBearer checks authHeader against the configured token. An empty
// configured token disables the check.
func authorizeBearer(authHeader, token string) *authError {
	if token == "" {
		return nil
	}
	presented, err := parseBearer(authHeader)
	if err != nil {
		return err
	}
	if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
		return &authError{
			status:  http.StatusUnauthorized,
			code:    "unauthorized",
			message: "invalid token",
		}
	}
	return nil
}

func parseBearer(authHeader string) (string, *authError) {
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return "", &authError{
			status:  http.StatusUnauthorized,
			code:    "unauthorized",
			message: "missing or invalid bearer token",
		}
	}
	token := strings.TrimSpace(strings.TrimPrefix(authHeader, "Bearer "))
	if token == "" {
		return "", &authError{
			status:  http.StatusUnauthorized,
			code:    "unauthorized",
			message: "missing or invalid bearer token",
		}
	}
	return token, nil
}

func (s *Server) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		// Browsers cannot set headers on websocket upgrades.
		if header == "" && r.URL.Query().Get("access_token") != "" {
			header = "Bearer " + r.URL.Query().Get("access_token")
		}
		if err := authorizeBearer(header, s.cfg.Token); err != nil {
			writeError(w, err.status, err.code, err.message, getCorrelationID(r))
			return
		}
		next.ServeHTTP(w, r)
	})
}
