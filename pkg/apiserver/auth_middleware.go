package apiserver

import (
	"errors"
	"net/http"

	"golang.org/x/crypto/bcrypt"
)

const apiKeyHeader = "X-API-Key"

// apiKeyMiddleware guards the /api routes. Configured keys are hashed
// once up front so the plaintext set is not kept around; each request's
// header is checked against the hashes.
func apiKeyMiddleware(keys []string) (func(http.Handler) http.Handler, error) {
	if len(keys) == 0 {
		return nil, errors.New("at least one API key must be configured")
	}

	hashes := make([][]byte, 0, len(keys))
	for _, key := range keys {
		hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.MinCost)
		if err != nil {
			return nil, err
		}
		hashes = append(hashes, hash)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get(apiKeyHeader)
			if key == "" {
				writeError(w, http.StatusUnauthorized, errors.New("missing API key, provide the X-API-Key header"))
				return
			}

			for _, hash := range hashes {
				if bcrypt.CompareHashAndPassword(hash, []byte(key)) == nil {
					next.ServeHTTP(w, r)
					return
				}
			}

			writeError(w, http.StatusForbidden, errors.New("invalid API key"))
		})
	}, nil
}
