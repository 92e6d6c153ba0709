package mw

import (
	"net/http"

	"github.com/merendalabs/merenda-api/internal/version"
)

// VersionHeader adds the running API version to every response so clients
// and operators can correlate behavior with a deployed build.
func VersionHeader(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-API-Version", version.Get().Short())
		next.ServeHTTP(w, r)
	})
}
