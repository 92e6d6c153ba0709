package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVersionHeader(t *testing.T) {
	statuses := []int{
		http.StatusOK,
		http.StatusCreated,
		http.StatusNotFound,
		http.StatusInternalServerError,
	}
	for _, status := range statuses {
		handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		})

		rec := httptest.NewRecorder()
		VersionHeader(handler).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

		if rec.Header().Get("X-API-Version") == "" {
			t.Errorf("status %d: expected X-API-Version header to be set", status)
		}
	}
}
