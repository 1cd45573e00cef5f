package companion

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/companion-chat/internal/model/companion"
)

func setupRouter() *chi.Mux {
	r := chi.NewRouter()
	New(companion.NewMemoryStore(companion.Seed())).RegisterRoutes(r)
	return r
}

func TestListCompanions(t *testing.T) {
	resp := httptest.NewRecorder()
	setupRouter().ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/companions", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	var list []companion.Companion
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &list))
	assert.Len(t, list, 5)
	assert.Contains(t, resp.Body.String(), `"custom_greeting"`)
}

func TestGetCompanion(t *testing.T) {
	tests := []struct {
		path string
		code int
	}{
		{path: "/companions/2", code: http.StatusOK},
		{path: "/companions/42", code: http.StatusNotFound},
		{path: "/companions/abc", code: http.StatusBadRequest},
	}

	r := setupRouter()
	for _, tt := range tests {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, tt.path, nil))
		assert.Equal(t, tt.code, resp.Code, tt.path)
	}
}
