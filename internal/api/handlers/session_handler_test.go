package handlers

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botsentry/backend/internal/session"
	"github.com/botsentry/backend/internal/storage/sqlite"
)

func newSessionApp(t *testing.T) (*fiber.App, *session.Manager) {
	t.Helper()

	store, err := sqlite.NewClient(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	require.NoError(t, store.InitSchema())

	sessions := session.NewManager(store)
	handler := NewSessionHandler(sessions)

	app := fiber.New()
	app.Post("/api/v1/sessions", handler.CreateSession)
	app.Get("/api/v1/sessions", handler.ListSessions)
	app.Get("/api/v1/sessions/:id", handler.GetSession)
	app.Delete("/api/v1/sessions/:id", handler.DeleteSession)

	return app, sessions
}

func decodeBody(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()

	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &body))
	return body
}

func TestCreateSession(t *testing.T) {
	app, _ := newSessionApp(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions",
		strings.NewReader(`{"name": "sweep", "community": "golang", "parameters": {"trigger": "manual"}}`))
	req.Header.Set("Content-Type", "application/json")

	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.NotEmpty(t, body["id"])
	assert.Equal(t, "sweep", body["name"])
	assert.Equal(t, "golang", body["community"])
	assert.Equal(t, "pending", body["status"])
	assert.Nil(t, body["completed_at"])
}

func TestCreateSession_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"malformed json", `{"community": `},
		{"missing community", `{"name": "no community"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			app, _ := newSessionApp(t)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/sessions", strings.NewReader(tt.body))
			req.Header.Set("Content-Type", "application/json")

			resp, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		})
	}
}

func TestGetSession(t *testing.T) {
	app, sessions := newSessionApp(t)

	sess, err := sessions.Create("sweep", "golang", nil)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/"+sess.ID, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Equal(t, sess.ID, body["id"])
}

func TestGetSession_NotFound(t *testing.T) {
	app, _ := newSessionApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/sessions/unknown", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListSessions(t *testing.T) {
	app, sessions := newSessionApp(t)

	_, err := sessions.Create("one", "golang", nil)
	require.NoError(t, err)
	_, err = sessions.Create("two", "programming", nil)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/sessions", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body := decodeBody(t, resp)
	assert.Len(t, body["sessions"], 2)
}

func TestDeleteSession(t *testing.T) {
	app, sessions := newSessionApp(t)

	sess, err := sessions.Create("sweep", "golang", nil)
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+sess.ID, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodDelete, "/api/v1/sessions/"+sess.ID, nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
