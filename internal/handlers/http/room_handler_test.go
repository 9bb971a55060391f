package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lessonlive/internal/core/domain"
	"lessonlive/internal/core/services"
	"lessonlive/internal/infrastructure/middleware"
	"lessonlive/internal/infrastructure/repositories/memory"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type discardSink struct{}

func (discardSink) Deliver([]domain.ConnectionID, domain.Event) {}
func (discardSink) Close(domain.ConnectionID, string)           {}

type api struct {
	router *gin.Engine
	auth   services.AuthService
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	logger := zap.NewNop().Sugar()
	auth := services.NewAuthService("test-secret", "lessonlive", time.Hour)

	coord := services.NewCoordinator(services.CoordinatorDeps{
		Rooms:      memory.NewMemoryRoomRepository(),
		Moderation: memory.NewMemoryModerationStore(),
		Notes:      memory.NewMemoryNoteStore(),
		Roles:      memory.NewMemoryRoleStore(),
		Sink:       discardSink{},
		Logger:     logger,
	}, services.DefaultCoordinatorConfig())
	t.Cleanup(func() { _ = coord.Shutdown(context.Background()) })

	router := gin.New()
	router.Use(middleware.ErrorHandlerMiddleware(logger))
	group := router.Group("/api/v1")
	group.Use(middleware.AuthMiddleware(auth))
	NewRoomHandler(coord).RegisterRoutes(group)
	NewAuthHandler(auth, time.Hour).RegisterRoutes(group)

	return &api{router: router, auth: auth}
}

func (a *api) do(t *testing.T, method, path string, as domain.Identity, admin bool, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		token, err := a.auth.GenerateToken(as, string(as), admin)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), w.Body.String())
	return body
}

func TestCreateAndGetRoom(t *testing.T) {
	a := newAPI(t)

	w := a.do(t, http.MethodPost, "/api/v1/rooms", "alice", false, CreateRoomRequest{
		ID:               "algebra-101",
		Kind:             domain.RoomKindOfficeHours,
		ParticipantLimit: 12,
		Hosts:            []domain.Identity{"carol", "alice"},
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, []interface{}{"alice", "carol"}, decode(t, w)["hosts"])

	w = a.do(t, http.MethodGet, "/api/v1/rooms/algebra-101", "bob", false, nil)
	require.Equal(t, http.StatusOK, w.Code)
	room := decode(t, w)["room"].(map[string]interface{})
	assert.Equal(t, "office-hours", room["kind"])
	assert.EqualValues(t, 12, room["participant_limit"])

	w = a.do(t, http.MethodPost, "/api/v1/rooms", "alice", false, CreateRoomRequest{ID: "algebra-101"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/rooms/unknown", "bob", false, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NOT_FOUND", decode(t, w)["error"])
}

func TestCreateRoomValidation(t *testing.T) {
	a := newAPI(t)

	cases := []struct {
		name string
		body interface{}
	}{
		{"missing id", map[string]interface{}{"kind": "live-session"}},
		{"bad id", CreateRoomRequest{ID: "room with spaces"}},
		{"unknown kind", CreateRoomRequest{ID: "r1", Kind: "webinar"}},
		{"negative limit", CreateRoomRequest{ID: "r1", ParticipantLimit: -3}},
		{"bad host", CreateRoomRequest{ID: "r1", Hosts: []domain.Identity{"not valid"}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := a.do(t, http.MethodPost, "/api/v1/rooms", "alice", false, tc.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, "INVALID_INPUT", decode(t, w)["error"])
		})
	}
}

func TestRoutesRequireToken(t *testing.T) {
	a := newAPI(t)
	w := a.do(t, http.MethodGet, "/api/v1/rooms/r1/roster", "", false, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRosterAndNoteOfIdleRoom(t *testing.T) {
	a := newAPI(t)
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/v1/rooms", "alice", false, CreateRoomRequest{ID: "r1"}).Code)

	w := a.do(t, http.MethodGet, "/api/v1/rooms/r1/roster", "bob", false, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode(t, w)["participants"])

	w = a.do(t, http.MethodGet, "/api/v1/rooms/r1/note", "bob", false, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 0, decode(t, w)["version"])

	w = a.do(t, http.MethodGet, "/api/v1/rooms/missing/roster", "bob", false, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "REJECTED", decode(t, w)["error"])
}

func TestBanAdmissionAndLift(t *testing.T) {
	a := newAPI(t)
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/v1/rooms", "alice", false, CreateRoomRequest{ID: "r1"}).Code)

	w := a.do(t, http.MethodPost, "/api/v1/rooms/r1/moderation", "alice", false, domain.ModerationRequest{
		Target: "bob",
		Action: domain.ActionBan,
		Reason: "spam",
	})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/api/v1/rooms/r1/admission", "bob", false, nil)
	require.Equal(t, http.StatusOK, w.Code)
	adm := decode(t, w)
	assert.Equal(t, false, adm["admissible"])
	assert.Equal(t, "banned", adm["reason"])

	// Only admins may ask about someone else.
	w = a.do(t, http.MethodGet, "/api/v1/rooms/r1/admission?identity=bob", "carol", false, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "carol", decode(t, w)["identity"])

	w = a.do(t, http.MethodGet, "/api/v1/rooms/r1/moderation", "bob", false, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodGet, "/api/v1/rooms/r1/moderation", "alice", false, nil)
	require.Equal(t, http.StatusOK, w.Code)
	records := decode(t, w)["records"].([]interface{})
	require.Len(t, records, 1)
	assert.Equal(t, "spam", records[0].(map[string]interface{})["reason"])

	w = a.do(t, http.MethodDelete, "/api/v1/rooms/r1/bans/bob", "alice", false, nil)
	assert.Equal(t, http.StatusForbidden, w.Code, "lifting bans is admin-only")

	w = a.do(t, http.MethodDelete, "/api/v1/rooms/r1/bans/bob", "ops", true, nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/api/v1/rooms/r1/admission?identity=bob", "ops", true, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["admissible"])
}

func TestModerationErrors(t *testing.T) {
	a := newAPI(t)
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/v1/rooms", "alice", false, CreateRoomRequest{ID: "r1"}).Code)

	w := a.do(t, http.MethodPost, "/api/v1/rooms/r1/moderation", "bob", false, domain.ModerationRequest{Target: "alice", Action: domain.ActionKick})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPost, "/api/v1/rooms/r1/moderation", "alice", false, domain.ModerationRequest{Target: "alice", Action: domain.ActionKick})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/api/v1/rooms/r1/moderation", "alice", false, domain.ModerationRequest{Target: "bob", Action: "shout"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(t, http.MethodPost, "/api/v1/rooms/r1/moderation", "alice", false, domain.ModerationRequest{Target: ""})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestKickAndClear(t *testing.T) {
	a := newAPI(t)
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/v1/rooms", "alice", false, CreateRoomRequest{ID: "r1"}).Code)

	w := a.do(t, http.MethodPost, "/api/v1/rooms/r1/moderation", "alice", false, domain.ModerationRequest{Target: "bob", Action: domain.ActionKick})
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/api/v1/rooms/r1/admission", "bob", false, nil)
	assert.Equal(t, "kicked", decode(t, w)["reason"])

	w = a.do(t, http.MethodDelete, "/api/v1/rooms/r1/kicks/bob", "bob", false, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodDelete, "/api/v1/rooms/r1/kicks/bob", "alice", false, nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/api/v1/rooms/r1/admission", "bob", false, nil)
	assert.Equal(t, true, decode(t, w)["admissible"])
}

func TestTeardownRoom(t *testing.T) {
	a := newAPI(t)
	require.Equal(t, http.StatusCreated, a.do(t, http.MethodPost, "/api/v1/rooms", "alice", false, CreateRoomRequest{ID: "r1"}).Code)

	w := a.do(t, http.MethodDelete, "/api/v1/rooms/r1", "bob", false, nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodDelete, "/api/v1/rooms/r1", "alice", false, nil)
	require.Equal(t, http.StatusNoContent, w.Code, w.Body.String())

	w = a.do(t, http.MethodGet, "/api/v1/rooms/r1", "alice", false, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(t, http.MethodDelete, "/api/v1/rooms/r1", "ops", true, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAuthEndpoints(t *testing.T) {
	a := newAPI(t)

	w := a.do(t, http.MethodGet, "/api/v1/auth/me", "alice", false, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"identity":"alice","display_name":"alice","admin":false}`, w.Body.String())

	w = a.do(t, http.MethodPost, "/api/v1/auth/token", "alice", false, IssueTokenRequest{Identity: "bot"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(t, http.MethodPost, "/api/v1/auth/token", "ops", true, IssueTokenRequest{Identity: " grader-bot ", DisplayName: "  Grader\tBot "})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, "grader-bot", body["identity"])
	assert.EqualValues(t, 3600, body["expires_in"])

	claims, err := a.auth.ValidateToken(body["access_token"].(string))
	require.NoError(t, err)
	assert.Equal(t, domain.Identity("grader-bot"), claims.Identity)
	assert.Equal(t, "Grader Bot", claims.DisplayName)
	assert.False(t, claims.Admin)

	w = a.do(t, http.MethodPost, "/api/v1/auth/token", "ops", true, IssueTokenRequest{Identity: "has space"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
