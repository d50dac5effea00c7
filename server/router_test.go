package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"social-publisher/domain/model"
	httpHandler "social-publisher/interfaces/http"
	"social-publisher/interfaces/middleware"
	"social-publisher/usecase"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "router-secret"

type stubPublish struct{ usecase.IPublishUsecase }

func (stubPublish) Get(_ context.Context, userID, id string) (*model.PublishTask, error) {
	if userID != "user-1" {
		return nil, model.ErrTaskNotFound
	}
	return &model.PublishTask{ID: id, UserID: userID, Status: model.StatusQueued}, nil
}

func newRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	uc := stubPublish{}
	health := httpHandler.NewHealthHandler(map[string]httpHandler.Check{
		"noop": func(context.Context) error { return nil },
	})
	return InitiateRouter(testSecret, []string{"http://localhost:4200"},
		httpHandler.NewPublishHandler(uc), httpHandler.NewWebhookHandler(uc, nil), nil, health, nil)
}

func bearer(t *testing.T) string {
	claims := middleware.UserClaims{
		UserName: "alice",
		StandardClaims: jwt.StandardClaims{
			Issuer:    "user-1",
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return "Bearer " + s
}

func TestRouter_PublicRoutes(t *testing.T) {
	r := newRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/webhooks/tiktok", strings.NewReader(`{"event":"authorization.removed"}`)))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"outcome":"ignored"}`, w.Body.String())

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/auth/youtube", nil))
	assert.Equal(t, http.StatusNotFound, w.Code, "oauth routes are not mounted without a connector")
}

func TestRouter_PublishRoutesNeedAToken(t *testing.T) {
	r := newRouter()

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/publish/tasks/t1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/publish/tasks/t1", nil)
	req.Header.Set("Authorization", bearer(t))
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"id":"t1"`)
}

func TestRouter_CORSPreflight(t *testing.T) {
	r := newRouter()
	req := httptest.NewRequest(http.MethodOptions, "/api/publish/tasks", nil)
	req.Header.Set("Origin", "http://localhost:4200")
	req.Header.Set("Access-Control-Request-Method", "POST")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, "http://localhost:4200", w.Header().Get("Access-Control-Allow-Origin"))
}
