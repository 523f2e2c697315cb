package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/KevinKickass/OpenPanelCore/internal/config"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/assert/v2"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func hash(t *testing.T, password string) string {
	t.Helper()
	h, err := HashPassword(password)
	assert.Equal(t, err, nil)
	return h
}

func TestRoleHashRoundTrip(t *testing.T) {
	encoded := hash(t, "orbit")
	assert.Equal(t, strings.HasPrefix(encoded, "$argon2id$v=19$m=65536,t=3,p=2$"), true)

	h, err := parseRoleHash(encoded)
	assert.Equal(t, err, nil)
	assert.Equal(t, h.String(), encoded)
	assert.Equal(t, h.matches("orbit"), true)
	assert.Equal(t, h.matches("orbiT"), false)

	for _, bad := range []string{"plain", "$argon2i$v=19$m=1,t=1,p=1$c2FsdA$a2V5", "$argon2id$v=16$m=1,t=1,p=1$c2FsdA$a2V5", "$argon2id$v=19$m=1,t=1,p=1$c2FsdA$"} {
		_, err := parseRoleHash(bad)
		assert.Equal(t, errors.Is(err, ErrMalformedHash), true)
	}
}

func TestUnreadableHashDisablesRole(t *testing.T) {
	svc := NewAuthService(config.AuthConfig{
		Enabled:               true,
		EditorPasswordHash:    "plain",
		PresenterPasswordHash: hash(t, "show"),
	}, zap.NewNop())

	_, _, _, err := svc.Login("plain", "127.0.0.1")
	assert.Equal(t, errors.Is(err, ErrInvalidCredentials), true)
	_, role, _, err := svc.Login("show", "127.0.0.1")
	assert.Equal(t, err, nil)
	assert.Equal(t, role, RolePresenter)
}

func TestLoginRoles(t *testing.T) {
	svc := NewAuthService(config.AuthConfig{
		Enabled:               true,
		EditorPasswordHash:    hash(t, "edit"),
		PresenterPasswordHash: hash(t, "show"),
		AccessTokenTTL:        time.Minute,
	}, zap.NewNop())

	token, role, _, err := svc.Login("edit", "127.0.0.1")
	assert.Equal(t, err, nil)
	assert.Equal(t, role, RoleEditor)
	r, perms, err := svc.ValidateToken(token)
	assert.Equal(t, err, nil)
	assert.Equal(t, r, RoleEditor)
	assert.Equal(t, perms, []Permission{PermView, PermOperate, PermEdit})

	_, role, _, err = svc.Login("show", "127.0.0.1")
	assert.Equal(t, err, nil)
	assert.Equal(t, role, RolePresenter)

	_, _, _, err = svc.Login("nope", "127.0.0.1")
	assert.Equal(t, errors.Is(err, ErrInvalidCredentials), true)
}

func TestExpiredToken(t *testing.T) {
	j := NewJWTHandler("0123456789abcdef0123456789abcdef", -time.Minute)
	token, _, err := j.GenerateAccessToken(RoleEditor)
	assert.Equal(t, err, nil)
	_, err = j.ValidateAccessToken(token)
	assert.NotEqual(t, err, nil)
}

func newRouter(svc *AuthService) *gin.Engine {
	r := gin.New()
	r.Use(svc.AuthMiddleware())
	r.GET("/view", RequirePermission(PermView), func(c *gin.Context) { c.String(http.StatusOK, string(RoleFrom(c))) })
	r.POST("/edit", RequirePermission(PermEdit), func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestMiddlewarePermissions(t *testing.T) {
	svc := NewAuthService(config.AuthConfig{
		Enabled:               true,
		PresenterPasswordHash: hash(t, "show"),
	}, zap.NewNop())
	token, _, _, err := svc.Login("show", "")
	assert.Equal(t, err, nil)
	r := newRouter(svc)

	cases := []struct {
		name   string
		method string
		path   string
		header string
		want   int
	}{
		{"no token", http.MethodGet, "/view", "", http.StatusUnauthorized},
		{"bad scheme", http.MethodGet, "/view", "Basic abc", http.StatusUnauthorized},
		{"bad token", http.MethodGet, "/view", "Bearer abc", http.StatusUnauthorized},
		{"presenter view", http.MethodGet, "/view", "Bearer " + token, http.StatusOK},
		{"presenter edit", http.MethodPost, "/edit", "Bearer " + token, http.StatusForbidden},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(tc.method, tc.path, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, w.Code, tc.want)
		})
	}

	req := httptest.NewRequest(http.MethodGet, "/view?token="+token, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, w.Code, http.StatusOK)
	assert.Equal(t, w.Body.String(), "presenter")
}

func TestMiddlewareDisabled(t *testing.T) {
	svc := NewAuthService(config.AuthConfig{Enabled: false}, zap.NewNop())
	r := newRouter(svc)

	req := httptest.NewRequest(http.MethodPost, "/edit", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, w.Code, http.StatusNoContent)
}
