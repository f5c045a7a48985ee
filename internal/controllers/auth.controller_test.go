package controllers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"pideck/internal/middleware"
	"pideck/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAuthRouter(t *testing.T, password string) *gin.Engine {
	t.Helper()

	auth, err := services.NewAuthService(password, "0123456789abcdef0123456789abcdef", time.Hour, nil, nil)
	require.NoError(t, err)
	ac := NewAuthController(auth, nil, false)

	r := gin.New()
	r.POST("/auth/login", ac.Login)
	r.POST("/auth/logout", ac.Logout)
	r.GET("/auth/session", ac.Session)
	return r
}

func postJSON(r http.Handler, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func sessionCookie(w *httptest.ResponseRecorder) *http.Cookie {
	for _, c := range w.Result().Cookies() {
		if c.Name == middleware.SessionCookie {
			return c
		}
	}
	return nil
}

func TestAuthController_LoginFlow(t *testing.T) {
	r := newAuthRouter(t, "hunter2")

	w := postJSON(r, "/auth/login", `{"password":"wrong"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Nil(t, sessionCookie(w))

	w = postJSON(r, "/auth/login", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = postJSON(r, "/auth/login", `{"password":"hunter2"}`)
	require.Equal(t, http.StatusOK, w.Code)
	cookie := sessionCookie(w)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteStrictMode, cookie.SameSite)

	req := httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Contains(t, w.Body.String(), `"authenticated":true`)

	w = get(r, "/auth/session")
	assert.JSONEq(t, `{"authenticated":false}`, w.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	cleared := sessionCookie(w)
	require.NotNil(t, cleared)
	assert.Empty(t, cleared.Value)
	assert.Negative(t, cleared.MaxAge)

	// A copy of the old cookie no longer authenticates.
	req = httptest.NewRequest(http.MethodGet, "/auth/session", nil)
	req.AddCookie(cookie)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.JSONEq(t, `{"authenticated":false}`, w.Body.String())

	w = postJSON(r, "/auth/logout", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthController_Disabled(t *testing.T) {
	r := newAuthRouter(t, "")

	w := postJSON(r, "/auth/login", `{}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"authenticated":true,"authDisabled":true}`, w.Body.String())

	w = get(r, "/auth/session")
	assert.JSONEq(t, `{"authenticated":true,"authDisabled":true}`, w.Body.String())
}
