package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
)

func TestSetGetAuthUser(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	user, ok := GetUser(c)
	assert.False(t, ok)
	assert.Nil(t, user)

	expectedUser := &AuthUser{
		ID:       "user123",
		Username: "john.doe",
		Name:     "John Doe",
		Scopes:   []string{"flows:write"},
		Claims:   map[string]interface{}{"role": "admin"},
	}

	SetUser(c, expectedUser)
	user, ok = GetUser(c)
	assert.True(t, ok)
	assert.Equal(t, expectedUser, user)
}

func newContextWithParam(method, path, paramName, paramValue string) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if paramName != "" {
		c.SetParamNames(paramName)
		c.SetParamValues(paramValue)
	}
	return c, rec
}

func TestRequireFlowWriteScope_NoUser(t *testing.T) {
	c, _ := newContextWithParam(http.MethodPost, "/v1/flows", "", "")

	handler := requireFlowWriteScope(func(echo.Context) error { return nil })
	err := handler(c)

	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusUnauthorized, httpErr.Code)
}

func TestRequireFlowWriteScope_BlanketScopeAllowsCreate(t *testing.T) {
	c, _ := newContextWithParam(http.MethodPost, "/v1/flows", "", "")
	SetUser(c, &AuthUser{ID: "u1", Scopes: []string{"flows:write"}})

	called := false
	handler := requireFlowWriteScope(func(echo.Context) error { called = true; return nil })
	assert.NoError(t, handler(c))
	assert.True(t, called)
}

func TestRequireFlowWriteScope_AdminScopeAllowsDelete(t *testing.T) {
	c, _ := newContextWithParam(http.MethodDelete, "/v1/flows/f1", "id", "f1")
	SetUser(c, &AuthUser{ID: "u1", Scopes: []string{"admin"}})

	called := false
	handler := requireFlowWriteScope(func(echo.Context) error { called = true; return nil })
	assert.NoError(t, handler(c))
	assert.True(t, called)
}

func TestRequireFlowWriteScope_FlowScopedScopeAllowsMatchingFlow(t *testing.T) {
	c, _ := newContextWithParam(http.MethodDelete, "/v1/flows/f1", "id", "f1")
	SetUser(c, &AuthUser{ID: "u1", Scopes: []string{"flows:f1:write"}})

	called := false
	handler := requireFlowWriteScope(func(echo.Context) error { called = true; return nil })
	assert.NoError(t, handler(c))
	assert.True(t, called)
}

func TestRequireFlowWriteScope_FlowScopedScopeRejectsOtherFlow(t *testing.T) {
	c, _ := newContextWithParam(http.MethodDelete, "/v1/flows/f2", "id", "f2")
	SetUser(c, &AuthUser{ID: "u1", Scopes: []string{"flows:f1:write"}})

	handler := requireFlowWriteScope(func(echo.Context) error { return nil })
	err := handler(c)

	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)
}

func TestRequireFlowWriteScope_NoScopesRejected(t *testing.T) {
	c, _ := newContextWithParam(http.MethodPost, "/v1/flows", "", "")
	SetUser(c, &AuthUser{ID: "u1"})

	handler := requireFlowWriteScope(func(echo.Context) error { return nil })
	err := handler(c)

	httpErr, ok := err.(*echo.HTTPError)
	assert.True(t, ok)
	assert.Equal(t, http.StatusForbidden, httpErr.Code)
}
