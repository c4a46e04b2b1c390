package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func guardedRouter(key string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequireAPIKey(key))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func ping(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	if key != "" {
		req.Header.Set(Header, key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestEmptyConfiguredKeyDisablesAuth(t *testing.T) {
	r := guardedRouter("")
	assert.Equal(t, http.StatusOK, ping(r, "").Code)
}

func TestMissingKeyIsUnauthorized(t *testing.T) {
	r := guardedRouter("secret")
	w := ping(r, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), Header)
}

func TestWrongKeyIsForbidden(t *testing.T) {
	r := guardedRouter("secret")
	assert.Equal(t, http.StatusForbidden, ping(r, "not-secret").Code)
}

func TestMatchingKeyPasses(t *testing.T) {
	r := guardedRouter("secret")
	assert.Equal(t, http.StatusOK, ping(r, "secret").Code)
}
