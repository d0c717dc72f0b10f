package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
	"github.com/tripmarket/marketplace-backend/internal/middleware"
	"github.com/tripmarket/marketplace-backend/pkg/jwt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func travelerCtx() middleware.UserContext {
	return middleware.UserContext{UserID: uuid.New(), Roles: []string{jwt.RoleTraveler}}
}

func adminCtx() middleware.UserContext {
	return middleware.UserContext{UserID: uuid.New(), Roles: []string{jwt.RoleAdmin}}
}

// newTestRouter returns an engine whose requests are authenticated as userCtx
func newTestRouter(userCtx *middleware.UserContext) *gin.Engine {
	r := gin.New()
	if userCtx != nil {
		r.Use(func(c *gin.Context) {
			c.Set(middleware.UserContextKey, *userCtx)
			c.Next()
		})
	}
	return r
}

func doJSON(t *testing.T, r http.Handler, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}
