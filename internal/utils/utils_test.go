package utils

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetRealIP(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		headers  map[string]string
		expected string
	}{
		{"X-Real-IP public", map[string]string{"X-Real-IP": "203.0.113.7"}, "203.0.113.7"},
		{"X-Forwarded-For skips private hops", map[string]string{"X-Forwarded-For": "10.0.0.4, 198.51.100.20, 203.0.113.1"}, "198.51.100.20"},
		{"private X-Real-IP falls through", map[string]string{"X-Real-IP": "192.168.1.9", "X-Forwarded-For": "198.51.100.21"}, "198.51.100.21"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := gin.CreateTestContext(httptest.NewRecorder())
			c.Request = httptest.NewRequest("POST", "/webhooks/payments", nil)
			for k, v := range tt.headers {
				c.Request.Header.Set(k, v)
			}
			assert.Equal(t, tt.expected, GetRealIP(c))
		})
	}
}

func TestGetUserAgent(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, "Unknown", GetUserAgent(c))

	c.Request.Header.Set("User-Agent", "Paygate/1.0 (+https://paygate.example/webhooks)")
	assert.Equal(t, "Paygate/1.0 (+https://paygate.example/webhooks)", GetUserAgent(c))
}

func TestParseUserAgent(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		info := ParseUserAgent("")
		assert.Equal(t, "unknown", info.Name)
		assert.Equal(t, "unknown", info.Label())
	})

	t.Run("browser", func(t *testing.T) {
		info := ParseUserAgent("Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36")
		assert.Equal(t, "Chrome", info.Name)
		assert.False(t, info.IsBot)
		assert.True(t, strings.HasPrefix(info.Label(), "Chrome/"))
	})

	t.Run("crawler", func(t *testing.T) {
		info := ParseUserAgent("Mozilla/5.0 (compatible; Googlebot/2.1; +http://www.google.com/bot.html)")
		assert.True(t, info.IsBot)
	})
}

func TestGenerateServiceSecrets(t *testing.T) {
	jwtSecret, webhookSecret, err := GenerateServiceSecrets()
	require.NoError(t, err)
	assert.Len(t, jwtSecret, 64)
	assert.True(t, strings.HasPrefix(webhookSecret, "whsec_"))
	assert.NotEqual(t, jwtSecret, strings.TrimPrefix(webhookSecret, "whsec_"))
}
