package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/your-org/faceid/pkg/dto"
)

func newRouter(key string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(APIKeyMiddleware(key))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	return r
}

func TestAPIKeyMiddleware(t *testing.T) {
	tests := []struct {
		name   string
		key    string
		header string
		want   int
	}{
		{"disabled", "", "", http.StatusNoContent},
		{"missing", "secret", "", http.StatusUnauthorized},
		{"wrong", "secret", "nope", http.StatusForbidden},
		{"valid", "secret", "secret", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("X-API-Key", tt.header)
			}
			w := httptest.NewRecorder()
			newRouter(tt.key).ServeHTTP(w, req)

			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			if w.Code >= 400 {
				var resp dto.Response
				if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
					t.Fatalf("decode envelope: %v", err)
				}
				if resp.StatusCode != tt.want {
					t.Errorf("envelope statusCode = %d", resp.StatusCode)
				}
			}
		})
	}
}
