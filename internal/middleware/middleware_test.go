package middleware

import (
	"crypto/rand"
	"crypto/rsa"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"lingua-billing/internal/pkg/jwt"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newAuth(t *testing.T) (*AuthMiddleware, *jwt.Generator) {
	t.Helper()
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret-internal"), bcrypt.MinCost)
	require.NoError(t, err)

	verifier := jwt.NewVerifier(&priv.PublicKey, "lingua-web", "lingua-billing")
	gen := jwt.NewGenerator(priv, "lingua-web", "lingua-billing", "k1", time.Hour)
	return NewAuthMiddleware(verifier, string(hash)), gen
}

func serve(r *gin.Engine, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthSetsUserID(t *testing.T) {
	auth, gen := newAuth(t)
	r := gin.New()
	r.GET("/me", auth.Auth(), func(c *gin.Context) {
		c.String(http.StatusOK, MustGetUserID(c)+"|"+GetEmail(c))
	})

	token, _, err := gen.Generate("user-42", "ana@example.com", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "user-42|ana@example.com", w.Body.String())
}

func TestAuthRejectsBadTokens(t *testing.T) {
	auth, _ := newAuth(t)
	_, otherGen := newAuth(t)
	r := gin.New()
	r.GET("/me", auth.Auth(), func(c *gin.Context) { c.Status(http.StatusOK) })

	foreign, _, err := otherGen.Generate("user-42", "", nil)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":      "",
		"malformed":    "Bearer not-a-jwt",
		"wrong key":    "Bearer " + foreign,
		"wrong scheme": "Basic abc",
	} {
		t.Run(name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if header != "" {
				req.Header.Set("Authorization", header)
			}
			assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
		})
	}
}

func TestInternalKey(t *testing.T) {
	auth, _ := newAuth(t)
	r := gin.New()
	r.POST("/internal", auth.Internal(), func(c *gin.Context) {
		assert.True(t, IsInternal(c))
		c.Status(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodPost, "/internal", nil)
	req.Header.Set(InternalKeyHeader, "s3cret-internal")
	assert.Equal(t, http.StatusNoContent, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/internal", nil)
	req.Header.Set(InternalKeyHeader, "guess")
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/internal", nil)
	assert.Equal(t, http.StatusUnauthorized, serve(r, req).Code)
}

func TestInternalOrAdmin(t *testing.T) {
	auth, gen := newAuth(t)
	r := gin.New()
	r.POST("/ops", auth.InternalOrAdmin(), func(c *gin.Context) { c.Status(http.StatusOK) })

	admin, _, err := gen.Generate("ops-1", "", []string{"admin"})
	require.NoError(t, err)
	user, _, err := gen.Generate("user-1", "", nil)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/ops", nil)
	req.Header.Set("Authorization", "Bearer "+admin)
	assert.Equal(t, http.StatusOK, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/ops", nil)
	req.Header.Set("Authorization", "Bearer "+user)
	assert.Equal(t, http.StatusForbidden, serve(r, req).Code)

	req = httptest.NewRequest(http.MethodPost, "/ops", nil)
	req.Header.Set(InternalKeyHeader, "s3cret-internal")
	assert.Equal(t, http.StatusOK, serve(r, req).Code)
}

func TestRecoveryAndRequestID(t *testing.T) {
	r := gin.New()
	r.Use(RecoveryMiddleware(zap.NewNop()), LoggingMiddleware(zap.NewNop()))
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	req := httptest.NewRequest(http.MethodGet, "/boom", nil)
	req.Header.Set(requestIDHeader, "req-123")
	w := serve(r, req)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "req-123", w.Header().Get(requestIDHeader))
	assert.Contains(t, w.Body.String(), `"request_id":"req-123"`)
}

func TestMustGetUserIDWithoutAuth(t *testing.T) {
	r := gin.New()
	r.Use(RecoveryMiddleware(zap.NewNop()))
	r.GET("/me", func(c *gin.Context) { c.String(http.StatusOK, MustGetUserID(c)) })

	assert.Equal(t, http.StatusInternalServerError, serve(r, httptest.NewRequest(http.MethodGet, "/me", nil)).Code)
}

func TestRoles(t *testing.T) {
	auth, gen := newAuth(t)
	r := gin.New()
	r.GET("/roles", auth.Auth(), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"roles": GetRoles(c), "support": HasRole(c, "support")})
	})

	token, _, err := gen.Generate("user-1", "", []string{"support"})
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/roles", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := serve(r, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"roles":["support"],"support":true}`, w.Body.String())
}

func TestCORSPreflight(t *testing.T) {
	r := gin.New()
	r.Use(CORSMiddleware("https://lingua.test"))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	req := httptest.NewRequest(http.MethodOptions, "/x", nil)
	req.Header.Set("Origin", "https://lingua.test")
	w := serve(r, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "https://lingua.test", w.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Origin", "https://evil.test")
	w = serve(r, req)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
