package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/kiosk-session-server/internal/config"
	"github.com/iliyamo/kiosk-session-server/internal/utils"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	return mr, redis.NewClient(&redis.Options{Addr: mr.Addr()})
}

func do(e *echo.Echo, method, target, bearer string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRequireRole(t *testing.T) {
	e := echo.New()
	e.GET("/admin", func(c echo.Context) error {
		return c.String(http.StatusOK, c.Get(CtxSubject).(string))
	}, JWTAuth("secret"), RequireRole(utils.RoleAdmin))

	admin, err := utils.NewToken("secret", "ops", utils.RoleAdmin, time.Hour, time.Now())
	require.NoError(t, err)
	kiosk, err := utils.NewKioskToken("secret", "k1", time.Hour)
	require.NoError(t, err)

	rec := do(e, http.MethodGet, "/admin", admin.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", rec.Body.String())

	assert.Equal(t, http.StatusForbidden, do(e, http.MethodGet, "/admin", kiosk.Token).Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/admin", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(e, http.MethodGet, "/admin", "garbage").Code)
}

func TestTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/ws?token=q", nil)
	assert.Equal(t, "q", TokenFromRequest(req))

	req.Header.Set("Authorization", "Bearer h")
	assert.Equal(t, "h", TokenFromRequest(req))
}

func TestTokenBucket_BlocksAfterCapacity(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.RateLimitConfig{
		Enabled: true, Capacity: 2, RefillTokens: 1, RefillInterval: time.Minute,
		TTL: 10 * time.Minute, KeyStrategy: "ip_kiosk_route", Prefix: "rl",
	}
	e := echo.New()
	e.POST("/v1/kiosks/:id/generate-token", func(c echo.Context) error {
		return c.NoContent(http.StatusOK)
	}, NewTokenBucket(cfg, rdb))

	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/v1/kiosks/k1/generate-token", "").Code)
	rec := do(e, http.MethodPost, "/v1/kiosks/k1/generate-token", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	rec = do(e, http.MethodPost, "/v1/kiosks/k1/generate-token", "")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	// Another kiosk has its own bucket.
	assert.Equal(t, http.StatusOK, do(e, http.MethodPost, "/v1/kiosks/k2/generate-token", "").Code)
}

func TestTokenBucket_DisabledWithoutRedis(t *testing.T) {
	e := echo.New()
	e.GET("/x", func(c echo.Context) error { return c.NoContent(http.StatusOK) },
		NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusOK, do(e, http.MethodGet, "/x", "").Code)
	}
}

func TestRedisCache_ServesHit(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.CacheConfig{
		Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute,
		KeyStrategy: "route_query", Prefix: "cache", MaxBodyBytes: 1 << 20,
	}
	calls := 0
	e := echo.New()
	e.GET("/v1/animals", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusOK, echo.Map{"animals": []string{"a1"}})
	}, NewRedisCache(cfg, rdb))

	first := do(e, http.MethodGet, "/v1/animals", "")
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))
	second := do(e, http.MethodGet, "/v1/animals", "")
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, http.StatusOK, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Contains(t, second.Header().Get(echo.HeaderContentType), echo.MIMEApplicationJSON)
	assert.Equal(t, 1, calls)

	do(e, http.MethodGet, "/v1/animals?page=2", "")
	assert.Equal(t, 2, calls)
}

func TestRedisCache_SkipsErrors(t *testing.T) {
	_, rdb := newRedis(t)
	cfg := config.CacheConfig{Enabled: true, Methods: map[string]bool{"GET": true}, TTL: time.Minute, Prefix: "cache"}
	calls := 0
	e := echo.New()
	e.GET("/flaky", func(c echo.Context) error {
		calls++
		return c.JSON(http.StatusServiceUnavailable, echo.Map{"error": "down"})
	}, NewRedisCache(cfg, rdb))

	do(e, http.MethodGet, "/flaky", "")
	do(e, http.MethodGet, "/flaky", "")
	assert.Equal(t, 2, calls)
}
