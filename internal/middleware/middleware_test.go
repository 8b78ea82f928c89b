package middleware

import (
	"bytes"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/makeasinger/mediagen/internal/auth"
	"github.com/makeasinger/mediagen/internal/metrics"
)

func whoami(c *fiber.Ctx) error {
	return c.SendString(GetUserID(c) + "|" + GetUserEmail(c))
}

func get(t *testing.T, app *fiber.App, path string, headers map[string]string) (int, string) {
	t.Helper()
	r := httptest.NewRequest("GET", path, nil)
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	resp, err := app.Test(r)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.String()
}

func TestAuthenticate(t *testing.T) {
	app := fiber.New()
	mw := NewAuthMiddleware(auth.NewAuthenticator(nil, "s3cret"))
	app.Get("/me", mw.Authenticate(), whoami)

	token, err := auth.IssueSessionToken("s3cret", "u1", "u1@x.y", time.Hour)
	require.NoError(t, err)

	status, out := get(t, app, "/me", map[string]string{"Authorization": "Bearer " + token})
	assert.Equal(t, 200, status)
	assert.Equal(t, "u1|u1@x.y", out)

	status, _ = get(t, app, "/me", nil)
	assert.Equal(t, 401, status)

	status, _ = get(t, app, "/me", map[string]string{"Authorization": "Token abc"})
	assert.Equal(t, 401, status)

	status, out = get(t, app, "/me", map[string]string{"Authorization": "Bearer not-a-jwt"})
	assert.Equal(t, 401, status)
	assert.Contains(t, out, "UNAUTHORIZED")
}

func TestGatewayAuth(t *testing.T) {
	app := fiber.New()
	app.Get("/me", GatewayAuthMiddleware(), whoami)

	status, out := get(t, app, "/me", map[string]string{"X-User-Id": "gw", "X-User-Email": "g@w"})
	assert.Equal(t, 200, status)
	assert.Equal(t, "gw|g@w", out)

	status, _ = get(t, app, "/me", nil)
	assert.Equal(t, 401, status)
}

func TestGenerateLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	rl := NewRateLimiter(rdb, zerolog.Nop())
	app := fiber.New()
	app.Get("/gen", GatewayAuthMiddleware(), rl.GenerateLimit(2), whoami)

	u1 := map[string]string{"X-User-Id": "u1"}
	for range 2 {
		status, _ := get(t, app, "/gen", u1)
		assert.Equal(t, 200, status)
	}
	status, out := get(t, app, "/gen", u1)
	assert.Equal(t, 429, status)
	assert.Contains(t, out, "RATE_LIMITED")
	assert.Equal(t, time.Hour, mr.TTL("ratelimit:generate:u1"))

	// other users have their own window
	status, _ = get(t, app, "/gen", map[string]string{"X-User-Id": "u2"})
	assert.Equal(t, 200, status)

	mr.FastForward(time.Hour)
	status, _ = get(t, app, "/gen", u1)
	assert.Equal(t, 200, status)
}

func TestGenerateLimit_FailsOpen(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	app := fiber.New()
	app.Get("/gen", GatewayAuthMiddleware(), NewRateLimiter(rdb, zerolog.Nop()).GenerateLimit(1), whoami)

	status, _ := get(t, app, "/gen", map[string]string{"X-User-Id": "u1"})
	assert.Equal(t, 200, status)
}

func TestRequestLoggerAndMetrics(t *testing.T) {
	var buf bytes.Buffer
	m := metrics.New(prometheus.NewRegistry())

	app := fiber.New()
	app.Use(RequestLogger(zerolog.New(&buf)), Metrics(m))
	app.Get("/tasks/:id", func(c *fiber.Ctx) error { return c.SendStatus(204) })

	status, _ := get(t, app, "/tasks/abc", nil)
	assert.Equal(t, 204, status)
	assert.Contains(t, buf.String(), `"status":204`)
	assert.Contains(t, buf.String(), `"path":"/tasks/abc"`)
}
