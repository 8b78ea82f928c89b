package e2e

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/makeasinger/mediagen/internal/auth"
	"github.com/makeasinger/mediagen/internal/client"
	"github.com/makeasinger/mediagen/internal/config"
	"github.com/makeasinger/mediagen/internal/database"
	"github.com/makeasinger/mediagen/internal/handler"
	"github.com/makeasinger/mediagen/internal/ledger"
	"github.com/makeasinger/mediagen/internal/middleware"
	"github.com/makeasinger/mediagen/internal/model"
	"github.com/makeasinger/mediagen/internal/service"
	"github.com/makeasinger/mediagen/internal/store"
	ws "github.com/makeasinger/mediagen/internal/websocket"
	"github.com/makeasinger/mediagen/internal/worker"
)

const (
	testJWTSecret = "test-secret-for-e2e"
	testUserID    = "test-user-123"
)

// inlineQueue runs each task on the worker as soon as it is queued.
type inlineQueue struct {
	worker *worker.GenerationWorker
}

func (q *inlineQueue) Enqueue(ctx context.Context, t *model.Task) error {
	task, err := service.NewGenerateTask(t.ID)
	if err != nil {
		return err
	}
	return q.worker.ProcessTask(ctx, task)
}

func (q *inlineQueue) Cancel(context.Context, *model.Task) error { return nil }

// testApp holds all components needed for testing
type testApp struct {
	app    *fiber.App
	ledger *ledger.Ledger
}

// setupApp wires the server the way main.go does, with the gemini channel
// pointed at providerURL and an in-process queue.
func setupApp(t *testing.T, providerURL string) *testApp {
	t.Helper()

	mr := miniredis.RunT(t)
	redisClient := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { redisClient.Close() })

	db, err := database.OpenMemory()
	if err != nil {
		t.Fatalf("failed to open database: %v", err)
	}

	cfg := &config.Config{
		Models:  config.DefaultModels(),
		Pricing: config.PricingConfig{SoraVideo10s: 30, SoraVideo15s: 45, GeminiPro: 10, GeminiNano: 5},
		Channels: map[string]config.ChannelConfig{
			"gemini": {Type: config.ChannelGemini, BaseURL: providerURL, APIKeys: "test-key", Enabled: true},
		},
	}
	log := zerolog.Nop()

	hub := ws.NewHub(log)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	registry := client.NewRegistry(cfg.Channels, client.Options{
		HTTPClient: &http.Client{Timeout: 5 * time.Second},
		Log:        log,
	})

	tasks := store.NewTaskStore(db)
	credits := ledger.New(db)
	status := service.NewStatusCache(redisClient, tasks, log)
	queue := &inlineQueue{}
	queue.worker = worker.NewGenerationWorker(cfg, tasks, credits, registry, nil, hub, status, nil, log)
	generation := service.NewGenerationService(cfg, tasks, credits, queue, status, hub, nil, log)

	authenticator := auth.NewAuthenticator(nil, testJWTSecret)
	rateLimiter := middleware.NewRateLimiter(redisClient, log)

	app := fiber.New(fiber.Config{
		BodyLimit: 50 * 1024 * 1024,
	})

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"timestamp": 1234567890})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"services": fiber.Map{
				"redis":    redisClient.Ping(c.UserContext()).Err() == nil,
				"channels": registry.Channels(),
			},
		})
	})
	app.Get("/auth/verify", handler.NewAuthHandler(authenticator).Verify)

	api := app.Group("/api", middleware.NewAuthMiddleware(authenticator).Authenticate())
	// Use very high rate limits so tests don't get blocked
	handler.Register(api, generation, validator.New(), rateLimiter.GenerateLimit(10000), log)

	return &testApp{app: app, ledger: credits}
}

// generateToken creates a session token for test requests.
func generateToken(t *testing.T) string {
	t.Helper()
	signed, err := auth.IssueSessionToken(testJWTSecret, testUserID, "test@example.com", time.Hour)
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest is a helper to perform HTTP requests against the test app.
func doRequest(app *fiber.App, method, path string, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// doAuthRequest performs an authenticated request.
func doAuthRequest(t *testing.T, app *fiber.App, method, path, body string) (*http.Response, error) {
	t.Helper()
	token := generateToken(t)
	return doRequest(app, method, path, body, map[string]string{
		"Authorization": "Bearer " + token,
	})
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// dataOf returns the data member of a success envelope.
func dataOf(t *testing.T, body map[string]interface{}) map[string]interface{} {
	t.Helper()
	data, ok := body["data"].(map[string]interface{})
	if !ok {
		t.Fatalf("expected data object in %v", body)
	}
	return data
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}
