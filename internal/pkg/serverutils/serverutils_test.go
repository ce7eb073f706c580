package serverutils

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"agentic-retrieval-be/internal/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type askRequest struct {
	Query string `json:"query" validate:"required,max=10"`
}

func decodeError(t *testing.T, app *fiber.App, path string) (int, ErrorResponse) {
	t.Helper()
	resp, err := app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	defer resp.Body.Close()
	var body ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestErrorHandlerMiddleware(t *testing.T) {
	app := fiber.New()
	app.Use(ErrorHandlerMiddleware(logger.NewNopLogger()))
	app.Get("/invalid", func(c *fiber.Ctx) error { return ValidateRequest(askRequest{}) })
	app.Get("/missing", func(c *fiber.Ctx) error { return NotFound("session not found") })
	app.Get("/boom", func(c *fiber.Ctx) error { return errors.New("pq: connection refused") })

	code, body := decodeError(t, app, "/invalid")
	assert.Equal(t, 400, code)
	assert.Equal(t, "required", body.Errors["query"])

	code, body = decodeError(t, app, "/missing")
	assert.Equal(t, 404, code)
	assert.Equal(t, "session not found", body.Message)

	code, body = decodeError(t, app, "/boom")
	assert.Equal(t, 500, code)
	assert.NotContains(t, body.Message, "pq")
}

func TestParseToken(t *testing.T) {
	user := uuid.New()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.String(),
		"exp":     time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	got, err := ParseToken(signed, "secret")
	require.NoError(t, err)
	assert.Equal(t, user, got)

	_, err = ParseToken(signed, "other")
	assert.Error(t, err)
}
