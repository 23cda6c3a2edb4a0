package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"playloop/internal/core/domain"
	"playloop/internal/core/services"
	apperrors "playloop/pkg/errors"
	"playloop/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	tracesdk "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func newAuthRouter(auth services.AuthService) *gin.Engine {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.GET("/sessions/:id", SessionAuthMiddleware(auth), func(c *gin.Context) {
		id, ok := SessionID(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		claims, err := services.SessionClaimsFromContext(c.Request.Context())
		if err != nil || claims.SessionID != id {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, string(id))
	})
	return router
}

func TestSessionAuthMiddleware(t *testing.T) {
	auth := services.NewAuthService("secret", time.Hour)
	token, err := auth.GenerateToken("s1")
	require.NoError(t, err)
	router := newAuthRouter(auth)

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"bearer header", "/sessions/s1", "Bearer " + token, http.StatusOK},
		{"query token", "/sessions/s1?token=" + token, "", http.StatusOK},
		{"missing token", "/sessions/s1", "", http.StatusUnauthorized},
		{"malformed header", "/sessions/s1", "Token " + token, http.StatusUnauthorized},
		{"garbage token", "/sessions/s1", "Bearer nope", http.StatusUnauthorized},
		{"other session", "/sessions/s2", "Bearer " + token, http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestErrorHandlerMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	tests := []struct {
		name     string
		err      error
		wantCode int
		wantErr  apperrors.ErrorCode
	}{
		{"app error", apperrors.NewInvalidInputError("bad"), http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
		{"session not found", fmt.Errorf("lookup: %w", domain.ErrSessionNotFound), http.StatusNotFound, apperrors.ErrCodeNotFound},
		{"invalid ladder", domain.ErrInvalidLadder, http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
		{"invalid telemetry", domain.ErrInvalidTelemetry, http.StatusBadRequest, apperrors.ErrCodeInvalidInput},
		{"unknown quality", domain.ErrQualityNotFound, http.StatusNotFound, apperrors.ErrCodeNotFound},
		{"session closed", domain.ErrSessionClosed, http.StatusGone, apperrors.ErrCodeSessionClosed},
		{"recovery in progress", domain.ErrRecoveryInProgress, http.StatusConflict, apperrors.ErrCodeRecoveryInProgress},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, apperrors.ErrCodeInternal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(ErrorHandlerMiddleware(zap.NewNop().Sugar()))
			router.GET("/", func(c *gin.Context) {
				_ = c.Error(tt.err)
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantCode, w.Code)
			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, string(tt.wantErr), body["error"])
		})
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(RecoveryMiddleware(zap.NewNop().Sugar()))
	router.GET("/", func(c *gin.Context) {
		panic("kaboom")
	})

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestTracingMiddleware_PassesThrough(t *testing.T) {
	gin.SetMode(gin.TestMode)

	router := gin.New()
	router.Use(TracingMiddleware())
	router.GET("/ok", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestRequestLoggingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.InfoLevel)
	auth := services.NewAuthService("secret", time.Hour)
	token, err := auth.GenerateToken("s1")
	require.NoError(t, err)

	router := gin.New()
	router.Use(RequestLoggingMiddleware(logger.NewContextLogger(zap.New(core))))
	router.GET("/sessions/:id", SessionAuthMiddleware(auth), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/sessions/s1", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("X-Request-ID", "req-1")
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "req-1", w.Header().Get("X-Request-ID"))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/sessions/s1", nil))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	entries := logs.All()
	require.Len(t, entries, 2)
	first := entries[0].ContextMap()
	assert.Equal(t, "req-1", first["request_id"])
	assert.Equal(t, "s1", first["session_id"])
	assert.Equal(t, int64(http.StatusNoContent), first["status_code"])

	second := entries[1].ContextMap()
	assert.NotContains(t, second, "session_id")
	assert.Equal(t, int64(http.StatusUnauthorized), second["status_code"])
}

func withSpanRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := tracesdk.NewTracerProvider(tracesdk.WithSpanProcessor(rec))
	prevTP, prevProp := otel.GetTracerProvider(), otel.GetTextMapPropagator()
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	t.Cleanup(func() {
		otel.SetTracerProvider(prevTP)
		otel.SetTextMapPropagator(prevProp)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func TestTracingMiddleware_RecordsSpans(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := withSpanRecorder(t)

	router := gin.New()
	router.Use(TracingMiddleware("/health"))
	router.GET("/health", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/bad", func(c *gin.Context) { c.Status(http.StatusBadRequest) })
	router.GET("/boom", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	const parentTraceID = "4bf92f3577b34da6a3ce929d0e0e4736"

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/bad", nil)
	req.Header.Set("traceparent", "00-"+parentTraceID+"-00f067aa0ba902b7-01")
	router.ServeHTTP(w, req)
	assert.Equal(t, parentTraceID, w.Header().Get("X-Trace-ID"))

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/boom", nil))
	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/health", nil))

	spans := rec.Ended()
	require.Len(t, spans, 2)
	assert.Equal(t, parentTraceID, spans[0].SpanContext().TraceID().String())
	assert.NotEqual(t, codes.Error, spans[0].Status().Code)
	assert.Equal(t, codes.Error, spans[1].Status().Code)
}
