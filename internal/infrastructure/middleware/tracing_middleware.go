package middleware

import (
	"net/http"

	"playloop/pkg/tracing"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

const traceIDHeader = "X-Trace-ID"

// TracingMiddleware opens one span per request, continuing a trace from
// incoming W3C headers. Requests to skipPaths (health checks, scrapes) are not
// traced. Only 5xx responses mark the span as failed.
func TracingMiddleware(skipPaths ...string) gin.HandlerFunc {
	skip := make(map[string]struct{}, len(skipPaths))
	for _, p := range skipPaths {
		skip[p] = struct{}{}
	}

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}

		parent := otel.GetTextMapPropagator().Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))
		ctx, span := tracing.TraceHTTPRequest(parent, c.Request.Method, route)
		defer span.End()

		span.SetAttributes(
			attribute.String("http.host", c.Request.Host),
			attribute.String("http.user_agent", c.Request.UserAgent()),
			attribute.String("http.client_ip", c.ClientIP()),
		)
		if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
			c.Header(traceIDHeader, sc.TraceID().String())
		}

		c.Request = c.Request.WithContext(ctx)
		c.Next()

		status := c.Writer.Status()
		span.SetAttributes(
			attribute.Int("http.status_code", status),
			attribute.Int("http.response_size", c.Writer.Size()),
		)
		if id, ok := SessionID(c); ok {
			span.SetAttributes(tracing.SessionIDKey.String(string(id)))
		}

		switch {
		case status >= http.StatusInternalServerError:
			span.SetStatus(codes.Error, c.Errors.String())
		case len(c.Errors) > 0:
			span.AddEvent("request rejected", trace.WithAttributes(
				attribute.String("error", c.Errors.String()),
			))
		}
	}
}
