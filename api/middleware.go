package api

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName        = "taskmate-sync/api"
	requestEventName  = "http.request"
	observabilityMsg  = "observability.event"
	userIDContextKey  = "userId"
	requestSpanPrefix = "http "
)

// RequestObserver wraps every request in a server span and logs one
// structured event per request carrying the route, status and duration.
func RequestObserver(logger *log.Logger) echo.MiddlewareFunc {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			route := c.Path()
			req := c.Request()
			ctx, span := otel.Tracer(tracerName).Start(req.Context(), requestSpanPrefix+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					attribute.String("http.route", route),
					attribute.String("http.method", req.Method),
				))
			defer span.End()
			c.SetRequest(req.WithContext(ctx))

			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}
			status := c.Response().Status
			elapsed := durationToMillis(time.Since(start))

			span.SetAttributes(attribute.Int("http.status_code", status))
			if status >= http.StatusInternalServerError {
				if err != nil {
					span.RecordError(err)
				}
				span.SetStatus(codes.Error, http.StatusText(status))
			} else {
				span.SetStatus(codes.Ok, "")
			}

			attrs := map[string]any{
				"http.route":       route,
				"http.method":      req.Method,
				"http.status_code": status,
				"total_ms":         elapsed,
			}
			fields := log.Fields{
				"event.name": requestEventName,
				"attributes": attrs,
				"trace_id":   span.SpanContext().TraceID().String(),
			}
			if uid, ok := c.Get(userIDContextKey).(string); ok && uid != "" {
				fields["user_id"] = uid
			}
			if err != nil {
				fields["error"] = err.Error()
			}
			entry := logger.WithFields(fields)
			if status >= http.StatusInternalServerError {
				entry.Error(observabilityMsg)
			} else {
				entry.Info(observabilityMsg)
			}
			return nil
		}
	}
}

func durationToMillis(d time.Duration) float64 {
	if d <= 0 {
		return 0
	}
	return float64(d) / float64(time.Millisecond)
}

// GzipRequestMiddleware decompresses gzip-encoded request bodies so handlers
// work with plain JSON. Invalid gzip payloads are rejected with 400.
func GzipRequestMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !hasGzipEncoding(req.Header.Get(echo.HeaderContentEncoding)) {
				return next(c)
			}
			body := req.Body
			gr, err := gzip.NewReader(body)
			if err != nil {
				_ = body.Close()
				return echo.NewHTTPError(http.StatusBadRequest, "invalid gzip body")
			}
			req.Body = &gzipReadCloser{Reader: gr, body: body}
			req.ContentLength = -1
			req.Header.Del(echo.HeaderContentEncoding)
			req.Header.Del(echo.HeaderContentLength)
			return next(c)
		}
	}
}

func hasGzipEncoding(header string) bool {
	for _, enc := range strings.Split(header, ",") {
		if strings.EqualFold(strings.TrimSpace(enc), "gzip") {
			return true
		}
	}
	return false
}

type gzipReadCloser struct {
	*gzip.Reader
	body io.Closer
}

func (g *gzipReadCloser) Close() error {
	err := g.Reader.Close()
	if cerr := g.body.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}
