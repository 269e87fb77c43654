package server

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel"

	"github.com/nittaya1990/spiced/auth"
	"github.com/nittaya1990/spiced/request"
)

// requestContextMiddleware derives the request context from the HTTP
// headers, opens the request span and installs both for everything
// downstream.
func requestContextMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			r := c.Request()
			ctx, span := otel.Tracer("spiced.server").Start(r.Context(), r.Method+" "+c.Path())
			defer span.End()

			rc := request.NewBuilder(request.ProtocolHTTP).
				WithCacheControl(request.CacheControlFromHeaders(r.Header)).
				WithUserAgent(r.UserAgent()).
				WithSpan(span).
				Build()
			c.SetRequest(r.WithContext(request.NewContext(ctx, rc)))
			span.SetAttributes(rc.Dimensions()...)
			return next(c)
		}
	}
}

// authMiddleware verifies credentials and attaches the principal to the
// request context.
func authMiddleware(verifier auth.Verifier) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			principal, err := verifier.AuthenticateHTTP(c.Request())
			if err != nil {
				return err
			}
			rc := request.FromContext(c.Request().Context())
			rc.SetPrincipal(principal)
			if span := rc.Span(); span != nil {
				span.SetAttributes(rc.Dimensions()...)
			}
			return next(c)
		}
	}
}
