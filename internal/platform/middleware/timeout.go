package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/pmendyk-crypto/vetting-app/internal/platform/apperr"
)

// RequestTimeout sets a context deadline on each request and answers 504
// when the deadline passes before a response is written. Batch report
// exports under /api/v1/reports/ render one PDF per case and are exempt.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if strings.HasPrefix(c.Request().URL.Path, "/api/v1/reports/") {
				return next(c)
			}

			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()

			c.SetRequest(c.Request().WithContext(ctx))

			// Database calls observe ctx, so a slow handler returns soon
			// after the deadline with a context error.
			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				if herr := gatewayTimeoutError(c); herr != nil {
					return herr
				}
			}
			return err
		}
	}
}

func gatewayTimeoutError(c echo.Context) error {
	if c.Response().Committed {
		return nil
	}
	return echo.NewHTTPError(http.StatusGatewayTimeout, apperr.Response{
		Message: "request processing exceeded the allowed time limit",
		Code:    "timeout",
	})
}
