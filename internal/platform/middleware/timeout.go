package middleware

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/forms/internal/platform/fhir"
)

// RequestTimeout puts a deadline on the request context. Repository, redis
// and FHIR client calls observe it; when the deadline has passed and nothing
// was written yet the client gets 504 with an OperationOutcome.
func RequestTimeout(timeout time.Duration) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			ctx, cancel := context.WithTimeout(c.Request().Context(), timeout)
			defer cancel()
			c.SetRequest(c.Request().WithContext(ctx))

			err := next(c)
			if errors.Is(ctx.Err(), context.DeadlineExceeded) && !c.Response().Committed {
				return c.JSON(http.StatusGatewayTimeout, fhir.NewOperationOutcome(
					fhir.IssueSeverityError, fhir.IssueTypeTimeout,
					"Request processing exceeded the allowed time limit"))
			}
			return err
		}
	}
}
