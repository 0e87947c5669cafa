package fhir

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// OperationOutcome severity levels per FHIR R4.
const (
	IssueSeverityFatal       = "fatal"
	IssueSeverityError       = "error"
	IssueSeverityWarning     = "warning"
	IssueSeverityInformation = "information"
)

// OperationOutcome issue type codes used by this service.
const (
	IssueTypeInvalid      = "invalid"
	IssueTypeRequired     = "required"
	IssueTypeNotFound     = "not-found"
	IssueTypeProcessing   = "processing"
	IssueTypeSecurity     = "security"
	IssueTypeLogin        = "login"
	IssueTypeThrottled    = "throttled"
	IssueTypeNotSupported = "not-supported"
	IssueTypeBusinessRule = "business-rule"
	IssueTypeException    = "exception"
	IssueTypeDuplicate    = "duplicate"
	IssueTypeTooCostly    = "too-costly"
	IssueTypeTimeout      = "timeout"

	IssueTypeInformational = "informational"
)

type OperationOutcome struct {
	ResourceType string                  `json:"resourceType"`
	Issue        []OperationOutcomeIssue `json:"issue"`
}

type OperationOutcomeIssue struct {
	Severity    string   `json:"severity"`
	Code        string   `json:"code"`
	Diagnostics string   `json:"diagnostics,omitempty"`
	Expression  []string `json:"expression,omitempty"`
}

func NewOperationOutcome(severity, code, diagnostics string) *OperationOutcome {
	return &OperationOutcome{
		ResourceType: "OperationOutcome",
		Issue: []OperationOutcomeIssue{
			{Severity: severity, Code: code, Diagnostics: diagnostics},
		},
	}
}

func ErrorOutcome(diagnostics string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeProcessing, diagnostics)
}

func NotFoundOutcome(resourceType, id string) *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeNotFound, resourceType+"/"+id+" not found")
}

// ThrottleOutcome is returned with 429 responses.
func ThrottleOutcome() *OperationOutcome {
	return NewOperationOutcome(IssueSeverityError, IssueTypeThrottled,
		"Rate limit exceeded. Please retry after a delay.")
}

// MessagesOutcome builds one issue per message, all with the same severity
// and code. An empty list yields a single informational "All OK" issue.
func MessagesOutcome(severity, code string, messages []string) *OperationOutcome {
	if len(messages) == 0 {
		return NewOperationOutcome(IssueSeverityInformation, IssueTypeInformational, "All OK")
	}
	oo := &OperationOutcome{ResourceType: "OperationOutcome"}
	for _, msg := range messages {
		oo.Issue = append(oo.Issue, OperationOutcomeIssue{
			Severity:    severity,
			Code:        code,
			Diagnostics: msg,
		})
	}
	return oo
}

// HasErrors reports whether the outcome contains any error or fatal issue.
func (o *OperationOutcome) HasErrors() bool {
	for _, issue := range o.Issue {
		if issue.Severity == IssueSeverityError || issue.Severity == IssueSeverityFatal {
			return true
		}
	}
	return false
}

// issueTypeForStatus picks the issue code for an HTTP status.
func issueTypeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return IssueTypeInvalid
	case http.StatusUnauthorized:
		return IssueTypeLogin
	case http.StatusForbidden:
		return IssueTypeSecurity
	case http.StatusNotFound:
		return IssueTypeNotFound
	case http.StatusMethodNotAllowed:
		return IssueTypeNotSupported
	case http.StatusConflict:
		return IssueTypeBusinessRule
	case http.StatusTooManyRequests:
		return IssueTypeThrottled
	default:
		if status >= 500 {
			return IssueTypeException
		}
		return IssueTypeProcessing
	}
}

// ErrorHandler renders every error that reaches echo as an OperationOutcome.
// Errors that are not *echo.HTTPError become 500s and are logged.
func ErrorHandler(logger zerolog.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status := http.StatusInternalServerError
		msg := "internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			msg = fmt.Sprint(he.Message)
		} else {
			logger.Error().Err(err).
				Str("method", c.Request().Method).
				Str("path", c.Path()).
				Msg("unhandled error")
		}

		oo := NewOperationOutcome(IssueSeverityError, issueTypeForStatus(status), msg)
		var writeErr error
		if c.Request().Method == http.MethodHead {
			writeErr = c.NoContent(status)
		} else {
			writeErr = c.JSON(status, oo)
		}
		if writeErr != nil {
			logger.Error().Err(writeErr).Msg("failed to write error response")
		}
	}
}
