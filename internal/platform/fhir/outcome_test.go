package fhir

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

func TestNotFoundOutcome(t *testing.T) {
	oo := NotFoundOutcome("Questionnaire", "phq-9")

	if oo.ResourceType != "OperationOutcome" {
		t.Errorf("expected resourceType OperationOutcome, got %s", oo.ResourceType)
	}
	if len(oo.Issue) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(oo.Issue))
	}
	if oo.Issue[0].Code != IssueTypeNotFound {
		t.Errorf("expected code %s, got %s", IssueTypeNotFound, oo.Issue[0].Code)
	}
	if oo.Issue[0].Diagnostics != "Questionnaire/phq-9 not found" {
		t.Errorf("unexpected diagnostics: %s", oo.Issue[0].Diagnostics)
	}
	if !oo.HasErrors() {
		t.Error("NotFoundOutcome should have errors")
	}
}

func TestMessagesOutcome(t *testing.T) {
	oo := MessagesOutcome(IssueSeverityError, IssueTypeRequired, []string{
		`Required field "Name" is missing`,
		`Field "Notes" exceeds maximum length of 10`,
	})
	if len(oo.Issue) != 2 {
		t.Fatalf("expected 2 issues, got %d", len(oo.Issue))
	}
	if oo.Issue[1].Diagnostics != `Field "Notes" exceeds maximum length of 10` {
		t.Errorf("unexpected diagnostics: %s", oo.Issue[1].Diagnostics)
	}
	if !oo.HasErrors() {
		t.Error("expected errors")
	}
}

func TestMessagesOutcome_Empty(t *testing.T) {
	oo := MessagesOutcome(IssueSeverityError, IssueTypeRequired, nil)
	if len(oo.Issue) != 1 {
		t.Fatalf("expected 1 issue, got %d", len(oo.Issue))
	}
	if oo.Issue[0].Severity != IssueSeverityInformation {
		t.Errorf("expected information severity, got %s", oo.Issue[0].Severity)
	}
	if oo.HasErrors() {
		t.Error("empty outcome should not have errors")
	}
}

func TestThrottleOutcome_JSON(t *testing.T) {
	data, err := json.Marshal(ThrottleOutcome())
	if err != nil {
		t.Fatalf("failed to marshal: %v", err)
	}
	var parsed map[string]interface{}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("failed to unmarshal: %v", err)
	}
	issue := parsed["issue"].([]interface{})[0].(map[string]interface{})
	if issue["code"] != "throttled" {
		t.Errorf("expected code throttled, got %v", issue["code"])
	}
	if _, ok := issue["expression"]; ok {
		t.Error("expected expression to be omitted")
	}
}

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantDiag   string
	}{
		{"http error", echo.NewHTTPError(http.StatusNotFound, "no such route"), http.StatusNotFound, IssueTypeNotFound, "no such route"},
		{"forbidden", echo.NewHTTPError(http.StatusForbidden, "insufficient permissions"), http.StatusForbidden, IssueTypeSecurity, "insufficient permissions"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, IssueTypeException, "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			rec := httptest.NewRecorder()
			c := e.NewContext(req, rec)

			ErrorHandler(zerolog.Nop())(tt.err, c)

			if rec.Code != tt.wantStatus {
				t.Errorf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			var oo OperationOutcome
			if err := json.Unmarshal(rec.Body.Bytes(), &oo); err != nil {
				t.Fatalf("decode outcome: %v", err)
			}
			if len(oo.Issue) != 1 {
				t.Fatalf("expected 1 issue, got %d", len(oo.Issue))
			}
			if oo.Issue[0].Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, oo.Issue[0].Code)
			}
			if oo.Issue[0].Diagnostics != tt.wantDiag {
				t.Errorf("expected diagnostics %q, got %q", tt.wantDiag, oo.Issue[0].Diagnostics)
			}
		})
	}
}
