package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"1024", 1024},
		{"512K", 512 << 10},
		{"512kb", 512 << 10},
		{"1M", 1 << 20},
		{"4MB", 4 << 20},
		{"2G", 2 << 30},
		{"", 1 << 20},
		{"lots", 1 << 20},
		{"-5", 1 << 20},
	}
	for _, tt := range tests {
		if got := parseLimit(tt.in); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func readAll(c echo.Context) error {
	if _, err := io.ReadAll(c.Request().Body); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPut, "/api/v1/questionnaire-responses/r/answers/q", strings.NewReader(`{"value":1}`)), rec)

	if err := BodyLimit("1K", "1M")(readAll)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestBodyLimit_RejectsByContentLength(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodPut, "/api/v1/questionnaire-responses/r/answers/q", strings.NewReader(strings.Repeat("x", 2048))), rec)

	if err := BodyLimit("1K", "1M")(readAll)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "too-costly") {
		t.Errorf("expected OperationOutcome body, got %s", rec.Body.String())
	}
}

func TestBodyLimit_DefinitionLimit(t *testing.T) {
	e := echo.New()
	body := strings.Repeat("x", 2048)
	for _, path := range []string{"/api/v1/questionnaires", "/fhir/Questionnaire/"} {
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)), rec)
		if err := BodyLimit("1K", "1M")(readAll)(c); err != nil {
			t.Fatalf("%s: unexpected error: %v", path, err)
		}
		if rec.Code != http.StatusNoContent {
			t.Errorf("%s: expected definition limit to apply, got %d", path, rec.Code)
		}
	}
}

func TestBodyLimit_SkipsNilBody(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/api/v1/questionnaires", nil), rec)
	if err := BodyLimit("1", "1")(okHandler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestBodyLimit_EnforcesLimitDuringRead(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/x", strings.NewReader(strings.Repeat("x", 2048)))
	req.ContentLength = -1
	c := e.NewContext(req, httptest.NewRecorder())

	err := BodyLimit("1K", "1M")(readAll)(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 error while reading, got %v", err)
	}
}
