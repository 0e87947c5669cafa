package fhirclient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/Patient/pt-1", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != mimeFHIRJSON {
			t.Errorf("expected Accept %s, got %s", mimeFHIRJSON, r.Header.Get("Accept"))
		}
		w.Header().Set("Content-Type", mimeFHIRJSON)
		w.Write([]byte(`{"resourceType":"Patient","id":"pt-1","gender":"female"}`))
	})
	mux.HandleFunc("/Encounter/enc-1", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"resourceType":"Encounter","id":"enc-1","status":"finished"}`))
	})
	mux.HandleFunc("/Patient/wrong-type", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"resourceType":"Observation","id":"wrong-type"}`))
	})
	mux.HandleFunc("/Patient/broken", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"resourceType":"OperationOutcome","issue":[{"severity":"error","code":"exception","diagnostics":"database unavailable"}]}`))
	})
	mux.HandleFunc("/Patient/gone", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusGone)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClient_Read(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL+"/", 5*time.Second, zerolog.Nop())

	patient, err := c.Read(context.Background(), "Patient", "pt-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if patient["gender"] != "female" {
		t.Errorf("expected gender female, got %v", patient["gender"])
	}
}

func TestClient_Read_NotFound(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, 5*time.Second, zerolog.Nop())

	for _, id := range []string{"missing", "gone"} {
		_, err := c.Read(context.Background(), "Patient", id)
		if !errors.Is(err, ErrNotFound) {
			t.Errorf("%s: expected ErrNotFound, got %v", id, err)
		}
	}
}

func TestClient_Read_ServerError(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, 5*time.Second, zerolog.Nop())

	_, err := c.Read(context.Background(), "Patient", "broken")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "database unavailable") {
		t.Errorf("expected diagnostics in error, got %v", err)
	}
}

func TestClient_Read_WrongResourceType(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, 5*time.Second, zerolog.Nop())

	if _, err := c.Read(context.Background(), "Patient", "wrong-type"); err == nil {
		t.Fatal("expected error for mismatched resourceType")
	}
}

func TestClient_ResolveLaunchContext(t *testing.T) {
	srv := newTestServer(t)
	c := New(srv.URL, 5*time.Second, zerolog.Nop())

	launch, err := c.ResolveLaunchContext(context.Background(), "Patient/pt-1", "enc-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	patient, ok := launch["patient"].(map[string]interface{})
	if !ok || patient["id"] != "pt-1" {
		t.Errorf("expected patient pt-1, got %v", launch["patient"])
	}
	enc, ok := launch["encounter"].(map[string]interface{})
	if !ok || enc["status"] != "finished" {
		t.Errorf("expected encounter enc-1, got %v", launch["encounter"])
	}
}

func TestClient_ResolveLaunchContext_Empty(t *testing.T) {
	c := New("http://unused.invalid", time.Second, zerolog.Nop())
	launch, err := c.ResolveLaunchContext(context.Background(), "", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(launch) != 0 {
		t.Errorf("expected empty context, got %v", launch)
	}
}

func TestSplitReference(t *testing.T) {
	tests := []struct {
		ref, def, wantType, wantID string
	}{
		{"Patient/123", "Patient", "Patient", "123"},
		{"123", "Patient", "Patient", "123"},
		{"Encounter/e1", "Patient", "Encounter", "e1"},
		{"/x", "Patient", "Patient", "/x"},
	}
	for _, tt := range tests {
		rt, id := splitReference(tt.ref, tt.def)
		if rt != tt.wantType || id != tt.wantID {
			t.Errorf("splitReference(%q) = %s, %s; want %s, %s", tt.ref, rt, id, tt.wantType, tt.wantID)
		}
	}
}
