// Package fhirclient reads resources from an external FHIR R4 server and
// assembles population launch contexts from them.
package fhirclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

const mimeFHIRJSON = "application/fhir+json"

// ErrNotFound is returned when the server answers 404 or 410.
var ErrNotFound = errors.New("fhir resource not found")

type operationOutcome struct {
	Issue []struct {
		Severity    string `json:"severity"`
		Code        string `json:"code"`
		Diagnostics string `json:"diagnostics"`
	} `json:"issue"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

func New(baseURL string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "fhirclient").Logger(),
	}
}

// Read fetches resourceType/id.
func (c *Client) Read(ctx context.Context, resourceType, id string) (map[string]interface{}, error) {
	endpoint := fmt.Sprintf("%s/%s/%s", c.baseURL, resourceType, url.PathEscape(id))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", mimeFHIRJSON)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error().Err(err).Str("url", endpoint).Msg("fhir read failed")
		return nil, fmt.Errorf("read %s/%s: %w", resourceType, id, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("url", endpoint).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("fhir read")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s/%s body: %w", resourceType, id, err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return nil, fmt.Errorf("%s/%s: %w", resourceType, id, ErrNotFound)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("read %s/%s: %s", resourceType, id, describeFailure(resp.StatusCode, body))
	}

	var resource map[string]interface{}
	if err := json.Unmarshal(body, &resource); err != nil {
		return nil, fmt.Errorf("decode %s/%s: %w", resourceType, id, err)
	}
	if rt, _ := resource["resourceType"].(string); rt != resourceType {
		return nil, fmt.Errorf("read %s/%s: server returned resourceType %q", resourceType, id, rt)
	}
	return resource, nil
}

func describeFailure(status int, body []byte) string {
	var oo operationOutcome
	if err := json.Unmarshal(body, &oo); err == nil && len(oo.Issue) > 0 && oo.Issue[0].Diagnostics != "" {
		return fmt.Sprintf("status %d: %s", status, oo.Issue[0].Diagnostics)
	}
	return fmt.Sprintf("status %d", status)
}

// ResolveLaunchContext loads the subject (a "Patient/<id>" reference or a
// bare id) as "patient" and, when given, the encounter as "encounter".
func (c *Client) ResolveLaunchContext(ctx context.Context, subject, encounter string) (map[string]interface{}, error) {
	launch := make(map[string]interface{}, 2)
	if subject != "" {
		rt, id := splitReference(subject, "Patient")
		patient, err := c.Read(ctx, rt, id)
		if err != nil {
			return nil, err
		}
		launch["patient"] = patient
	}
	if encounter != "" {
		rt, id := splitReference(encounter, "Encounter")
		enc, err := c.Read(ctx, rt, id)
		if err != nil {
			return nil, err
		}
		launch["encounter"] = enc
	}
	return launch, nil
}

func splitReference(ref, defaultType string) (string, string) {
	if rt, id, ok := strings.Cut(ref, "/"); ok && rt != "" && id != "" {
		return rt, id
	}
	return defaultType, ref
}
