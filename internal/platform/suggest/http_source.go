// Package suggest provides suggestion sources backed by external services.
package suggest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/ehr/forms/internal/domain/questionnaire"
)

type suggestRequest struct {
	Questionnaire         *questionnaire.Questionnaire         `json:"questionnaire"`
	QuestionnaireResponse *questionnaire.QuestionnaireResponse `json:"questionnaireResponse"`
}

type suggestResponse struct {
	Suggestions []questionnaire.Suggestion `json:"suggestions"`
}

// HTTPSource posts the definition and the current response to an endpoint
// that answers with {"suggestions": [...]}.
type HTTPSource struct {
	name     string
	endpoint string
	client   *http.Client
	logger   zerolog.Logger
}

func NewHTTPSource(name, endpoint string, timeout time.Duration, logger zerolog.Logger) *HTTPSource {
	return &HTTPSource{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("provider", name).Logger(),
	}
}

func (s *HTTPSource) Suggest(ctx context.Context, q *questionnaire.Questionnaire, qr *questionnaire.QuestionnaireResponse) ([]questionnaire.Suggestion, error) {
	payload, err := json.Marshal(suggestRequest{Questionnaire: q, QuestionnaireResponse: qr})
	if err != nil {
		return nil, fmt.Errorf("encode suggestion request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create suggestion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("suggestion provider %s: %w", s.name, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("suggestion provider %s: read body: %w", s.name, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("suggestion provider %s: status %d", s.name, resp.StatusCode)
	}

	var out suggestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("suggestion provider %s: decode: %w", s.name, err)
	}
	s.logger.Debug().
		Int("suggestions", len(out.Suggestions)).
		Dur("latency", time.Since(start)).
		Msg("suggestions received")
	return out.Suggestions, nil
}

// ParseProviders reads "name=url,name2=url2" into a map.
func ParseProviders(list string) (map[string]string, error) {
	providers := make(map[string]string)
	for _, entry := range strings.Split(list, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, endpoint, ok := strings.Cut(entry, "=")
		name, endpoint = strings.TrimSpace(name), strings.TrimSpace(endpoint)
		if !ok || name == "" || endpoint == "" {
			return nil, fmt.Errorf("invalid suggestion provider %q: expected name=url", entry)
		}
		if _, dup := providers[name]; dup {
			return nil, fmt.Errorf("duplicate suggestion provider %q", name)
		}
		providers[name] = endpoint
	}
	return providers, nil
}

// RegisterAll parses list and registers one HTTPSource per entry.
func RegisterAll(reg *questionnaire.SuggestionRegistry, list string, timeout time.Duration, logger zerolog.Logger) error {
	providers, err := ParseProviders(list)
	if err != nil {
		return err
	}
	for name, endpoint := range providers {
		if err := reg.Register(name, NewHTTPSource(name, endpoint, timeout, logger)); err != nil {
			return err
		}
	}
	return nil
}
