package questionnaire

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Suggestion is a proposed answer produced by an AI suggestion source.
type Suggestion struct {
	LinkID         string      `json:"linkId"`
	SuggestedValue interface{} `json:"suggestedValue"`
	Confidence     float64     `json:"confidence"`
	Reasoning      string      `json:"reasoning,omitempty"`
}

// SuggestionSource proposes answers for a response in progress.
type SuggestionSource interface {
	Suggest(ctx context.Context, q *Questionnaire, qr *QuestionnaireResponse) ([]Suggestion, error)
}

// SuggestionRegistry maps provider names to sources. Callers construct one
// and pass it to whatever needs provider lookup.
type SuggestionRegistry struct {
	mu      sync.RWMutex
	sources map[string]SuggestionSource
}

func NewSuggestionRegistry() *SuggestionRegistry {
	return &SuggestionRegistry{sources: make(map[string]SuggestionSource)}
}

// Register adds a source under name. Names are unique.
func (r *SuggestionRegistry) Register(name string, src SuggestionSource) error {
	if name == "" {
		return fmt.Errorf("suggestion provider name is required")
	}
	if src == nil {
		return fmt.Errorf("suggestion provider %q is nil", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sources[name]; exists {
		return fmt.Errorf("suggestion provider %q already registered", name)
	}
	r.sources[name] = src
	return nil
}

func (r *SuggestionRegistry) Get(name string) (SuggestionSource, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, name)
	}
	return src, nil
}

// Names returns the registered provider names in sorted order.
func (r *SuggestionRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyOptions controls which suggestions ApplySuggestions accepts.
type ApplyOptions struct {
	MinConfidence float64
	// Overwrite replaces answers the user already gave.
	Overwrite bool
}

// ApplySuggestions converts each accepted suggestion through the codec using
// the definition item's type and applies it with UpdateAnswer. Suggestions
// for unknown linkIds, group and display items, or below MinConfidence are
// skipped. It returns the new tree and the linkIds that were applied.
func ApplySuggestions(items []Item, tree []ResponseItem, suggestions []Suggestion, opts ApplyOptions) ([]ResponseItem, []string) {
	var applied []string
	for _, s := range suggestions {
		if s.Confidence < opts.MinConfidence {
			continue
		}
		item := FindItem(items, s.LinkID)
		if item == nil || item.Type == ItemTypeGroup || item.Type == ItemTypeDisplay {
			continue
		}
		if !opts.Overwrite {
			if existing := FindResponseItem(tree, s.LinkID); existing != nil && len(existing.Answer) > 0 {
				continue
			}
		}
		answer := ConvertToAnswer(s.SuggestedValue, item.Type)
		tree = UpdateAnswer(tree, s.LinkID, &answer)
		applied = append(applied, s.LinkID)
	}
	return tree, applied
}
