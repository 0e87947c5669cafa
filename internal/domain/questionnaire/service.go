package questionnaire

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// StartOptions describes how a new response session is seeded.
type StartOptions struct {
	Subject   string
	Encounter string
	// LaunchContext entries override those resolved from the FHIR store.
	LaunchContext map[string]interface{}
	// PriorResponseID copies the answers of a stored response instead of
	// running population.
	PriorResponseID string
}

type Service struct {
	questionnaires QuestionnaireRepository
	responses      ResponseRepository
	drafts         DraftStore
	populator      *Populator
	resolver       ContextResolver
	suggestions    *SuggestionRegistry
	logger         zerolog.Logger

	locks sync.Map // response id -> *sync.Mutex
}

func NewService(questionnaires QuestionnaireRepository, responses ResponseRepository, drafts DraftStore, populator *Populator, logger zerolog.Logger) *Service {
	return &Service{
		questionnaires: questionnaires,
		responses:      responses,
		drafts:         drafts,
		populator:      populator,
		logger:         logger,
	}
}

// SetContextResolver attaches an optional launch context resolver.
func (s *Service) SetContextResolver(r ContextResolver) {
	s.resolver = r
}

// SetSuggestionRegistry attaches the registry used by ApplySuggestions.
func (s *Service) SetSuggestionRegistry(reg *SuggestionRegistry) {
	s.suggestions = reg
}

// lock serializes edits to one response.
func (s *Service) lock(id string) func() {
	m, _ := s.locks.LoadOrStore(id, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// -- Questionnaire --

func (s *Service) CreateQuestionnaire(ctx context.Context, q *Questionnaire) error {
	warnings, err := ValidateDefinition(q.Item)
	if err != nil {
		return err
	}
	for _, w := range warnings {
		s.logger.Warn().Str("questionnaire", q.ID).Msg(w)
	}
	q.ResourceType = "Questionnaire"
	if q.Status == "" {
		q.Status = "active"
	}
	if err := s.questionnaires.Create(ctx, q); err != nil {
		return fmt.Errorf("create questionnaire: %w", err)
	}
	return nil
}

func (s *Service) GetQuestionnaire(ctx context.Context, fhirID string) (*Questionnaire, error) {
	return s.questionnaires.GetByFHIRID(ctx, fhirID)
}

func (s *Service) ListQuestionnaires(ctx context.Context, limit, offset int) ([]*Questionnaire, int, error) {
	return s.questionnaires.List(ctx, limit, offset)
}

// -- Population --

// launchContext merges resolved context with caller-supplied entries.
func (s *Service) launchContext(ctx context.Context, subject, encounter string, supplied map[string]interface{}) (map[string]interface{}, error) {
	launch := make(map[string]interface{})
	if s.resolver != nil && (subject != "" || encounter != "") {
		resolved, err := s.resolver.ResolveLaunchContext(ctx, subject, encounter)
		if err != nil {
			return nil, fmt.Errorf("resolve launch context: %w", err)
		}
		for k, v := range resolved {
			launch[k] = v
		}
	}
	for k, v := range supplied {
		launch[k] = v
	}
	return launch, nil
}

// Populate builds a pre-filled response for the questionnaire without
// storing anything.
func (s *Service) Populate(ctx context.Context, questionnaireID, subject, encounter string, supplied map[string]interface{}) (*QuestionnaireResponse, PopulateResult, error) {
	q, err := s.questionnaires.GetByFHIRID(ctx, questionnaireID)
	if err != nil {
		return nil, PopulateResult{}, err
	}
	launch, err := s.launchContext(ctx, subject, encounter, supplied)
	if err != nil {
		return nil, PopulateResult{}, err
	}
	res := s.populator.Populate(q.Item, launch)
	qr := NewQuestionnaireResponse(q, subject)
	qr.Item = res.Items
	return qr, res, nil
}

// -- Response sessions --

func (s *Service) StartResponse(ctx context.Context, questionnaireID string, opts StartOptions) (*QuestionnaireResponse, error) {
	var qr *QuestionnaireResponse
	if opts.PriorResponseID != "" {
		q, err := s.questionnaires.GetByFHIRID(ctx, questionnaireID)
		if err != nil {
			return nil, err
		}
		prior, err := s.GetResponse(ctx, opts.PriorResponseID)
		if err != nil {
			return nil, fmt.Errorf("load prior response: %w", err)
		}
		if prior.QuestionnaireUUID != q.UUID {
			return nil, fmt.Errorf("prior response %s belongs to a different questionnaire: %w", opts.PriorResponseID, ErrNotFound)
		}
		subject := opts.Subject
		if subject == "" && prior.Subject != nil {
			subject = prior.Subject.Reference
		}
		qr = NewQuestionnaireResponse(q, subject)
		qr.Item = prior.Item
	} else {
		var res PopulateResult
		var err error
		qr, res, err = s.Populate(ctx, questionnaireID, opts.Subject, opts.Encounter, opts.LaunchContext)
		if err != nil {
			return nil, err
		}
		s.logger.Info().
			Str("questionnaire", questionnaireID).
			Str("response", qr.ID).
			Int("populated", res.Populated).
			Int("total", res.Total).
			Msg("response session started")
	}

	if err := s.drafts.Put(ctx, qr); err != nil {
		return nil, fmt.Errorf("store draft: %w", err)
	}
	return qr, nil
}

// GetResponse returns the current draft if one exists, otherwise the stored
// response.
func (s *Service) GetResponse(ctx context.Context, id string) (*QuestionnaireResponse, error) {
	qr, err := s.drafts.Get(ctx, id)
	if err == nil {
		return qr, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	return s.responses.GetByFHIRID(ctx, id)
}

func (s *Service) ListResponses(ctx context.Context, questionnaireID string, limit, offset int) ([]*QuestionnaireResponse, int, error) {
	q, err := s.questionnaires.GetByFHIRID(ctx, questionnaireID)
	if err != nil {
		return nil, 0, err
	}
	return s.responses.ListByQuestionnaire(ctx, q.UUID, limit, offset)
}

// session loads a response that can still be edited along with its
// definition.
func (s *Service) session(ctx context.Context, id string) (*QuestionnaireResponse, *Questionnaire, error) {
	qr, err := s.GetResponse(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if qr.Status != StatusInProgress {
		return nil, nil, fmt.Errorf("response %s is %s: %w", id, qr.Status, ErrNotInProgress)
	}
	q, err := s.questionnaires.GetByID(ctx, qr.QuestionnaireUUID)
	if err != nil {
		return nil, nil, fmt.Errorf("load questionnaire for response %s: %w", id, err)
	}
	return qr, q, nil
}

// UpdateAnswer converts value by the item's type and applies it. A nil value
// clears the answer.
func (s *Service) UpdateAnswer(ctx context.Context, id, linkID string, value interface{}) (*QuestionnaireResponse, error) {
	unlock := s.lock(id)
	defer unlock()

	qr, q, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}
	item := FindItem(q.Item, linkID)
	if item == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLinkID, linkID)
	}
	if item.Type == ItemTypeGroup || item.Type == ItemTypeDisplay {
		return nil, fmt.Errorf("%s is a %s item: %w", linkID, item.Type, ErrNotAnswerable)
	}

	var answer *Answer
	if value != nil {
		a := ConvertToAnswer(value, item.Type)
		answer = &a
	}
	qr.Item = UpdateAnswer(qr.Item, linkID, answer)
	if err := s.drafts.Put(ctx, qr); err != nil {
		return nil, fmt.Errorf("store draft: %w", err)
	}
	return qr, nil
}

func (s *Service) EnabledItems(ctx context.Context, id string) (map[string]bool, error) {
	qr, err := s.GetResponse(ctx, id)
	if err != nil {
		return nil, err
	}
	q, err := s.questionnaires.GetByID(ctx, qr.QuestionnaireUUID)
	if err != nil {
		return nil, err
	}
	return EnabledLinkIDs(q.Item, qr.Item), nil
}

func (s *Service) Validate(ctx context.Context, id string) (ValidationResult, error) {
	qr, err := s.GetResponse(ctx, id)
	if err != nil {
		return ValidationResult{}, err
	}
	q, err := s.questionnaires.GetByID(ctx, qr.QuestionnaireUUID)
	if err != nil {
		return ValidationResult{}, err
	}
	return ValidateResponse(q.Item, qr.Item), nil
}

// ApplySuggestions asks the named provider for suggestions and applies the
// accepted ones to the draft.
func (s *Service) ApplySuggestions(ctx context.Context, id, provider string, opts ApplyOptions) (*QuestionnaireResponse, []string, error) {
	if s.suggestions == nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnknownProvider, provider)
	}
	src, err := s.suggestions.Get(provider)
	if err != nil {
		return nil, nil, err
	}

	unlock := s.lock(id)
	defer unlock()

	qr, q, err := s.session(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	suggestions, err := src.Suggest(ctx, q, qr)
	if err != nil {
		return nil, nil, fmt.Errorf("suggest: %w", err)
	}

	var applied []string
	qr.Item, applied = ApplySuggestions(q.Item, qr.Item, suggestions, opts)
	s.logger.Info().
		Str("response", id).
		Str("provider", provider).
		Int("received", len(suggestions)).
		Int("applied", len(applied)).
		Msg("suggestions applied")

	if err := s.drafts.Put(ctx, qr); err != nil {
		return nil, nil, fmt.Errorf("store draft: %w", err)
	}
	return qr, applied, nil
}

// SaveDraft persists the in-progress response; the draft stays editable.
func (s *Service) SaveDraft(ctx context.Context, id string) (*QuestionnaireResponse, error) {
	unlock := s.lock(id)
	defer unlock()

	qr, _, err := s.session(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.responses.Save(ctx, qr); err != nil {
		return nil, fmt.Errorf("save response: %w", err)
	}
	return qr, nil
}

// Submit validates the response and stores it as completed. An incomplete
// response is left untouched and ErrIncomplete is returned with the result.
func (s *Service) Submit(ctx context.Context, id string) (*QuestionnaireResponse, ValidationResult, error) {
	unlock := s.lock(id)
	defer unlock()

	qr, q, err := s.session(ctx, id)
	if err != nil {
		return nil, ValidationResult{}, err
	}
	result := ValidateResponse(q.Item, qr.Item)
	if !result.Valid {
		return qr, result, ErrIncomplete
	}

	qr.Status = StatusCompleted
	qr.Authored = time.Now().UTC().Format(time.RFC3339)
	if err := s.responses.Save(ctx, qr); err != nil {
		return nil, result, fmt.Errorf("save response: %w", err)
	}
	if err := s.drafts.Delete(ctx, id); err != nil {
		s.logger.Warn().Err(err).Str("response", id).Msg("failed to delete draft after submit")
	}
	s.locks.Delete(id)
	return qr, result, nil
}
