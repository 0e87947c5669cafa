package questionnaire

import (
	"context"

	"github.com/google/uuid"
)

type QuestionnaireRepository interface {
	Create(ctx context.Context, q *Questionnaire) error
	GetByID(ctx context.Context, id uuid.UUID) (*Questionnaire, error)
	GetByFHIRID(ctx context.Context, fhirID string) (*Questionnaire, error)
	List(ctx context.Context, limit, offset int) ([]*Questionnaire, int, error)
}

type ResponseRepository interface {
	// Save inserts or replaces the stored response with the same FHIR id.
	Save(ctx context.Context, qr *QuestionnaireResponse) error
	GetByFHIRID(ctx context.Context, fhirID string) (*QuestionnaireResponse, error)
	ListByQuestionnaire(ctx context.Context, questionnaireID uuid.UUID, limit, offset int) ([]*QuestionnaireResponse, int, error)
}

// DraftStore holds in-progress response trees between edits.
type DraftStore interface {
	Get(ctx context.Context, id string) (*QuestionnaireResponse, error)
	Put(ctx context.Context, qr *QuestionnaireResponse) error
	Delete(ctx context.Context, id string) error
}

// ContextResolver builds the population launch context for a subject, e.g.
// {"patient": {...}, "encounter": {...}}.
type ContextResolver interface {
	ResolveLaunchContext(ctx context.Context, subject, encounter string) (map[string]interface{}, error)
}
