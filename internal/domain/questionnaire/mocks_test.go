package questionnaire

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// ── Mock Repositories ──

type mockQuestionnaireRepo struct {
	mu   sync.Mutex
	data map[string]*Questionnaire
}

func newMockQuestionnaireRepo() *mockQuestionnaireRepo {
	return &mockQuestionnaireRepo{data: make(map[string]*Questionnaire)}
}

func (m *mockQuestionnaireRepo) Create(_ context.Context, q *Questionnaire) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	q.UUID = uuid.New()
	if q.ID == "" {
		q.ID = q.UUID.String()
	}
	if _, exists := m.data[q.ID]; exists {
		return fmt.Errorf("questionnaire %s already exists", q.ID)
	}
	m.data[q.ID] = q
	return nil
}

func (m *mockQuestionnaireRepo) GetByID(_ context.Context, id uuid.UUID) (*Questionnaire, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, q := range m.data {
		if q.UUID == id {
			return q, nil
		}
	}
	return nil, fmt.Errorf("questionnaire %s: %w", id, ErrNotFound)
}

func (m *mockQuestionnaireRepo) GetByFHIRID(_ context.Context, fhirID string) (*Questionnaire, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if q, ok := m.data[fhirID]; ok {
		return q, nil
	}
	return nil, fmt.Errorf("questionnaire %s: %w", fhirID, ErrNotFound)
}

func (m *mockQuestionnaireRepo) List(_ context.Context, limit, offset int) ([]*Questionnaire, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Questionnaire
	for _, q := range m.data {
		out = append(out, q)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	total := len(out)
	if offset >= len(out) {
		return nil, total, nil
	}
	out = out[offset:]
	if limit < len(out) {
		out = out[:limit]
	}
	return out, total, nil
}

type mockResponseRepo struct {
	mu   sync.Mutex
	data map[string]QuestionnaireResponse
	err  error
}

func newMockResponseRepo() *mockResponseRepo {
	return &mockResponseRepo{data: make(map[string]QuestionnaireResponse)}
}

func (m *mockResponseRepo) Save(_ context.Context, qr *QuestionnaireResponse) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.data[qr.ID] = *qr
	return nil
}

func (m *mockResponseRepo) GetByFHIRID(_ context.Context, fhirID string) (*QuestionnaireResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qr, ok := m.data[fhirID]; ok {
		return &qr, nil
	}
	return nil, fmt.Errorf("questionnaire response %s: %w", fhirID, ErrNotFound)
}

func (m *mockResponseRepo) ListByQuestionnaire(_ context.Context, questionnaireID uuid.UUID, limit, offset int) ([]*QuestionnaireResponse, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*QuestionnaireResponse
	for _, qr := range m.data {
		if qr.QuestionnaireUUID == questionnaireID {
			qr := qr
			out = append(out, &qr)
		}
	}
	return out, len(out), nil
}

// ── Fakes ──

type fakeEvaluator struct {
	results map[string][]interface{}
	calls   []string
}

func (f *fakeEvaluator) Evaluate(expression string, context map[string]interface{}) ([]interface{}, error) {
	f.calls = append(f.calls, expression)
	if expression == "boom" {
		return nil, errors.New("evaluation failed")
	}
	return f.results[expression], nil
}

type fakeResolver struct {
	launch map[string]interface{}
	err    error
	calls  int
}

func (f *fakeResolver) ResolveLaunchContext(_ context.Context, subject, encounter string) (map[string]interface{}, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.launch, nil
}

type fakeSource struct {
	suggestions []Suggestion
	err         error
}

func (f *fakeSource) Suggest(_ context.Context, _ *Questionnaire, _ *QuestionnaireResponse) ([]Suggestion, error) {
	return f.suggestions, f.err
}

// ── Fixtures ──

func ptr[T any](v T) *T { return &v }

func expressionExt(expr string) []Extension {
	return []Extension{{
		URL:             InitialExpressionURL,
		ValueExpression: &Expression{Language: ExpressionLanguageFHIRPath, Expression: expr},
	}}
}

// intakeQuestionnaire is a small definition exercising enableWhen, nesting,
// maxLength and population.
func intakeQuestionnaire() *Questionnaire {
	return &Questionnaire{
		ResourceType: "Questionnaire",
		ID:           "intake",
		URL:          "http://example.org/Questionnaire/intake",
		Title:        "Intake",
		Status:       "active",
		Item: []Item{
			{LinkID: "name", Type: ItemTypeString, Text: "Name", Required: true, Extension: expressionExt("%patient.name")},
			{LinkID: "smoker", Type: ItemTypeBoolean, Text: "Do you smoke?"},
			{
				LinkID: "packs", Type: ItemTypeInteger, Text: "Packs per day",
				EnableWhen: []EnableWhenCondition{{Question: "smoker", Operator: OperatorEqual, AnswerBoolean: ptr(true)}},
			},
			{LinkID: "notes", Type: ItemTypeText, MaxLength: ptr(10)},
			{
				LinkID: "history", Type: ItemTypeGroup, Text: "History",
				Item: []Item{
					{LinkID: "age", Type: ItemTypeInteger, Text: "Age", Required: true},
				},
			},
			{LinkID: "intro", Type: ItemTypeDisplay, Text: "Please answer honestly"},
		},
	}
}
