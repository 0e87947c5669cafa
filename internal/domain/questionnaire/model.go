package questionnaire

import (
	"time"

	"github.com/google/uuid"
)

// ItemType is the closed set of questionnaire item types. Every switch over
// ItemType in this package lists all members; Valid reports membership.
type ItemType string

const (
	ItemTypeGroup       ItemType = "group"
	ItemTypeDisplay     ItemType = "display"
	ItemTypeBoolean     ItemType = "boolean"
	ItemTypeDecimal     ItemType = "decimal"
	ItemTypeInteger     ItemType = "integer"
	ItemTypeDate        ItemType = "date"
	ItemTypeDateTime    ItemType = "dateTime"
	ItemTypeTime        ItemType = "time"
	ItemTypeString      ItemType = "string"
	ItemTypeText        ItemType = "text"
	ItemTypeURL         ItemType = "url"
	ItemTypeChoice      ItemType = "choice"
	ItemTypeOpenChoice  ItemType = "open-choice"
	ItemTypeAttachment  ItemType = "attachment"
	ItemTypeReference   ItemType = "reference"
	ItemTypeQuantity    ItemType = "quantity"
	ItemTypeCoding      ItemType = "coding"
	ItemTypeUnspecified ItemType = ""
)

var allItemTypes = []ItemType{
	ItemTypeGroup, ItemTypeDisplay, ItemTypeBoolean, ItemTypeDecimal,
	ItemTypeInteger, ItemTypeDate, ItemTypeDateTime, ItemTypeTime,
	ItemTypeString, ItemTypeText, ItemTypeURL, ItemTypeChoice,
	ItemTypeOpenChoice, ItemTypeAttachment, ItemTypeReference,
	ItemTypeQuantity, ItemTypeCoding,
}

// Valid reports whether t is one of the known item types.
func (t ItemType) Valid() bool {
	for _, known := range allItemTypes {
		if t == known {
			return true
		}
	}
	return false
}

// EnableBehavior combines multiple enableWhen conditions.
type EnableBehavior string

const (
	EnableBehaviorAll EnableBehavior = "all"
	EnableBehaviorAny EnableBehavior = "any"
)

// Operator is an enableWhen comparison operator.
type Operator string

const (
	OperatorExists         Operator = "exists"
	OperatorEqual          Operator = "="
	OperatorNotEqual       Operator = "!="
	OperatorGreater        Operator = ">"
	OperatorLess           Operator = "<"
	OperatorGreaterOrEqual Operator = ">="
	OperatorLessOrEqual    Operator = "<="
)

// SDC extension carrying the population expression of an item.
const InitialExpressionURL = "http://hl7.org/fhir/uv/sdc/StructureDefinition/sdc-questionnaire-initialExpression"

// ExpressionLanguageFHIRPath is the only expression language population evaluates.
const ExpressionLanguageFHIRPath = "text/fhirpath"

// Coding is a coded value.
type Coding struct {
	System  string `json:"system,omitempty"`
	Code    string `json:"code"`
	Display string `json:"display,omitempty"`
}

// Expression is a FHIR Expression datatype.
type Expression struct {
	Language   string `json:"language"`
	Expression string `json:"expression"`
	Name       string `json:"name,omitempty"`
}

// Extension is the subset of FHIR extensions the engine reads.
type Extension struct {
	URL             string      `json:"url"`
	ValueExpression *Expression `json:"valueExpression,omitempty"`
	ValueString     *string     `json:"valueString,omitempty"`
}

// AnswerOption is a permitted answer of a choice item: a coding or a plain string.
type AnswerOption struct {
	ValueCoding *Coding `json:"valueCoding,omitempty"`
	ValueString *string `json:"valueString,omitempty"`
}

// EnableWhenCondition makes an item's visibility depend on another item's answer.
// Exactly one Answer* field is expected to be set.
type EnableWhenCondition struct {
	Question      string   `json:"question"`
	Operator      Operator `json:"operator"`
	AnswerString  *string  `json:"answerString,omitempty"`
	AnswerInteger *int64   `json:"answerInteger,omitempty"`
	AnswerDecimal *float64 `json:"answerDecimal,omitempty"`
	AnswerBoolean *bool    `json:"answerBoolean,omitempty"`
	AnswerCoding  *Coding  `json:"answerCoding,omitempty"`
}

// Item is a node of the immutable form definition. LinkID is unique across
// the whole tree, not just among siblings.
type Item struct {
	LinkID         string                `json:"linkId"`
	Type           ItemType              `json:"type"`
	Text           string                `json:"text,omitempty"`
	Required       bool                  `json:"required,omitempty"`
	Repeats        bool                  `json:"repeats,omitempty"`
	ReadOnly       bool                  `json:"readOnly,omitempty"`
	MaxLength      *int                  `json:"maxLength,omitempty"`
	AnswerOption   []AnswerOption        `json:"answerOption,omitempty"`
	EnableWhen     []EnableWhenCondition `json:"enableWhen,omitempty"`
	EnableBehavior EnableBehavior        `json:"enableBehavior,omitempty"`
	Initial        []Answer              `json:"initial,omitempty"`
	Extension      []Extension           `json:"extension,omitempty"`
	Item           []Item                `json:"item,omitempty"`
}

// InitialExpression returns the item's population expression, if any.
func (it *Item) InitialExpression() (Expression, bool) {
	for _, ext := range it.Extension {
		if ext.URL == InitialExpressionURL && ext.ValueExpression != nil {
			return *ext.ValueExpression, true
		}
	}
	return Expression{}, false
}

// label is the human-facing name used in validation messages.
func (it *Item) label() string {
	if it.Text != "" {
		return it.Text
	}
	return it.LinkID
}

// Answer is a tagged union: exactly one Value* field is set.
type Answer struct {
	ValueString   *string  `json:"valueString,omitempty"`
	ValueInteger  *int64   `json:"valueInteger,omitempty"`
	ValueDecimal  *float64 `json:"valueDecimal,omitempty"`
	ValueBoolean  *bool    `json:"valueBoolean,omitempty"`
	ValueDate     *string  `json:"valueDate,omitempty"`
	ValueDateTime *string  `json:"valueDateTime,omitempty"`
	ValueCoding   *Coding  `json:"valueCoding,omitempty"`
}

// AnswerKind names the populated variant of an Answer.
type AnswerKind int

const (
	AnswerKindNone AnswerKind = iota
	AnswerKindString
	AnswerKindInteger
	AnswerKindDecimal
	AnswerKindBoolean
	AnswerKindDate
	AnswerKindDateTime
	AnswerKindCoding
)

// Kind returns the first populated variant.
func (a Answer) Kind() AnswerKind {
	switch {
	case a.ValueString != nil:
		return AnswerKindString
	case a.ValueInteger != nil:
		return AnswerKindInteger
	case a.ValueDecimal != nil:
		return AnswerKindDecimal
	case a.ValueBoolean != nil:
		return AnswerKindBoolean
	case a.ValueDate != nil:
		return AnswerKindDate
	case a.ValueDateTime != nil:
		return AnswerKindDateTime
	case a.ValueCoding != nil:
		return AnswerKindCoding
	default:
		return AnswerKindNone
	}
}

func StringAnswer(v string) Answer { return Answer{ValueString: &v} }
func IntegerAnswer(v int64) Answer { return Answer{ValueInteger: &v} }
func DecimalAnswer(v float64) Answer { return Answer{ValueDecimal: &v} }
func BooleanAnswer(v bool) Answer { return Answer{ValueBoolean: &v} }
func DateAnswer(v string) Answer { return Answer{ValueDate: &v} }
func DateTimeAnswer(v string) Answer { return Answer{ValueDateTime: &v} }
func CodingAnswer(v Coding) Answer { return Answer{ValueCoding: &v} }

// ResponseItem is a node of the mutable response tree. The engine keeps at
// most one entry in Answer.
type ResponseItem struct {
	LinkID string         `json:"linkId"`
	Text   string         `json:"text,omitempty"`
	Answer []Answer       `json:"answer,omitempty"`
	Item   []ResponseItem `json:"item,omitempty"`
}

// Questionnaire is the FHIR Questionnaire document holding an item tree.
type Questionnaire struct {
	ResourceType string    `json:"resourceType"`
	ID           string    `json:"id,omitempty"`
	URL          string    `json:"url,omitempty"`
	Title        string    `json:"title,omitempty"`
	Status       string    `json:"status,omitempty"`
	Item         []Item    `json:"item,omitempty"`
	UUID         uuid.UUID `json:"-"`
}

// Reference points at another FHIR resource.
type Reference struct {
	Reference string `json:"reference"`
	Display   string `json:"display,omitempty"`
}

// Response statuses.
const (
	StatusInProgress = "in-progress"
	StatusCompleted  = "completed"
)

// QuestionnaireResponse is the FHIR QuestionnaireResponse document holding a
// response tree.
type QuestionnaireResponse struct {
	ResourceType  string         `json:"resourceType"`
	ID            string         `json:"id"`
	Questionnaire string         `json:"questionnaire,omitempty"`
	Status        string         `json:"status"`
	Subject       *Reference     `json:"subject,omitempty"`
	Authored      string         `json:"authored,omitempty"`
	Item          []ResponseItem `json:"item,omitempty"`

	QuestionnaireUUID uuid.UUID `json:"-"`
	UpdatedAt         time.Time `json:"-"`
}

// NewQuestionnaireResponse creates an in-progress response shell for q.
func NewQuestionnaireResponse(q *Questionnaire, subject string) *QuestionnaireResponse {
	qr := &QuestionnaireResponse{
		ResourceType:      "QuestionnaireResponse",
		ID:                uuid.New().String(),
		Status:            StatusInProgress,
		Authored:          time.Now().UTC().Format(time.RFC3339),
		QuestionnaireUUID: q.UUID,
	}
	if q.URL != "" {
		qr.Questionnaire = q.URL
	} else if q.ID != "" {
		qr.Questionnaire = "Questionnaire/" + q.ID
	}
	if subject != "" {
		qr.Subject = &Reference{Reference: subject}
	}
	return qr
}
