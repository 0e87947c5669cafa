package questionnaire

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestValidateResponse(t *testing.T) {
	items := intakeQuestionnaire().Item

	tests := []struct {
		name string
		tree []ResponseItem
		want []string
	}{
		{
			name: "empty response",
			tree: nil,
			want: []string{`Required field "Name" is missing`, `Required field "Age" is missing`},
		},
		{
			name: "all required answered",
			tree: []ResponseItem{
				answered("name", StringAnswer("Ada")),
				{LinkID: "history", Item: []ResponseItem{answered("age", IntegerAnswer(36))}},
			},
		},
		{
			name: "stub without answer counts as missing",
			tree: []ResponseItem{
				{LinkID: "name"},
				{LinkID: "history", Item: []ResponseItem{answered("age", IntegerAnswer(36))}},
			},
			want: []string{`Required field "Name" is missing`},
		},
		{
			name: "nested answer appended at top level is not seen",
			tree: []ResponseItem{
				answered("name", StringAnswer("Ada")),
				answered("age", IntegerAnswer(36)),
			},
			want: []string{`Required field "Age" is missing`},
		},
		{
			name: "max length exceeded",
			tree: []ResponseItem{
				answered("name", StringAnswer("Ada")),
				answered("notes", StringAnswer("this is far too long")),
				{LinkID: "history", Item: []ResponseItem{answered("age", IntegerAnswer(36))}},
			},
			want: []string{`Field "notes" exceeds maximum length of 10`},
		},
		{
			name: "max length counts characters",
			tree: []ResponseItem{
				answered("name", StringAnswer("Ada")),
				answered("notes", StringAnswer("ééééééééé")),
				{LinkID: "history", Item: []ResponseItem{answered("age", IntegerAnswer(36))}},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ValidateResponse(items, tt.tree)
			if got.Valid != (len(tt.want) == 0) {
				t.Errorf("expected valid=%v, got %v", len(tt.want) == 0, got.Valid)
			}
			if diff := cmp.Diff(tt.want, got.Errors, cmpopts.EquateEmpty()); diff != "" {
				t.Errorf("errors mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestValidateResponse_DisabledRequiredIgnored(t *testing.T) {
	items := []Item{
		{LinkID: "smoker", Type: ItemTypeBoolean},
		{
			LinkID: "packs", Type: ItemTypeInteger, Text: "Packs", Required: true,
			EnableWhen: []EnableWhenCondition{{Question: "smoker", Operator: OperatorEqual, AnswerBoolean: ptr(true)}},
		},
	}

	tree := []ResponseItem{answered("smoker", BooleanAnswer(false))}
	if res := ValidateResponse(items, tree); !res.Valid {
		t.Errorf("expected disabled required item to be ignored, got %v", res.Errors)
	}

	tree = UpdateAnswer(tree, "smoker", ptr(BooleanAnswer(true)))
	res := ValidateResponse(items, tree)
	if res.Valid || len(res.Errors) != 1 || res.Errors[0] != `Required field "Packs" is missing` {
		t.Errorf("expected packs to be required once enabled, got %+v", res)
	}
}

func TestValidateResponse_LabelFallsBackToLinkID(t *testing.T) {
	items := []Item{{LinkID: "q1", Type: ItemTypeString, Required: true}}
	res := ValidateResponse(items, nil)
	if len(res.Errors) != 1 || !strings.Contains(res.Errors[0], `"q1"`) {
		t.Errorf("expected linkId in message, got %v", res.Errors)
	}
}

func TestValidateResponse_RequiredGroup(t *testing.T) {
	items := []Item{{LinkID: "g", Type: ItemTypeGroup, Text: "Group", Required: true, Item: []Item{{LinkID: "x", Type: ItemTypeString}}}}
	tree := []ResponseItem{{LinkID: "g", Item: []ResponseItem{answered("x", StringAnswer("v"))}}}

	res := ValidateResponse(items, tree)
	if res.Valid {
		t.Error("expected a required group without its own answer to be reported")
	}
}

func TestValidateDefinition(t *testing.T) {
	warnings, err := ValidateDefinition(intakeQuestionnaire().Item)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 0 {
		t.Errorf("expected no warnings, got %v", warnings)
	}
}

func TestValidateDefinition_Duplicates(t *testing.T) {
	items := []Item{
		{LinkID: "a", Type: ItemTypeString},
		{LinkID: "g", Type: ItemTypeGroup, Item: []Item{{LinkID: "a", Type: ItemTypeString}}},
	}
	_, err := ValidateDefinition(items)
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Fatalf("expected ErrInvalidDefinition, got %v", err)
	}
	if !strings.Contains(err.Error(), "a") {
		t.Errorf("expected the duplicate linkId in the error, got %v", err)
	}
}

func TestValidateDefinition_MissingLinkID(t *testing.T) {
	_, err := ValidateDefinition([]Item{{Type: ItemTypeString}})
	if !errors.Is(err, ErrInvalidDefinition) {
		t.Errorf("expected ErrInvalidDefinition, got %v", err)
	}
}

func TestValidateDefinition_Warnings(t *testing.T) {
	items := []Item{
		{LinkID: "slider", Type: ItemType("slider")},
		{LinkID: "num", Type: ItemTypeInteger, MaxLength: ptr(3)},
		{
			LinkID: "dep", Type: ItemTypeString,
			EnableWhen: []EnableWhenCondition{{Question: "ghost", Operator: OperatorExists, AnswerBoolean: ptr(true)}},
		},
	}
	warnings, err := ValidateDefinition(items)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(warnings) != 3 {
		t.Fatalf("expected 3 warnings, got %v", warnings)
	}
	for i, frag := range []string{"unknown type", "maxLength", "ghost"} {
		if !strings.Contains(warnings[i], frag) {
			t.Errorf("warning %d: expected %q in %q", i, frag, warnings[i])
		}
	}
}
