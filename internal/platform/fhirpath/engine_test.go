package fhirpath

import (
	"strings"
	"testing"
	"time"
)

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func mustEval(t *testing.T, e *Engine, vars map[string]interface{}, expr string) []interface{} {
	t.Helper()
	result, err := e.Evaluate(expr, vars)
	if err != nil {
		t.Fatalf("Evaluate(%q) unexpected error: %v", expr, err)
	}
	return result
}

func samplePatient() map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Patient",
		"id":           "pt-123",
		"active":       true,
		"birthDate":    "1990-03-15",
		"gender":       "male",
		"name": []interface{}{
			map[string]interface{}{
				"use":    "official",
				"family": "Smith",
				"given":  []interface{}{"John", "Michael"},
			},
			map[string]interface{}{
				"use":    "nickname",
				"family": "Smith",
				"given":  []interface{}{"Johnny"},
			},
		},
		"telecom": []interface{}{
			map[string]interface{}{"system": "phone", "value": "555-0100", "use": "home"},
			map[string]interface{}{"system": "email", "value": "john@example.com", "use": "work"},
		},
		"multipleBirthInteger": float64(2),
	}
}

func launchContext() map[string]interface{} {
	return map[string]interface{}{
		"patient": samplePatient(),
		"encounter": map[string]interface{}{
			"resourceType": "Encounter",
			"id":           "enc-1",
			"status":       "in-progress",
		},
	}
}

// ---------------------------------------------------------------------------
// Navigation
// ---------------------------------------------------------------------------

func TestEvaluate_Variables(t *testing.T) {
	e := NewEngine()
	vars := launchContext()

	tests := []struct {
		expr string
		want []interface{}
	}{
		{"%patient.gender", []interface{}{"male"}},
		{"%patient.name.first().given.first()", []interface{}{"John"}},
		{"%patient.name.where(use = 'nickname').given", []interface{}{"Johnny"}},
		{"%patient.name.given", []interface{}{"John", "Michael", "Johnny"}},
		{"%patient.name.family.distinct()", []interface{}{"Smith"}},
		{"%patient.telecom.where(system = 'email').value", []interface{}{"john@example.com"}},
		{"%patient.name[1].use", []interface{}{"nickname"}},
		{"%encounter.status", []interface{}{"in-progress"}},
		{"%patient.birthDate", []interface{}{"1990-03-15"}},
		{"%patient.multipleBirthInteger", []interface{}{float64(2)}},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got := mustEval(t, e, vars, tt.expr)
			if len(got) != len(tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("result[%d]: expected %v, got %v", i, tt.want[i], got[i])
				}
			}
		})
	}
}

func TestEvaluate_RootResource(t *testing.T) {
	e := NewEngine()
	vars := map[string]interface{}{RootVariable: samplePatient()}

	got := mustEval(t, e, vars, "Patient.name.first().family")
	if len(got) != 1 || got[0] != "Smith" {
		t.Errorf("expected [Smith], got %v", got)
	}

	got = mustEval(t, e, vars, "Observation.status")
	if len(got) != 0 {
		t.Errorf("expected empty for mismatched type, got %v", got)
	}

	got = mustEval(t, e, vars, "gender")
	if len(got) != 1 || got[0] != "male" {
		t.Errorf("expected [male], got %v", got)
	}
}

func TestEvaluate_MissingPath(t *testing.T) {
	e := NewEngine()
	got := mustEval(t, e, launchContext(), "%patient.deceasedDateTime")
	if len(got) != 0 {
		t.Errorf("expected empty collection, got %v", got)
	}
	got = mustEval(t, e, launchContext(), "%patient.name[5].family")
	if len(got) != 0 {
		t.Errorf("expected empty collection for out-of-range index, got %v", got)
	}
}

func TestEvaluate_UndefinedVariable(t *testing.T) {
	e := NewEngine()
	_, err := e.Evaluate("%practitioner.name", launchContext())
	if err == nil {
		t.Fatal("expected error for undefined variable")
	}
	if !strings.Contains(err.Error(), "undefined variable") {
		t.Errorf("unexpected error: %v", err)
	}
}

// ---------------------------------------------------------------------------
// Operators
// ---------------------------------------------------------------------------

func TestEvaluateBool(t *testing.T) {
	e := NewEngine()
	vars := launchContext()

	tests := []struct {
		expr string
		want bool
	}{
		{"%patient.active", true},
		{"%patient.active = true", true},
		{"%patient.gender = 'female'", false},
		{"%patient.gender != 'female'", true},
		{"%patient.multipleBirthInteger > 1", true},
		{"%patient.multipleBirthInteger <= 1", false},
		{"%patient.name.count() = 2", true},
		{"%patient.name.exists(use = 'official')", true},
		{"%patient.name.all(family = 'Smith')", true},
		{"%patient.deceasedBoolean.exists()", false},
		{"%patient.deceasedBoolean.empty()", true},
		{"%patient.birthDate < @2000-01-01", true},
		{"%patient.birthDate >= @1990-03-15", true},
		{"%patient.active and %patient.gender = 'male'", true},
		{"%patient.gender = 'female' or %encounter.status = 'in-progress'", true},
		{"%patient.gender = 'female' implies false", true},
		{"%patient.gender.startsWith('ma')", true},
		{"%patient.gender.contains('x')", false},
		{"(%patient.active).not()", false},
	}

	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			got, err := e.EvaluateBool(tt.expr, vars)
			if err != nil {
				t.Fatalf("EvaluateBool(%q) unexpected error: %v", tt.expr, err)
			}
			if got != tt.want {
				t.Errorf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestEvaluate_StringOperators(t *testing.T) {
	e := NewEngine()
	vars := launchContext()

	got := mustEval(t, e, vars, "%patient.name.first().given.first() & ' ' & %patient.name.first().family")
	if len(got) != 1 || got[0] != "John Smith" {
		t.Errorf("expected [John Smith], got %v", got)
	}

	got = mustEval(t, e, vars, "%patient.name.first().given.join(', ')")
	if len(got) != 1 || got[0] != "John, Michael" {
		t.Errorf("expected [John, Michael], got %v", got)
	}

	got = mustEval(t, e, vars, "%patient.gender.upper()")
	if len(got) != 1 || got[0] != "MALE" {
		t.Errorf("expected [MALE], got %v", got)
	}
}

func TestEvaluate_Arithmetic(t *testing.T) {
	e := NewEngine()
	got := mustEval(t, e, nil, "1 + 2")
	if len(got) != 1 || got[0] != int64(3) {
		t.Errorf("expected [3], got %v", got)
	}
	got = mustEval(t, e, nil, "1.5 + 2")
	if len(got) != 1 || got[0] != 3.5 {
		t.Errorf("expected [3.5], got %v", got)
	}
}

func TestEvaluate_Conversions(t *testing.T) {
	e := NewEngine()
	vars := map[string]interface{}{"score": "42", "weight": "72.5"}

	got := mustEval(t, e, vars, "%score.toInteger()")
	if len(got) != 1 || got[0] != int64(42) {
		t.Errorf("expected [42], got %v", got)
	}
	got = mustEval(t, e, vars, "%weight.toDecimal()")
	if len(got) != 1 || got[0] != 72.5 {
		t.Errorf("expected [72.5], got %v", got)
	}
	got = mustEval(t, e, vars, "%weight.toInteger()")
	if len(got) != 0 {
		t.Errorf("expected empty for non-integer string, got %v", got)
	}
}

func TestEvaluate_Iif(t *testing.T) {
	e := NewEngine()
	vars := launchContext()
	got := mustEval(t, e, vars, "iif(%patient.gender = 'male', 'M', 'F')")
	if len(got) != 1 || got[0] != "M" {
		t.Errorf("expected [M], got %v", got)
	}
}

func TestEvaluate_TodayIsFHIRDate(t *testing.T) {
	e := NewEngine()
	got := mustEval(t, e, nil, "today()")
	if len(got) != 1 {
		t.Fatalf("expected one result, got %v", got)
	}
	s, ok := got[0].(string)
	if !ok {
		t.Fatalf("expected string result, got %T", got[0])
	}
	if _, err := time.Parse("2006-01-02", s); err != nil {
		t.Errorf("expected YYYY-MM-DD, got %q", s)
	}
}

func TestEvaluate_Union(t *testing.T) {
	e := NewEngine()
	got := mustEval(t, e, launchContext(), "%patient.name.family | %patient.gender")
	if len(got) != 2 {
		t.Errorf("expected 2 distinct values, got %v", got)
	}
}

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

func TestEvaluate_Errors(t *testing.T) {
	e := NewEngine()
	tests := []string{
		"",
		"%patient.name.",
		"%patient.name.where(",
		"'unterminated",
		"%patient.name.frobnicate()",
		"%patient.gender = ",
		"%",
		"a ! b",
	}
	for _, expr := range tests {
		t.Run(expr, func(t *testing.T) {
			if _, err := e.Evaluate(expr, launchContext()); err == nil {
				t.Errorf("expected error for %q", expr)
			}
		})
	}
}

func TestEngine_CachesParsedExpressions(t *testing.T) {
	e := NewEngine()
	vars := launchContext()
	mustEval(t, e, vars, "%patient.gender")
	if _, ok := e.cache.Load("%patient.gender"); !ok {
		t.Fatal("expected parsed expression to be cached")
	}
	got := mustEval(t, e, vars, "%patient.gender")
	if len(got) != 1 || got[0] != "male" {
		t.Errorf("expected [male] from cached expression, got %v", got)
	}
}
