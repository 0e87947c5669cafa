// Package fhirpath evaluates the FHIRPath subset used by questionnaire
// population expressions against JSON-shaped resources.
package fhirpath

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
)

// RootVariable names the context entry used as the initial focus. When it is
// absent, expressions must start from a %variable.
const RootVariable = "resource"

// Engine evaluates expressions. Parsed expressions are cached, so one Engine
// should be shared.
type Engine struct {
	cache sync.Map // expression -> *astNode
}

func NewEngine() *Engine {
	return &Engine{}
}

// Evaluate runs expression with the given variables, which are addressable as
// %name. Date and dateTime results are returned in their FHIR string forms.
func (e *Engine) Evaluate(expression string, vars map[string]interface{}) ([]interface{}, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("fhirpath: empty expression")
	}

	ast, err := e.compile(expression)
	if err != nil {
		return nil, fmt.Errorf("fhirpath: %w", err)
	}

	ctx := &evalContext{vars: vars}
	var focus []interface{}
	if root, ok := vars[RootVariable]; ok && root != nil {
		focus = []interface{}{root}
	}
	result, err := ctx.eval(ast, focus)
	if err != nil {
		return nil, fmt.Errorf("fhirpath: eval: %w", err)
	}
	out := make([]interface{}, len(result))
	for i, v := range result {
		if t, ok := v.(time.Time); ok {
			v = formatTime(t)
		}
		out[i] = v
	}
	return out, nil
}

// EvaluateBool applies singleton boolean evaluation to the result.
func (e *Engine) EvaluateBool(expression string, vars map[string]interface{}) (bool, error) {
	result, err := e.Evaluate(expression, vars)
	if err != nil {
		return false, err
	}
	return collectionToBool(result), nil
}

func (e *Engine) compile(expression string) (*astNode, error) {
	if cached, ok := e.cache.Load(expression); ok {
		return cached.(*astNode), nil
	}
	ast, err := parse(expression)
	if err != nil {
		return nil, err
	}
	e.cache.Store(expression, ast)
	return ast, nil
}

func formatTime(t time.Time) string {
	if t.Hour() == 0 && t.Minute() == 0 && t.Second() == 0 && t.Nanosecond() == 0 {
		return t.Format("2006-01-02")
	}
	return t.Format(time.RFC3339)
}

// ============================================================================
// Evaluator
// ============================================================================

type evalContext struct {
	vars map[string]interface{}
}

func (ctx *evalContext) eval(node *astNode, input []interface{}) ([]interface{}, error) {
	if node == nil {
		return input, nil
	}
	switch node.kind {
	case ndLiteral:
		return []interface{}{node.value}, nil

	case ndVariable:
		v, ok := ctx.vars[node.value.(string)]
		if !ok {
			return nil, fmt.Errorf("undefined variable %%%s", node.value)
		}
		if v == nil {
			return nil, nil
		}
		if arr, isArr := v.([]interface{}); isArr {
			return arr, nil
		}
		return []interface{}{v}, nil

	case ndPath:
		name := node.value.(string)
		var result []interface{}
		for _, item := range input {
			// A leading resource type name filters the focus.
			if isTypeName(name) {
				if m, ok := item.(map[string]interface{}); ok && m["resourceType"] == name {
					result = append(result, m)
				}
				continue
			}
			result = append(result, navigateField(item, name)...)
		}
		return result, nil

	case ndDot:
		left, err := ctx.eval(node.children[0], input)
		if err != nil {
			return nil, err
		}
		return ctx.eval(node.children[1], left)

	case ndIndex:
		coll, err := ctx.eval(node.children[0], input)
		if err != nil {
			return nil, err
		}
		idx := node.value.(int)
		if idx < 0 || idx >= len(coll) {
			return nil, nil
		}
		return []interface{}{coll[idx]}, nil

	case ndFunction:
		return ctx.evalFunction(node, input)

	case ndCompare:
		return ctx.evalCompare(node, input)

	case ndAnd, ndOr, ndImplies:
		return ctx.evalLogical(node, input)

	case ndUnion:
		left, right, err := ctx.evalBoth(node, input)
		if err != nil {
			return nil, err
		}
		return distinct(append(left, right...)), nil

	case ndConcat:
		left, right, err := ctx.evalBoth(node, input)
		if err != nil {
			return nil, err
		}
		return []interface{}{singletonString(left) + singletonString(right)}, nil

	case ndPlus:
		return ctx.evalPlus(node, input)

	default:
		return nil, fmt.Errorf("unknown node kind %d", node.kind)
	}
}

func (ctx *evalContext) evalBoth(node *astNode, input []interface{}) ([]interface{}, []interface{}, error) {
	left, err := ctx.eval(node.children[0], input)
	if err != nil {
		return nil, nil, err
	}
	right, err := ctx.eval(node.children[1], input)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func navigateField(item interface{}, field string) []interface{} {
	m, ok := item.(map[string]interface{})
	if !ok {
		return nil
	}
	val, ok := m[field]
	if !ok || val == nil {
		return nil
	}
	if arr, isArr := val.([]interface{}); isArr {
		return arr
	}
	return []interface{}{val}
}

func isTypeName(name string) bool {
	return name != "" && unicode.IsUpper(rune(name[0]))
}

// ============================================================================
// Operators
// ============================================================================

func (ctx *evalContext) evalCompare(node *astNode, input []interface{}) ([]interface{}, error) {
	left, right, err := ctx.evalBoth(node, input)
	if err != nil {
		return nil, err
	}
	// Comparison against an empty collection is empty.
	if len(left) == 0 || len(right) == 0 {
		return nil, nil
	}
	result, err := compareValues(left[0], right[0], node.value.(string))
	if err != nil {
		return nil, err
	}
	return []interface{}{result}, nil
}

func compareValues(lv, rv interface{}, op string) (bool, error) {
	if ln, ok := toNumber(lv); ok {
		if rn, ok := toNumber(rv); ok {
			return compareOrdered(ln, rn, op)
		}
	}

	lb, lbOk := lv.(bool)
	rb, rbOk := rv.(bool)
	if lbOk && rbOk {
		switch op {
		case "=":
			return lb == rb, nil
		case "!=":
			return lb != rb, nil
		}
		return false, fmt.Errorf("operator %s is not defined for booleans", op)
	}

	lt, ltOk := toTime(lv)
	rt, rtOk := toTime(rv)
	if ltOk && rtOk && (isTime(lv) || isTime(rv)) {
		return compareOrdered(float64(lt.UnixNano()), float64(rt.UnixNano()), op)
	}

	return compareOrdered(fmt.Sprint(lv), fmt.Sprint(rv), op)
}

func compareOrdered[T float64 | string](l, r T, op string) (bool, error) {
	switch op {
	case "=":
		return l == r, nil
	case "!=":
		return l != r, nil
	case "<":
		return l < r, nil
	case ">":
		return l > r, nil
	case "<=":
		return l <= r, nil
	case ">=":
		return l >= r, nil
	}
	return false, fmt.Errorf("unknown comparison operator %q", op)
}

func (ctx *evalContext) evalLogical(node *astNode, input []interface{}) ([]interface{}, error) {
	left, err := ctx.eval(node.children[0], input)
	if err != nil {
		return nil, err
	}
	lb := collectionToBool(left)
	switch node.kind {
	case ndAnd:
		if !lb {
			return []interface{}{false}, nil
		}
	case ndOr:
		if lb {
			return []interface{}{true}, nil
		}
	case ndImplies:
		if !lb {
			return []interface{}{true}, nil
		}
	}
	right, err := ctx.eval(node.children[1], input)
	if err != nil {
		return nil, err
	}
	return []interface{}{collectionToBool(right)}, nil
}

func (ctx *evalContext) evalPlus(node *astNode, input []interface{}) ([]interface{}, error) {
	left, right, err := ctx.evalBoth(node, input)
	if err != nil {
		return nil, err
	}
	if len(left) == 0 || len(right) == 0 {
		return nil, nil
	}
	if li, ok := left[0].(int64); ok {
		if ri, ok := right[0].(int64); ok {
			return []interface{}{li + ri}, nil
		}
	}
	if ln, ok := toNumber(left[0]); ok {
		if rn, ok := toNumber(right[0]); ok {
			return []interface{}{ln + rn}, nil
		}
	}
	ls, lok := left[0].(string)
	rs, rok := right[0].(string)
	if lok && rok {
		return []interface{}{ls + rs}, nil
	}
	return nil, fmt.Errorf("operator + is not defined for %T and %T", left[0], right[0])
}

// ============================================================================
// Functions
// ============================================================================

func (ctx *evalContext) evalFunction(node *astNode, input []interface{}) ([]interface{}, error) {
	name := node.value.(string)
	args := node.children[1:]

	coll, err := ctx.eval(node.children[0], input)
	if err != nil {
		return nil, err
	}

	switch name {
	case "where":
		return ctx.filter(coll, args, true)
	case "select":
		return ctx.project(coll, args)
	case "exists":
		if len(args) > 0 {
			matched, err := ctx.filter(coll, args, true)
			if err != nil {
				return nil, err
			}
			return []interface{}{len(matched) > 0}, nil
		}
		return []interface{}{len(coll) > 0}, nil
	case "all":
		rejected, err := ctx.filter(coll, args, false)
		if err != nil {
			return nil, err
		}
		return []interface{}{len(rejected) == 0}, nil
	case "empty":
		return []interface{}{len(coll) == 0}, nil
	case "count":
		return []interface{}{int64(len(coll))}, nil
	case "first":
		if len(coll) == 0 {
			return nil, nil
		}
		return coll[:1], nil
	case "last":
		if len(coll) == 0 {
			return nil, nil
		}
		return coll[len(coll)-1:], nil
	case "tail":
		if len(coll) <= 1 {
			return nil, nil
		}
		return coll[1:], nil
	case "distinct":
		return distinct(coll), nil
	case "not":
		if len(coll) == 0 {
			return nil, nil
		}
		return []interface{}{!collectionToBool(coll)}, nil
	case "hasValue":
		return []interface{}{len(coll) == 1 && coll[0] != nil}, nil
	case "iif":
		return ctx.iif(args, input)
	case "today":
		now := time.Now().UTC()
		return []interface{}{time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)}, nil
	case "now":
		return []interface{}{time.Now().UTC().Truncate(time.Second)}, nil

	case "startsWith", "endsWith", "contains":
		return ctx.stringPredicate(name, coll, args, input)
	case "upper":
		return mapStrings(coll, strings.ToUpper), nil
	case "lower":
		return mapStrings(coll, strings.ToLower), nil
	case "trim":
		return mapStrings(coll, strings.TrimSpace), nil
	case "length":
		if len(coll) == 0 {
			return nil, nil
		}
		s, ok := coll[0].(string)
		if !ok {
			return nil, nil
		}
		return []interface{}{int64(len([]rune(s)))}, nil
	case "join":
		sep := ""
		if len(args) > 0 {
			sepColl, err := ctx.eval(args[0], input)
			if err != nil {
				return nil, err
			}
			sep = singletonString(sepColl)
		}
		parts := make([]string, 0, len(coll))
		for _, v := range coll {
			parts = append(parts, fmt.Sprint(v))
		}
		return []interface{}{strings.Join(parts, sep)}, nil

	case "toString":
		if len(coll) == 0 {
			return nil, nil
		}
		if t, ok := coll[0].(time.Time); ok {
			return []interface{}{formatTime(t)}, nil
		}
		return []interface{}{fmt.Sprint(coll[0])}, nil
	case "toInteger":
		if len(coll) == 0 {
			return nil, nil
		}
		if n, ok := toNumber(coll[0]); ok && n == math.Trunc(n) {
			return []interface{}{int64(n)}, nil
		}
		if s, ok := coll[0].(string); ok {
			if i, err := strconv.ParseInt(s, 10, 64); err == nil {
				return []interface{}{i}, nil
			}
		}
		return nil, nil
	case "toDecimal":
		if len(coll) == 0 {
			return nil, nil
		}
		if n, ok := toNumber(coll[0]); ok {
			return []interface{}{n}, nil
		}
		if s, ok := coll[0].(string); ok {
			if f, err := strconv.ParseFloat(s, 64); err == nil {
				return []interface{}{f}, nil
			}
		}
		return nil, nil
	case "toDate", "toDateTime":
		if len(coll) == 0 {
			return nil, nil
		}
		if t, ok := toTime(coll[0]); ok {
			return []interface{}{t}, nil
		}
		return nil, nil

	default:
		return nil, fmt.Errorf("unknown function %q", name)
	}
}

// filter keeps the items for which criteria evaluates to want.
func (ctx *evalContext) filter(coll []interface{}, args []*astNode, want bool) ([]interface{}, error) {
	if len(args) == 0 {
		if want {
			return coll, nil
		}
		return nil, nil
	}
	var result []interface{}
	for _, item := range coll {
		val, err := ctx.eval(args[0], []interface{}{item})
		if err != nil {
			return nil, err
		}
		if collectionToBool(val) == want {
			result = append(result, item)
		}
	}
	return result, nil
}

func (ctx *evalContext) project(coll []interface{}, args []*astNode) ([]interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("select requires an argument")
	}
	var result []interface{}
	for _, item := range coll {
		val, err := ctx.eval(args[0], []interface{}{item})
		if err != nil {
			return nil, err
		}
		result = append(result, val...)
	}
	return result, nil
}

func (ctx *evalContext) iif(args []*astNode, input []interface{}) ([]interface{}, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("iif requires at least two arguments")
	}
	cond, err := ctx.eval(args[0], input)
	if err != nil {
		return nil, err
	}
	if collectionToBool(cond) {
		return ctx.eval(args[1], input)
	}
	if len(args) >= 3 {
		return ctx.eval(args[2], input)
	}
	return nil, nil
}

func (ctx *evalContext) stringPredicate(name string, coll []interface{}, args []*astNode, input []interface{}) ([]interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s requires one argument", name)
	}
	if len(coll) == 0 {
		return nil, nil
	}
	s, ok := coll[0].(string)
	if !ok {
		return nil, nil
	}
	argColl, err := ctx.eval(args[0], input)
	if err != nil {
		return nil, err
	}
	arg := singletonString(argColl)
	switch name {
	case "startsWith":
		return []interface{}{strings.HasPrefix(s, arg)}, nil
	case "endsWith":
		return []interface{}{strings.HasSuffix(s, arg)}, nil
	default:
		return []interface{}{strings.Contains(s, arg)}, nil
	}
}

func mapStrings(coll []interface{}, fn func(string) string) []interface{} {
	var result []interface{}
	for _, v := range coll {
		if s, ok := v.(string); ok {
			result = append(result, fn(s))
		}
	}
	return result
}

// ============================================================================
// Helpers
// ============================================================================

// collectionToBool: empty is false, a single boolean is itself, anything else
// non-empty is true.
func collectionToBool(coll []interface{}) bool {
	if len(coll) == 0 {
		return false
	}
	if len(coll) == 1 {
		switch v := coll[0].(type) {
		case bool:
			return v
		case nil:
			return false
		}
	}
	return true
}

func singletonString(coll []interface{}) string {
	if len(coll) == 0 || coll[0] == nil {
		return ""
	}
	if t, ok := coll[0].(time.Time); ok {
		return formatTime(t)
	}
	return fmt.Sprint(coll[0])
}

func distinct(coll []interface{}) []interface{} {
	seen := make(map[string]bool, len(coll))
	var result []interface{}
	for _, v := range coll {
		key := fmt.Sprintf("%T:%v", v, v)
		if !seen[key] {
			seen[key] = true
			result = append(result, v)
		}
	}
	return result
}

func toNumber(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func isTime(v interface{}) bool {
	_, ok := v.(time.Time)
	return ok
}

func toTime(v interface{}) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, true
	case string:
		parsed, err := parseDateTime(t)
		return parsed, err == nil
	}
	return time.Time{}, false
}
