package questionnaire

// EvaluateEnableWhen reports whether item is currently enabled given the full
// response tree. It is pure: visibility is recomputed from scratch on every
// call.
//
// A condition whose target is missing or unanswered is false, except for
// "exists", which then yields the negation of answerBoolean. Ordering
// operators compare valueInteger, else valueDecimal, else 0 on both sides, so
// an unanswered numeric question compares as zero.
func EvaluateEnableWhen(item *Item, tree []ResponseItem) bool {
	if len(item.EnableWhen) == 0 {
		return true
	}

	anyOf := item.EnableBehavior == EnableBehaviorAny
	for i := range item.EnableWhen {
		ok := evaluateCondition(&item.EnableWhen[i], tree)
		if anyOf && ok {
			return true
		}
		if !anyOf && !ok {
			return false
		}
	}
	return !anyOf
}

func evaluateCondition(cond *EnableWhenCondition, tree []ResponseItem) bool {
	target := FindResponseItem(tree, cond.Question)
	if target == nil || len(target.Answer) == 0 {
		if cond.Operator == OperatorExists {
			return !expectedBool(cond)
		}
		return false
	}
	answer := &target.Answer[0]

	switch cond.Operator {
	case OperatorExists:
		return expectedBool(cond)
	case OperatorEqual:
		return answersEqual(cond, answer)
	case OperatorNotEqual:
		return !answersEqual(cond, answer)
	case OperatorGreater:
		return numericValue(answer.ValueInteger, answer.ValueDecimal) > numericValue(cond.AnswerInteger, cond.AnswerDecimal)
	case OperatorLess:
		return numericValue(answer.ValueInteger, answer.ValueDecimal) < numericValue(cond.AnswerInteger, cond.AnswerDecimal)
	case OperatorGreaterOrEqual:
		return numericValue(answer.ValueInteger, answer.ValueDecimal) >= numericValue(cond.AnswerInteger, cond.AnswerDecimal)
	case OperatorLessOrEqual:
		return numericValue(answer.ValueInteger, answer.ValueDecimal) <= numericValue(cond.AnswerInteger, cond.AnswerDecimal)
	default:
		return false
	}
}

func expectedBool(cond *EnableWhenCondition) bool {
	return cond.AnswerBoolean != nil && *cond.AnswerBoolean
}

// answersEqual compares the first expected field set on the condition, in
// the order string, integer, decimal, boolean, coding code, against the same
// field of the answer.
func answersEqual(cond *EnableWhenCondition, answer *Answer) bool {
	switch {
	case cond.AnswerString != nil:
		return answer.ValueString != nil && *answer.ValueString == *cond.AnswerString
	case cond.AnswerInteger != nil:
		return answer.ValueInteger != nil && *answer.ValueInteger == *cond.AnswerInteger
	case cond.AnswerDecimal != nil:
		return answer.ValueDecimal != nil && *answer.ValueDecimal == *cond.AnswerDecimal
	case cond.AnswerBoolean != nil:
		return answer.ValueBoolean != nil && *answer.ValueBoolean == *cond.AnswerBoolean
	case cond.AnswerCoding != nil:
		return answer.ValueCoding != nil && answer.ValueCoding.Code == cond.AnswerCoding.Code
	default:
		return false
	}
}

func numericValue(i *int64, d *float64) float64 {
	if i != nil {
		return float64(*i)
	}
	if d != nil {
		return *d
	}
	return 0
}

// EnabledLinkIDs evaluates every definition item against tree. An item under
// a disabled parent is reported disabled.
func EnabledLinkIDs(items []Item, tree []ResponseItem) map[string]bool {
	enabled := make(map[string]bool)
	markEnabled(items, tree, true, enabled)
	return enabled
}

func markEnabled(items []Item, tree []ResponseItem, parentEnabled bool, out map[string]bool) {
	for i := range items {
		on := parentEnabled && EvaluateEnableWhen(&items[i], tree)
		out[items[i].LinkID] = on
		markEnabled(items[i].Item, tree, on, out)
	}
}

// FindItem returns the definition item with linkID in a depth-first walk of
// items, or nil.
func FindItem(items []Item, linkID string) *Item {
	for i := range items {
		if items[i].LinkID == linkID {
			return &items[i]
		}
		if found := FindItem(items[i].Item, linkID); found != nil {
			return found
		}
	}
	return nil
}
