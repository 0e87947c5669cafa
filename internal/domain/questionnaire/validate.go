package questionnaire

import (
	"fmt"
	"unicode/utf8"
)

// ValidationResult is advisory: Errors are displayed verbatim and the caller
// decides whether they block submission.
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

// ValidateResponse walks the definition and the response tree together,
// pairing items by linkId level by level. Required items are only reported
// while they are enabled.
func ValidateResponse(items []Item, tree []ResponseItem) ValidationResult {
	errs := validateLevel(items, tree, tree, []string{})
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}

func validateLevel(items []Item, level []ResponseItem, full []ResponseItem, errs []string) []string {
	for i := range items {
		item := &items[i]
		resp := findAtLevel(level, item.LinkID)

		if item.Required && (resp == nil || len(resp.Answer) == 0) && EvaluateEnableWhen(item, full) {
			errs = append(errs, fmt.Sprintf("Required field \"%s\" is missing", item.label()))
		}

		if item.MaxLength != nil && resp != nil {
			for _, a := range resp.Answer {
				if a.ValueString != nil && utf8.RuneCountInString(*a.ValueString) > *item.MaxLength {
					errs = append(errs, fmt.Sprintf("Field \"%s\" exceeds maximum length of %d", item.label(), *item.MaxLength))
					break
				}
			}
		}

		var children []ResponseItem
		if resp != nil {
			children = resp.Item
		}
		errs = validateLevel(item.Item, children, full, errs)
	}
	return errs
}

func findAtLevel(level []ResponseItem, linkID string) *ResponseItem {
	for i := range level {
		if level[i].LinkID == linkID {
			return &level[i]
		}
	}
	return nil
}

// ValidateDefinition checks the invariants of a form definition that the
// engine relies on. Duplicate linkIds are errors; conditions that reference
// unknown items and maxLength on non-text items are returned as warnings,
// since evaluation tolerates them.
func ValidateDefinition(items []Item) (warnings []string, err error) {
	seen := make(map[string]int)
	var walk func([]Item)
	walk = func(level []Item) {
		for i := range level {
			seen[level[i].LinkID]++
			walk(level[i].Item)
		}
	}
	walk(items)

	var dupes []string
	var check func([]Item)
	check = func(level []Item) {
		for i := range level {
			it := &level[i]
			if it.LinkID == "" {
				dupes = append(dupes, "item without linkId")
			} else if seen[it.LinkID] > 1 {
				dupes = append(dupes, it.LinkID)
				seen[it.LinkID] = 1
			}
			if !it.Type.Valid() {
				warnings = append(warnings, fmt.Sprintf("item %q has unknown type %q", it.LinkID, it.Type))
			}
			if it.MaxLength != nil && it.Type != ItemTypeString && it.Type != ItemTypeText {
				warnings = append(warnings, fmt.Sprintf("item %q sets maxLength on type %q", it.LinkID, it.Type))
			}
			for _, cond := range it.EnableWhen {
				if _, ok := seen[cond.Question]; !ok {
					warnings = append(warnings, fmt.Sprintf("item %q enableWhen references unknown question %q", it.LinkID, cond.Question))
				}
			}
			check(it.Item)
		}
	}
	check(items)

	if len(dupes) > 0 {
		return warnings, fmt.Errorf("%w: %v", ErrInvalidDefinition, dupes)
	}
	return warnings, nil
}
