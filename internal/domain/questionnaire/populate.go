package questionnaire

import (
	"github.com/rs/zerolog"
)

// ExpressionEvaluator evaluates a population expression against a launch
// context. Names in context are available to the expression as %name.
type ExpressionEvaluator interface {
	Evaluate(expression string, context map[string]interface{}) ([]interface{}, error)
}

// Populator seeds a response tree from a definition's initial values and
// population expressions.
type Populator struct {
	evaluator ExpressionEvaluator
	logger    zerolog.Logger
}

// NewPopulator creates a Populator. evaluator may be nil, in which case
// population expressions are skipped.
func NewPopulator(evaluator ExpressionEvaluator, logger zerolog.Logger) *Populator {
	return &Populator{evaluator: evaluator, logger: logger}
}

// PopulateResult carries the populated tree and counters.
type PopulateResult struct {
	Items     []ResponseItem `json:"item"`
	Populated int            `json:"populated"`
	Total     int            `json:"total"`
}

// PopulateQuestionnaire emits one response node per definition node. Items
// get answers from initial[] and then, when present and producing a value,
// from their population expression. Expression failures are logged and
// leave the item unanswered.
func (p *Populator) PopulateQuestionnaire(items []Item, context map[string]interface{}) []ResponseItem {
	return p.Populate(items, context).Items
}

// Populate is PopulateQuestionnaire with counters.
func (p *Populator) Populate(items []Item, context map[string]interface{}) PopulateResult {
	var res PopulateResult
	res.Items = p.populateLevel(items, context, &res)
	return res
}

func (p *Populator) populateLevel(items []Item, context map[string]interface{}, res *PopulateResult) []ResponseItem {
	if len(items) == 0 {
		return nil
	}
	out := make([]ResponseItem, 0, len(items))
	for i := range items {
		item := &items[i]
		res.Total++

		node := ResponseItem{LinkID: item.LinkID, Text: item.Text}
		for _, initial := range item.Initial {
			if a, ok := convertInitial(initial); ok {
				node.Answer = append(node.Answer, a)
			}
		}
		if a, ok := p.evaluateInitialExpression(item, context); ok {
			node.Answer = []Answer{a}
		}
		if len(node.Answer) > 0 {
			res.Populated++
		}

		node.Item = p.populateLevel(item.Item, context, res)
		out = append(out, node)
	}
	return out
}

func (p *Populator) evaluateInitialExpression(item *Item, context map[string]interface{}) (Answer, bool) {
	expr, ok := item.InitialExpression()
	if !ok {
		return Answer{}, false
	}
	log := p.logger.With().Str("link_id", item.LinkID).Str("expression", expr.Expression).Logger()

	if p.evaluator == nil {
		log.Debug().Msg("no expression evaluator configured, skipping initial expression")
		return Answer{}, false
	}
	if expr.Language != "" && expr.Language != ExpressionLanguageFHIRPath {
		log.Warn().Str("language", expr.Language).Msg("unsupported expression language")
		return Answer{}, false
	}

	results, err := p.evaluator.Evaluate(expr.Expression, context)
	if err != nil {
		log.Warn().Err(err).Msg("initial expression evaluation failed")
		return Answer{}, false
	}
	if len(results) == 0 {
		return Answer{}, false
	}
	return ConvertToAnswer(results[0], item.Type), true
}

// convertInitial passes each typed initial value through the codec for its
// own type.
func convertInitial(initial Answer) (Answer, bool) {
	switch initial.Kind() {
	case AnswerKindString:
		return ConvertToAnswer(*initial.ValueString, ItemTypeString), true
	case AnswerKindInteger:
		return ConvertToAnswer(*initial.ValueInteger, ItemTypeInteger), true
	case AnswerKindDecimal:
		return ConvertToAnswer(*initial.ValueDecimal, ItemTypeDecimal), true
	case AnswerKindBoolean:
		return ConvertToAnswer(*initial.ValueBoolean, ItemTypeBoolean), true
	case AnswerKindDate:
		return ConvertToAnswer(*initial.ValueDate, ItemTypeDate), true
	case AnswerKindDateTime:
		return ConvertToAnswer(*initial.ValueDateTime, ItemTypeDateTime), true
	case AnswerKindCoding:
		return ConvertToAnswer(*initial.ValueCoding, ItemTypeCoding), true
	case AnswerKindNone:
		return Answer{}, false
	}
	return Answer{}, false
}
