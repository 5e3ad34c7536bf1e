package usecase

import (
	"encoding/json"
	"fmt"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

// TemplateQuestions returns one example question per variant, in variant order.
func TemplateQuestions() []domain.Question {
	variants := domain.Variants()
	out := make([]domain.Question, 0, len(variants))
	for i, v := range variants {
		q := domain.Question{
			domain.FieldName:       fmt.Sprintf("example%02d99", i+1),
			domain.FieldQuestion:   fmt.Sprintf("Example %s question text", v),
			domain.FieldFamilyType: domain.FamilySingle,
			domain.FieldMoodleType: v.String(),
			"points":               json.Number("1"),
			"time_est":             json.Number("2"),
			"difficulty":           json.Number("1"),
			domain.FieldInExams:    map[string]any{},
		}
		for k, val := range templateFields(v) {
			q[k] = val
		}
		out = append(out, q)
	}
	return out
}

func templateFields(v domain.Variant) map[string]any {
	switch v {
	case domain.VariantMultichoice:
		return map[string]any{
			"correct_answers": []any{"right answer"},
			"false_answers":   []any{"wrong answer 1", "wrong answer 2"},
			"single":          json.Number("1"),
		}
	case domain.VariantNumerical:
		return map[string]any{
			"correct_answers": []any{json.Number("42")},
			"tolerance":       json.Number("0.5"),
		}
	case domain.VariantShortanswer:
		return map[string]any{
			"correct_answers": []any{"answer"},
			"usecase":         json.Number("0"),
		}
	case domain.VariantEssay:
		return map[string]any{
			"answer_files": []any{"template.docx", "solution.docx"},
		}
	case domain.VariantMatching:
		return map[string]any{
			"correct_answers": map[string]any{"question 1": "answer 1", "question 2": "answer 2"},
			"false_answers":   []any{"distractor"},
		}
	case domain.VariantGapselect:
		return map[string]any{
			"correct_answers": map[string]any{"1": "gap answer"},
			"false_answers":   map[string]any{"1": []any{"wrong gap answer"}},
		}
	case domain.VariantDDImageOrText:
		return map[string]any{
			"correct_answers":    []any{"label 1", "label 2"},
			"drops":              map[string]any{"1": []any{json.Number("10"), json.Number("20")}, "2": []any{json.Number("30"), json.Number("40")}},
			domain.FieldImgFiles: []any{"background.png"},
		}
	case domain.VariantCalculated:
		return map[string]any{
			"correct_answers": []any{"{a} + {b}"},
			"tolerance":       []any{json.Number("0.01"), "relative", json.Number("2")},
			"vars":            []any{"a", "b"},
		}
	}
	return nil
}
