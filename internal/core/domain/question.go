package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
)

const (
	CollectionQuestions = "questions"
	CollectionArchive   = "archive"
)

const (
	FieldID         = "_id"
	FieldName       = "name"
	FieldQuestion   = "question"
	FieldFamilyType = "family_type"
	FieldMoodleType = "moodle_type"
	FieldInExams    = "in_exams"
	FieldHistory    = "history"
	FieldImgFiles   = "img_files"
	FieldTables     = "tables"
)

const (
	FamilySingle = "single"
	FamilyParent = "parent"
	FamilyChild  = "child"
)

// Variant selects the moodle_type specific rule set of a question.
type Variant uint8

const (
	VariantUnknown Variant = iota
	VariantMultichoice
	VariantNumerical
	VariantShortanswer
	VariantEssay
	VariantMatching
	VariantGapselect
	VariantDDImageOrText
	VariantCalculated
)

var variantNames = [...]string{
	VariantUnknown:       "unknown",
	VariantMultichoice:   "multichoice",
	VariantNumerical:     "numerical",
	VariantShortanswer:   "shortanswer",
	VariantEssay:         "essay",
	VariantMatching:      "matching",
	VariantGapselect:     "gapselect",
	VariantDDImageOrText: "ddimageortext",
	VariantCalculated:    "calculated",
}

func (v Variant) String() string {
	if int(v) < len(variantNames) {
		return variantNames[v]
	}
	return variantNames[VariantUnknown]
}

// ParseVariant maps a moodle_type value to its Variant. Unrecognised names map to VariantUnknown.
func ParseVariant(name string) Variant {
	for i, n := range variantNames {
		if i > 0 && n == name {
			return Variant(i)
		}
	}
	return VariantUnknown
}

// Variants lists the known variants in declaration order.
func Variants() []Variant {
	out := make([]Variant, 0, len(variantNames)-1)
	for i := 1; i < len(variantNames); i++ {
		out = append(out, Variant(i))
	}
	return out
}

var nameSuffixPattern = regexp.MustCompile(`^[0-9]{4}$`)

// Question is a schema-less question document as stored in a collection.
type Question map[string]any

func (q Question) Name() string {
	name, _ := q[FieldName].(string)
	return name
}

func (q Question) FamilyType() string {
	family, _ := q[FieldFamilyType].(string)
	return family
}

// Clone returns a deep copy of the document's maps and lists.
func (q Question) Clone() Question {
	if q == nil {
		return nil
	}
	return Question(cloneValue(map[string]any(q)).(map[string]any))
}

// WithoutID returns a copy without the store-assigned identifier.
func (q Question) WithoutID() Question {
	out := q.Clone()
	delete(out, FieldID)
	return out
}

// StripEmptyOptional drops img_files and tables when they hold no entries.
func (q Question) StripEmptyOptional() {
	if v, ok := q[FieldImgFiles]; ok && isEmptyCollection(v) {
		delete(q, FieldImgFiles)
	}
	if v, ok := q[FieldTables]; ok && isEmptyCollection(v) {
		delete(q, FieldTables)
	}
}

func isEmptyCollection(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case []any:
		return len(x) == 0
	case []string:
		return len(x) == 0
	case map[string]any:
		return len(x) == 0
	}
	return false
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, val := range x {
			out[k] = cloneValue(val)
		}
		return out
	case Question:
		return cloneValue(map[string]any(x))
	case []any:
		out := make([]any, len(x))
		for i, val := range x {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}

// CategoryOf strips the four digit sequence suffix from a question name.
func CategoryOf(name string) string {
	if len(name) < 4 {
		return ""
	}
	return name[:len(name)-4]
}

// HasSequenceSuffix reports whether name ends in <2-digit seq><2-digit child seq>.
func HasSequenceSuffix(name string) bool {
	if len(name) < 4 {
		return false
	}
	return nameSuffixPattern.MatchString(name[len(name)-4:])
}

// ParentName returns the name of the parent a child question belongs to.
func ParentName(name string) (string, bool) {
	if len(name) < 2 {
		return "", false
	}
	return name[:len(name)-2] + "00", true
}

// DecodeQuestion parses a single JSON object, keeping integers and floats apart.
func DecodeQuestion(data []byte) (Question, error) {
	var q Question
	if err := decodeJSON(data, &q); err != nil {
		return nil, err
	}
	if q == nil {
		return nil, errors.New("question must be a json object")
	}
	return q, nil
}

// DecodeQuestions parses a JSON array of question objects.
func DecodeQuestions(data []byte) ([]Question, error) {
	var qs []Question
	if err := decodeJSON(data, &qs); err != nil {
		return nil, err
	}
	return qs, nil
}

// DecodeValue parses any JSON value with number preservation.
func DecodeValue(data []byte) (any, error) {
	var v any
	if err := decodeJSON(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func decodeJSON(data []byte, dst any) error {
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(dst); err != nil {
		return fmt.Errorf("decode json: %w", err)
	}
	var extra json.RawMessage
	if err := decoder.Decode(&extra); err != io.EOF {
		return errors.New("decode json: extra json tokens")
	}
	return nil
}
