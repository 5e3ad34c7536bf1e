package validation

import (
	"strings"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

// FieldSpec declares one schema field and the kinds it accepts.
type FieldSpec struct {
	Name     string
	Kinds    []Kind
	Optional bool
}

func (f FieldSpec) accepts(k Kind) bool {
	for _, want := range f.Kinds {
		if want == k {
			return true
		}
	}
	return false
}

func (f FieldSpec) expected() string {
	names := make([]string, 0, len(f.Kinds))
	for _, k := range f.Kinds {
		names = append(names, k.String())
	}
	return strings.Join(names, " or ")
}

type LengthMode string

const (
	LengthFixed LengthMode = "fixed"
	LengthMin   LengthMode = "min"
)

type LengthRule struct {
	Field string
	Mode  LengthMode
	N     int
}

type DomainRule struct {
	Field   string
	Allowed []string
}

// Schema is the full rule set of one variant, general fields included.
type Schema struct {
	Fields     []FieldSpec
	Positive   []string
	Domains    []DomainRule
	Lengths    []LengthRule
	Structural []structuralRule
}

func (s Schema) field(name string) (FieldSpec, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return FieldSpec{}, false
}

var toleranceKinds = []string{"relative", "nominal", "geometric"}

var general = Schema{
	Fields: []FieldSpec{
		{Name: domain.FieldName, Kinds: []Kind{KindString}},
		{Name: domain.FieldQuestion, Kinds: []Kind{KindString}},
		{Name: domain.FieldFamilyType, Kinds: []Kind{KindString}},
		{Name: "points", Kinds: []Kind{KindInt}},
		{Name: domain.FieldInExams, Kinds: []Kind{KindMapping}},
		{Name: "time_est", Kinds: []Kind{KindInt}},
		{Name: "difficulty", Kinds: []Kind{KindInt}},
		{Name: domain.FieldImgFiles, Kinds: []Kind{KindList}, Optional: true},
		{Name: domain.FieldTables, Kinds: []Kind{KindMapping}, Optional: true},
	},
	Positive: []string{"points", "time_est", "difficulty"},
	Domains: []DomainRule{
		{Field: domain.FieldFamilyType, Allowed: []string{domain.FamilySingle, domain.FamilyParent, domain.FamilyChild}},
	},
	Structural: []structuralRule{checkParent},
}

var variants = map[domain.Variant]Schema{
	domain.VariantMultichoice: {
		Fields: []FieldSpec{
			{Name: "correct_answers", Kinds: []Kind{KindList}},
			{Name: "false_answers", Kinds: []Kind{KindList}},
			{Name: "single", Kinds: []Kind{KindInt}, Optional: true},
		},
		Domains: []DomainRule{{Field: "single", Allowed: []string{"0", "1"}}},
		Lengths: []LengthRule{{Field: "correct_answers", Mode: LengthMin, N: 1}},
	},
	domain.VariantNumerical: {
		Fields: []FieldSpec{
			{Name: "correct_answers", Kinds: []Kind{KindList}},
			{Name: "tolerance", Kinds: []Kind{KindInt, KindFloat}},
		},
		Lengths: []LengthRule{{Field: "correct_answers", Mode: LengthMin, N: 1}},
	},
	domain.VariantShortanswer: {
		Fields: []FieldSpec{
			{Name: "correct_answers", Kinds: []Kind{KindList}},
			{Name: "usecase", Kinds: []Kind{KindInt}},
		},
		Domains: []DomainRule{{Field: "usecase", Allowed: []string{"0", "1"}}},
		Lengths: []LengthRule{{Field: "correct_answers", Mode: LengthMin, N: 1}},
	},
	domain.VariantEssay: {
		Fields: []FieldSpec{
			{Name: "answer_files", Kinds: []Kind{KindList}},
		},
		Lengths: []LengthRule{{Field: "answer_files", Mode: LengthFixed, N: 2}},
	},
	domain.VariantMatching: {
		Fields: []FieldSpec{
			{Name: "correct_answers", Kinds: []Kind{KindMapping}},
			{Name: "false_answers", Kinds: []Kind{KindList}},
		},
		Lengths: []LengthRule{{Field: "correct_answers", Mode: LengthMin, N: 2}},
	},
	domain.VariantGapselect: {
		Fields: []FieldSpec{
			{Name: "correct_answers", Kinds: []Kind{KindMapping}},
			{Name: "false_answers", Kinds: []Kind{KindMapping}},
		},
		Lengths: []LengthRule{
			{Field: "correct_answers", Mode: LengthMin, N: 1},
			{Field: "false_answers", Mode: LengthMin, N: 1},
		},
	},
	domain.VariantDDImageOrText: {
		Fields: []FieldSpec{
			{Name: "correct_answers", Kinds: []Kind{KindList}},
			{Name: "drops", Kinds: []Kind{KindMapping}},
			{Name: domain.FieldImgFiles, Kinds: []Kind{KindList}},
		},
		Lengths: []LengthRule{
			{Field: "correct_answers", Mode: LengthMin, N: 2},
			{Field: "drops", Mode: LengthMin, N: 2},
			{Field: domain.FieldImgFiles, Mode: LengthFixed, N: 1},
		},
		Structural: []structuralRule{checkDropCoordinates, checkDropCount},
	},
	domain.VariantCalculated: {
		Fields: []FieldSpec{
			{Name: "correct_answers", Kinds: []Kind{KindList}},
			{Name: "tolerance", Kinds: []Kind{KindList}},
			{Name: "vars", Kinds: []Kind{KindList}},
		},
		Lengths: []LengthRule{
			{Field: "correct_answers", Mode: LengthFixed, N: 1},
			{Field: "tolerance", Mode: LengthFixed, N: 3},
			{Field: "vars", Mode: LengthMin, N: 1},
		},
		Structural: []structuralRule{checkToleranceKind},
	},
}

var schemas = buildSchemas()

func buildSchemas() map[domain.Variant]Schema {
	out := make(map[domain.Variant]Schema, len(variants))
	for v, s := range variants {
		out[v] = merge(general, s)
	}
	return out
}

// merge appends the variant rules to the general ones. A variant field with the same
// name as a general field replaces it in place.
func merge(base, variant Schema) Schema {
	out := Schema{
		Fields:     make([]FieldSpec, 0, len(base.Fields)+len(variant.Fields)),
		Positive:   append([]string(nil), base.Positive...),
		Domains:    append(append([]DomainRule(nil), base.Domains...), variant.Domains...),
		Lengths:    append(append([]LengthRule(nil), base.Lengths...), variant.Lengths...),
		Structural: append(append([]structuralRule(nil), variant.Structural...), base.Structural...),
	}
	overrides := make(map[string]FieldSpec, len(variant.Fields))
	for _, f := range variant.Fields {
		overrides[f.Name] = f
	}
	for _, f := range base.Fields {
		if o, ok := overrides[f.Name]; ok {
			f = o
			delete(overrides, f.Name)
		}
		out.Fields = append(out.Fields, f)
	}
	for _, f := range variant.Fields {
		if _, ok := overrides[f.Name]; ok {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// SchemaFor returns the merged rule set of a known variant.
func SchemaFor(v domain.Variant) (Schema, bool) {
	s, ok := schemas[v]
	return s, ok
}

// RequiredFields lists the field names a record of variant v must carry.
func RequiredFields(v domain.Variant) []string {
	s, ok := schemas[v]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(s.Fields))
	for _, f := range s.Fields {
		if !f.Optional {
			out = append(out, f.Name)
		}
	}
	return out
}
