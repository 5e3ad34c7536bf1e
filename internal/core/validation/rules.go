package validation

import (
	"context"
	"fmt"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/atvirokodosprendimai/qbank/internal/core/domain"
)

const (
	msgMissing     = "Missing"
	msgEmpty       = "Empty value"
	msgNotPositive = "Value needs to be > 0"
	msgDuplicate   = "Name already exists in database."
	msgNaming      = "Wrong naming scheme"
)

var blankPattern = regexp.MustCompile(`^\s*$`)

type rule struct {
	name  string
	apply func(ctx context.Context, c *check) error
}

type structuralRule func(ctx context.Context, c *check) error

// pipeline is the fixed rule order. Each rule leaves fields that an earlier rule
// already flagged untouched.
var pipeline = []rule{
	{name: "missing", apply: plain(checkMissing)},
	{name: "empty", apply: plain(checkEmpty)},
	{name: "type", apply: plain(checkTypes)},
	{name: "positive", apply: plain(checkPositive)},
	{name: "domain", apply: plain(checkDomains)},
	{name: "length", apply: plain(checkLengths)},
	{name: "unique", apply: checkUnique},
	{name: "naming", apply: plain(checkNaming)},
	{name: "structural", apply: checkStructural},
}

func plain(fn func(c *check)) func(context.Context, *check) error {
	return func(_ context.Context, c *check) error {
		fn(c)
		return nil
	}
}

func checkMissing(c *check) {
	for _, f := range c.schema.Fields {
		if f.Optional {
			continue
		}
		if _, ok := c.q[f.Name]; !ok {
			c.flag(f.Name, msgMissing)
		}
	}
}

func checkEmpty(c *check) {
	for _, f := range c.schema.Fields {
		if c.flagged(f.Name) {
			continue
		}
		s, ok := c.q[f.Name].(string)
		if ok && blankPattern.MatchString(s) {
			c.flag(f.Name, msgEmpty)
		}
	}
}

func checkTypes(c *check) {
	for _, f := range c.schema.Fields {
		v, ok := c.q[f.Name]
		if !ok || c.flagged(f.Name) {
			continue
		}
		if !f.accepts(KindOf(v)) {
			c.flag(f.Name, "Wrong data type. Expected: "+f.expected())
		}
	}
}

func checkPositive(c *check) {
	for _, name := range c.schema.Positive {
		v, ok := c.q[name]
		if !ok || c.flagged(name) {
			continue
		}
		if n, ok := numberValue(v); ok && n <= 0 {
			c.flag(name, msgNotPositive)
		}
	}
}

func checkDomains(c *check) {
	for _, d := range c.schema.Domains {
		v, ok := c.q[d.Field]
		if !ok || c.flagged(d.Field) {
			continue
		}
		if !inDomain(v, d.Allowed) {
			c.flag(d.Field, domainMessage(v, d.Allowed))
		}
	}
}

func inDomain(v any, allowed []string) bool {
	text, ok := scalarText(v)
	return ok && slices.Contains(allowed, text)
}

func domainMessage(v any, allowed []string) string {
	return fmt.Sprintf("Invalid value %s. Allowed values: %s", valueText(v), strings.Join(allowed, ", "))
}

func checkLengths(c *check) {
	for _, l := range c.schema.Lengths {
		checkLength(c, l.Field, l.Mode, l.N)
	}
}

// checkLength panics on an unknown mode: that is a broken registry entry, not bad input.
func checkLength(c *check, field string, mode LengthMode, n int) {
	if mode != LengthFixed && mode != LengthMin {
		panic(fmt.Sprintf("validation: unknown length mode %q for field %q", mode, field))
	}
	v, ok := c.q[field]
	if !ok || c.flagged(field) {
		return
	}
	size, ok := collectionLen(v)
	if !ok {
		return
	}
	switch mode {
	case LengthFixed:
		if size != n {
			c.flag(field, fmt.Sprintf("Needs exactly %d %s", n, entries(n)))
		}
	case LengthMin:
		if size < n {
			c.flag(field, fmt.Sprintf("Needs at least %d %s", n, entries(n)))
		}
	}
}

func entries(n int) string {
	if n == 1 {
		return "entry"
	}
	return "entries"
}

func checkUnique(ctx context.Context, c *check) error {
	if c.ignoreDuplicates || c.store == nil || c.flagged(domain.FieldName) {
		return nil
	}
	_, found, err := c.lookup(ctx, c.q.Name())
	if err != nil {
		return err
	}
	if found {
		c.flag(domain.FieldName, msgDuplicate)
	}
	return nil
}

func checkNaming(c *check) {
	if len(c.categories) == 0 || c.flagged(domain.FieldName) {
		return
	}
	name := c.q.Name()
	if !domain.HasSequenceSuffix(name) || !slices.Contains(c.categories, domain.CategoryOf(name)) {
		c.flag(domain.FieldName, msgNaming)
	}
}

func checkStructural(ctx context.Context, c *check) error {
	for _, fn := range c.schema.Structural {
		if err := fn(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// checkDropCoordinates requires every drop zone to be an [x, y] pair of numbers.
func checkDropCoordinates(_ context.Context, c *check) error {
	if c.flagged("drops") {
		return nil
	}
	drops, ok := c.q["drops"].(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(drops))
	for k := range drops {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		field := "drops." + k
		v := drops[k]
		if KindOf(v) != KindList {
			c.flag(field, "Wrong data type. Expected: list")
			continue
		}
		size, _ := collectionLen(v)
		if size != 2 {
			c.flag(field, "Needs exactly 2 entries")
			continue
		}
		if pair, ok := v.([]any); ok {
			for _, coord := range pair {
				if kind := KindOf(coord); kind != KindInt && kind != KindFloat {
					c.flag(field, "Coordinates need to be int or float")
					break
				}
			}
		}
	}
	return nil
}

func checkDropCount(_ context.Context, c *check) error {
	if c.flagged("drops") || c.flagged("correct_answers") {
		return nil
	}
	drops, ok := collectionLen(c.q["drops"])
	if !ok {
		return nil
	}
	answers, ok := collectionLen(c.q["correct_answers"])
	if !ok {
		return nil
	}
	if drops != answers {
		c.flag("drops", fmt.Sprintf("Needs same number of entries as correct_answers (%d)", answers))
	}
	return nil
}

// checkToleranceKind runs after the length rules, so a short tolerance list only
// carries its length error.
func checkToleranceKind(_ context.Context, c *check) error {
	if c.flagged("tolerance") {
		return nil
	}
	tol, ok := c.q["tolerance"].([]any)
	if !ok || len(tol) < 2 {
		return nil
	}
	if !inDomain(tol[1], toleranceKinds) || KindOf(tol[1]) != KindString {
		c.flag("tolerance.type", domainMessage(tol[1], toleranceKinds))
	}
	return nil
}

func checkParent(ctx context.Context, c *check) error {
	if c.store == nil || c.flagged(domain.FieldName) || c.flagged(domain.FieldFamilyType) {
		return nil
	}
	if c.q.FamilyType() != domain.FamilyChild {
		return nil
	}
	name := c.q.Name()
	parent, ok := domain.ParentName(name)
	if !ok || parent == name {
		c.flag(domain.FieldFamilyType, "Child question needs a child sequence other than 00")
		return nil
	}
	p, found, err := c.lookup(ctx, parent)
	if err != nil {
		return err
	}
	if !found || p.FamilyType() != domain.FamilyParent {
		c.flag(domain.FieldFamilyType, fmt.Sprintf("Parent question '%s' not found", parent))
	}
	return nil
}
