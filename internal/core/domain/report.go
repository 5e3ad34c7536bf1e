package domain

import (
	"sort"
	"strings"
)

// ReportQuestionKey carries the offending question's name in a non-empty report.
const ReportQuestionKey = "__question_name__"

// Report maps field names to human-readable validation messages. An empty report means
// the question is acceptable.
type Report map[string]string

func (r Report) QuestionName() string {
	return r[ReportQuestionKey]
}

// Keys returns the report keys in sorted order.
func (r Report) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Fields returns the sorted field keys, without the question name marker.
func (r Report) Fields() []string {
	keys := make([]string, 0, len(r))
	for _, k := range r.Keys() {
		if k != ReportQuestionKey {
			keys = append(keys, k)
		}
	}
	return keys
}

func (r Report) String() string {
	parts := make([]string, 0, len(r))
	for _, k := range r.Fields() {
		parts = append(parts, k+": "+r[k])
	}
	return strings.Join(parts, "; ")
}
