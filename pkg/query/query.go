// Package query implements the filter, sort, and paginate operations of
// §4.F over docmodel.Document trees.
//
// Grounded almost line-for-line on
// _examples/original_source/aerolithdb-query/src/processing.rs's
// DocumentFilter/DocumentSorter/DocumentPaginator, translated from
// serde_json::Value operations to docmodel.Document operations. The
// operator set, the $regex substring-containment semantics, and the
// mixed-type-compares-equal fallback in compareValues are all carried
// over unchanged from the original.
package query

import (
	"sort"
	"strings"

	"github.com/cuemby/aerolithdb/pkg/docmodel"
)

// Filter is a MongoDB-flavored query document: either a map of
// field/condition pairs (ANDed together) or one of the $and/$or/$not
// logical operators at the top level.
type Filter = docmodel.Document

// Matches reports whether doc satisfies filter.
func Matches(doc docmodel.Document, filter Filter) bool {
	if filter.Kind != docmodel.KindMap {
		return false
	}
	for field, condition := range filter.Map {
		if !matchesField(doc, field, condition) {
			return false
		}
	}
	return true
}

func matchesField(doc docmodel.Document, field string, condition docmodel.Document) bool {
	switch field {
	case "$and":
		return matchesAnd(doc, condition)
	case "$or":
		return matchesOr(doc, condition)
	case "$not":
		return !Matches(doc, condition)
	default:
		return matchesSimpleField(doc, field, condition)
	}
}

func matchesAnd(doc docmodel.Document, conditions docmodel.Document) bool {
	if conditions.Kind != docmodel.KindArray {
		return false
	}
	for _, cond := range conditions.Array {
		if !Matches(doc, cond) {
			return false
		}
	}
	return true
}

func matchesOr(doc docmodel.Document, conditions docmodel.Document) bool {
	if conditions.Kind != docmodel.KindArray {
		return false
	}
	for _, cond := range conditions.Array {
		if Matches(doc, cond) {
			return true
		}
	}
	return false
}

func matchesSimpleField(doc docmodel.Document, field string, condition docmodel.Document) bool {
	fieldValue := doc.Get(field)
	if condition.Kind != docmodel.KindMap {
		return fieldValue.Equal(condition)
	}
	for operator, operand := range condition.Map {
		if !matchesOperator(fieldValue, operator, operand) {
			return false
		}
	}
	return true
}

func matchesOperator(fieldValue docmodel.Document, operator string, operand docmodel.Document) bool {
	switch operator {
	case "$eq":
		return fieldValue.Equal(operand)
	case "$ne":
		return !fieldValue.Equal(operand)
	case "$gt":
		return compareValues(fieldValue, operand) > 0
	case "$gte":
		return compareValues(fieldValue, operand) >= 0
	case "$lt":
		return compareValues(fieldValue, operand) < 0
	case "$lte":
		return compareValues(fieldValue, operand) <= 0
	case "$in":
		return matchesIn(fieldValue, operand)
	case "$nin":
		return !matchesIn(fieldValue, operand)
	case "$regex":
		return matchesRegex(fieldValue, operand)
	case "$exists":
		return matchesExists(fieldValue, operand)
	default:
		return false
	}
}

func matchesIn(fieldValue, array docmodel.Document) bool {
	if array.Kind != docmodel.KindArray {
		return false
	}
	for _, item := range array.Array {
		if fieldValue.Equal(item) {
			return true
		}
	}
	return false
}

// matchesRegex is substring containment, not a full regular expression
// engine — carried over unchanged from the original's "simple pattern
// matching" implementation.
func matchesRegex(fieldValue, pattern docmodel.Document) bool {
	if fieldValue.Kind != docmodel.KindString || pattern.Kind != docmodel.KindString {
		return false
	}
	return strings.Contains(fieldValue.Str, pattern.Str)
}

func matchesExists(fieldValue, shouldExist docmodel.Document) bool {
	exists := fieldValue.Kind != docmodel.KindNull
	if shouldExist.Kind != docmodel.KindBool {
		return false
	}
	return exists == shouldExist.Bool
}

// compareValues returns -1, 0, or 1. Numbers (int or float, in either
// combination) compare numerically; strings and bools compare by their
// natural ordering; any other combination of kinds — including a type
// mismatch — compares equal. This mixed-type-is-equal fallback is
// carried over unchanged from the original's compare_values. It is fixed
// behavior: no option selects a different mixed-type comparison.
func compareValues(a, b docmodel.Document) int {
	if isNumeric(a) && isNumeric(b) {
		af, bf := numericValue(a), numericValue(b)
		switch {
		case af < bf:
			return -1
		case af > bf:
			return 1
		default:
			return 0
		}
	}
	if a.Kind == docmodel.KindString && b.Kind == docmodel.KindString {
		return strings.Compare(a.Str, b.Str)
	}
	if a.Kind == docmodel.KindBool && b.Kind == docmodel.KindBool {
		switch {
		case a.Bool == b.Bool:
			return 0
		case a.Bool:
			return 1
		default:
			return -1
		}
	}
	return 0
}

func isNumeric(d docmodel.Document) bool {
	return d.Kind == docmodel.KindInt || d.Kind == docmodel.KindFloat
}

func numericValue(d docmodel.Document) float64 {
	if d.Kind == docmodel.KindInt {
		return float64(d.Int)
	}
	return d.Float
}

// FilterDocuments returns the subset of docs matching filter, preserving
// relative order.
func FilterDocuments(docs []docmodel.Document, filter Filter) []docmodel.Document {
	out := make([]docmodel.Document, 0, len(docs))
	for _, d := range docs {
		if Matches(d, filter) {
			out = append(out, d)
		}
	}
	return out
}

// SortField names one key of a multi-field sort. Sort is an ordered
// slice, not a map, so that field precedence and Go map iteration
// nondeterminism can never be confused with each other — a Go-specific
// adaptation of the original's serde_json::Map sort spec, which
// happened to preserve insertion order only because serde_json's
// "preserve_order" feature was enabled.
type SortField struct {
	Field      string
	Descending bool
}

// Sort is an ordered list of sort keys, evaluated left to right: ties on
// an earlier key fall through to the next.
type Sort []SortField

// SortDocuments stable-sorts docs in place according to spec.
func SortDocuments(docs []docmodel.Document, spec Sort) {
	sort.SliceStable(docs, func(i, j int) bool {
		return compareDocuments(docs[i], docs[j], spec) < 0
	})
}

func compareDocuments(a, b docmodel.Document, spec Sort) int {
	for _, field := range spec {
		cmp := compareValues(a.Get(field.Field), b.Get(field.Field))
		if cmp != 0 {
			if field.Descending {
				return -cmp
			}
			return cmp
		}
	}
	return 0
}

// Paginate slices docs starting at offset (default 0) for at most limit
// entries (default: the rest of the slice). An offset at or beyond the
// end of docs yields an empty slice; a limit beyond the remaining length
// is clamped.
func Paginate(docs []docmodel.Document, offset, limit *uint64) []docmodel.Document {
	start := 0
	if offset != nil {
		start = int(*offset)
	}
	if start >= len(docs) {
		return []docmodel.Document{}
	}

	end := len(docs)
	if limit != nil {
		if capped := start + int(*limit); capped < end {
			end = capped
		}
	}
	return docs[start:end]
}
