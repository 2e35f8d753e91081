package detection

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func evalCondition(t *testing.T, cond string, results map[string]bool) bool {
	t.Helper()
	expr, err := parseCondition(cond)
	require.NoError(t, err, "condition %q should parse", cond)
	v, err := expr.eval(results)
	require.NoError(t, err, "condition %q should evaluate", cond)
	return v
}

func TestConditionBasicOperators(t *testing.T) {
	results := map[string]bool{"a": true, "b": false, "c": true}

	tests := []struct {
		cond string
		want bool
	}{
		{"a", true},
		{"b", false},
		{"not b", true},
		{"not a", false},
		{"a and c", true},
		{"a and b", false},
		{"a or b", true},
		{"b or b", false},
		{"a and not b", true},
		{"not (a and b)", true},
		{"(a or b) and c", true},
		{"a and b or c", true}, // and binds tighter than or
		{"not a or c", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, evalCondition(t, tt.cond, results), "condition %q", tt.cond)
	}
}

func TestConditionQuantifiers(t *testing.T) {
	results := map[string]bool{
		"sel_login":  true,
		"sel_logout": false,
		"other":      false,
	}

	assert.True(t, evalCondition(t, "1 of sel_*", results))
	assert.False(t, evalCondition(t, "all of sel_*", results))
	assert.True(t, evalCondition(t, "1 of them", results))
	assert.False(t, evalCondition(t, "all of them", results))

	allTrue := map[string]bool{"sel_a": true, "sel_b": true}
	assert.True(t, evalCondition(t, "all of sel_*", allTrue))
	assert.True(t, evalCondition(t, "all of them", allTrue))
}

func TestConditionAllAsSelectionName(t *testing.T) {
	// "all" not followed by "of" is a plain selection name.
	assert.True(t, evalCondition(t, "all", map[string]bool{"all": true}))
	assert.False(t, evalCondition(t, "all and b", map[string]bool{"all": true, "b": false}))
}

func TestConditionParseErrors(t *testing.T) {
	bad := []string{
		"",
		"and",
		"a and",
		"(a or b",
		"a)",
		"1 of",
		"not",
		"a b",
	}
	for _, cond := range bad {
		_, err := parseCondition(cond)
		assert.Error(t, err, "condition %q should be rejected", cond)
	}
}

func TestConditionUnknownSelectionIsError(t *testing.T) {
	expr, err := parseCondition("missing")
	require.NoError(t, err)
	_, err = expr.eval(map[string]bool{"present": true})
	assert.Error(t, err)
}

func TestConditionGlobMatchingNothingIsError(t *testing.T) {
	expr, err := parseCondition("1 of nomatch_*")
	require.NoError(t, err)
	_, err = expr.eval(map[string]bool{"selection": true})
	assert.Error(t, err)
}

func TestConditionCaseInsensitiveKeywords(t *testing.T) {
	results := map[string]bool{"a": true, "b": false}
	assert.True(t, evalCondition(t, "a OR b", results))
	assert.True(t, evalCondition(t, "a AND NOT b", results))
}
