package detection

import (
	"fmt"
	"strings"

	"github.com/logtide-dev/logtide/internal/core"
)

// Field predicate matching for Sigma-style selections. A selection is a
// conjunction of predicates; predicate field names may carry a suffix
// operator: |contains, |startswith, |endswith. Values are scalars or
// lists, lists meaning any-match.

// matchLogSource applies the rule's logsource selector: every provided
// field must equal the log's corresponding attribute; empty fields are
// wildcards.
func matchLogSource(src core.LogSource, l *core.LogRecord) bool {
	if src.Service != "" && src.Service != l.Service {
		return false
	}
	if src.Product != "" && src.Product != attrString(l, "product") {
		return false
	}
	if src.Category != "" && src.Category != attrString(l, "category") {
		return false
	}
	return true
}

// matchSelection evaluates one selection against one log. An empty
// selection is false.
func matchSelection(sel map[string]interface{}, l *core.LogRecord) bool {
	if len(sel) == 0 {
		return false
	}
	for field, value := range sel {
		if !matchPredicate(field, value, l) {
			return false
		}
	}
	return true
}

func matchPredicate(field string, value interface{}, l *core.LogRecord) bool {
	name, op := field, "equals"
	if i := strings.IndexByte(field, '|'); i >= 0 {
		name, op = field[:i], field[i+1:]
	}

	fieldVal := logField(l, name)

	switch op {
	case "equals":
		return anyValue(value, func(v interface{}) bool {
			return strings.EqualFold(stringify(v), fieldVal)
		})
	case "contains":
		lower := strings.ToLower(fieldVal)
		return anyValue(value, func(v interface{}) bool {
			return strings.Contains(lower, strings.ToLower(stringify(v)))
		})
	case "startswith":
		lower := strings.ToLower(fieldVal)
		return anyValue(value, func(v interface{}) bool {
			return strings.HasPrefix(lower, strings.ToLower(stringify(v)))
		})
	case "endswith":
		lower := strings.ToLower(fieldVal)
		return anyValue(value, func(v interface{}) bool {
			return strings.HasSuffix(lower, strings.ToLower(stringify(v)))
		})
	default:
		// Unknown operator: predicate cannot match.
		return false
	}
}

// anyValue applies pred to a scalar value or to each element of a list
// (any-match).
func anyValue(value interface{}, pred func(interface{}) bool) bool {
	switch vs := value.(type) {
	case []interface{}:
		for _, v := range vs {
			if pred(v) {
				return true
			}
		}
		return false
	case []string:
		for _, v := range vs {
			if pred(v) {
				return true
			}
		}
		return false
	default:
		return pred(value)
	}
}

// logField resolves a predicate field name against the log record:
// the well-known fields first, then the free-form attributes.
func logField(l *core.LogRecord, name string) string {
	switch name {
	case "message":
		return l.Message
	case "service":
		return l.Service
	case "level":
		return string(l.Level)
	case "span_id":
		return l.SpanID
	default:
		return attrString(l, name)
	}
}

func attrString(l *core.LogRecord, key string) string {
	if l.Attributes == nil {
		return ""
	}
	v, ok := l.Attributes[key]
	if !ok {
		return ""
	}
	return stringify(v)
}

func stringify(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case nil:
		return ""
	case float64:
		// JSON numbers decode as float64; render integers without decimals.
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		return fmt.Sprintf("%v", t)
	}
}
