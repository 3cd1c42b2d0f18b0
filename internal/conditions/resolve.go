package conditions

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/voidexforge/gamification-engine/internal/model"
)

const attrPrefix = "attr:"

// Resolve returns the concrete value behind a rule parameter: if raw is a
// string of the form "attr:name" it reads triggerEvent.attributes[name],
// otherwise raw is returned as the literal it already is (spec §4.2).
func Resolve(trigger *model.Event, raw interface{}) (interface{}, bool) {
	if s, ok := raw.(string); ok && strings.HasPrefix(s, attrPrefix) {
		name := strings.TrimPrefix(s, attrPrefix)
		return trigger.Attr(name)
	}
	return raw, raw != nil
}

// AsFloat64 coerces v to float64 for numeric comparison, the same coercion
// rule attributeEquals and threshold use (spec §4.3: "integers and floats
// compare by numeric value").
func AsFloat64(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// AsInt64 coerces v to int64, used for reward/spending amounts.
func AsInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case float64:
		return int64(n), true
	case float32:
		return int64(n), true
	case string:
		i, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return i, true
	default:
		return 0, false
	}
}

// AsString coerces v to its string representation.
func AsString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// numericEqual implements attributeEquals' "numeric coercion" rule: if both
// sides parse as numbers, compare numerically; otherwise fall back to
// string equality.
func numericEqual(a, b interface{}) bool {
	af, aok := AsFloat64(a)
	bf, bok := AsFloat64(b)
	if aok && bok {
		return af == bf
	}
	return AsString(a) == AsString(b)
}
