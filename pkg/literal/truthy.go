package literal

import "math/big"

// Truthy reports whether a decoded value counts as true: True, non-zero
// numbers, and non-empty strings, bytes and containers. None is false.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case int:
		return t != 0
	case int64:
		return t != 0
	case *big.Int:
		return t.Sign() != 0
	case float64:
		return t != 0
	case string:
		return t != ""
	case []byte:
		return len(t) > 0
	case []any:
		return len(t) > 0
	case Tuple:
		return len(t) > 0
	case Set:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
