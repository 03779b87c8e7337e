package hoststate

import "strings"

// NotEmptyString rejects strings that are empty after trimming whitespace.
func NotEmptyString(value any) bool {
	s, ok := value.(string)
	return ok && strings.TrimSpace(s) != ""
}

// PositiveInt accepts integer values greater than zero. YAML and JSON
// decoders hand back int, int64 or float64 depending on the source, so all
// three are tolerated.
func PositiveInt(value any) bool {
	switch n := value.(type) {
	case int:
		return n > 0
	case int64:
		return n > 0
	case float64:
		return n == float64(int64(n)) && n > 0
	default:
		return false
	}
}
