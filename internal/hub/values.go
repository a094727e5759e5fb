package hub

import (
	"encoding/json"
	"strconv"
)

// StringField returns m[key] as a non-empty string. Numbers (json.Number or
// float64) are formatted without loss, so numeric IDs read as strings.
func StringField(m map[string]any, key string) (string, bool) {
	if m == nil {
		return "", false
	}

	switch v := m[key].(type) {
	case string:
		return v, v != ""
	case json.Number:
		return v.String(), true
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64), true
	case int64:
		return strconv.FormatInt(v, 10), true
	default:
		return "", false
	}
}

// Int64Field returns m[key] as an integer, accepting numbers and numeric
// strings.
func Int64Field(m map[string]any, key string) (int64, bool) {
	if m == nil {
		return 0, false
	}

	switch v := m[key].(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			f, ferr := v.Float64()
			if ferr != nil {
				return 0, false
			}

			return int64(f), true
		}

		return n, true
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case string:
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}

// ObjectField returns m[key] when it is a JSON object.
func ObjectField(m map[string]any, key string) (map[string]any, bool) {
	if m == nil {
		return nil, false
	}

	obj, ok := m[key].(map[string]any)

	return obj, ok
}
