package masking

import "strings"

const maskToken = "****"

// MaskCardCode redacts a card code while keeping a minimal suffix so two
// records can still be told apart in checkpoints and logs.
func MaskCardCode(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return ""
	}

	prefix, remainder := splitPrefix(trimmed)
	if len(remainder) <= 4 {
		return prefix + maskToken
	}

	return prefix + maskToken + remainder[len(remainder)-4:]
}

// sensitiveKeys are detail fields that can carry card secrets.
var sensitiveKeys = map[string]struct{}{
	"code":      {},
	"card_code": {},
	"number":    {},
	"api_key":   {},
	"token":     {},
}

// MaskSensitiveKeys returns a copy of the input with card-secret fields
// masked and everything else left readable. Checkpoint detail goes through
// this before it is persisted.
func MaskSensitiveKeys(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		if _, sensitive := sensitiveKeys[strings.ToLower(trimmedKey)]; sensitive {
			if str, ok := value.(string); ok {
				masked[trimmedKey] = MaskCardCode(str)
				continue
			}
			masked[trimmedKey] = maskToken
			continue
		}
		if nested, ok := value.(map[string]any); ok {
			masked[trimmedKey] = MaskSensitiveKeys(nested)
			continue
		}
		masked[trimmedKey] = value
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

// MaskJSON returns a copy of the input with string values masked.
func MaskJSON(input map[string]any) map[string]any {
	if len(input) == 0 {
		return nil
	}

	masked := make(map[string]any, len(input))
	for key, value := range input {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" {
			continue
		}
		masked[trimmedKey] = maskValue(value)
	}

	if len(masked) == 0 {
		return nil
	}
	return masked
}

func maskValue(value any) any {
	switch cast := value.(type) {
	case string:
		return MaskCardCode(cast)
	case map[string]any:
		return MaskJSON(cast)
	case []any:
		out := make([]any, 0, len(cast))
		for _, item := range cast {
			out = append(out, maskValue(item))
		}
		return out
	default:
		return value
	}
}

func splitPrefix(value string) (string, string) {
	lastDash := strings.LastIndex(value, "-")
	if lastDash == -1 || lastDash == len(value)-1 {
		return "", value
	}
	return value[:lastDash+1], value[lastDash+1:]
}
