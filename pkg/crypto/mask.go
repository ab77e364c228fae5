package crypto

import "strings"

// Masked replaces sensitive values in display shapes.
const Masked = "***"

// sensitiveKeyParts flags a map key as secret-bearing when its lowered
// form contains any of these substrings.
var sensitiveKeyParts = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"credential",
	"authorization",
	"signing_key",
	"routing_key",
}

// SensitiveKey reports whether key names a secret-bearing field.
func SensitiveKey(key string) bool {
	lowered := strings.ToLower(key)
	for _, part := range sensitiveKeyParts {
		if strings.Contains(lowered, part) {
			return true
		}
	}
	return false
}

// MaskSensitive returns a copy of m with secret-bearing values replaced
// by Masked. Nested maps are masked recursively; the input is never
// modified.
func MaskSensitive(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for key, value := range m {
		switch v := value.(type) {
		case map[string]any:
			out[key] = MaskSensitive(v)
		default:
			if SensitiveKey(key) {
				out[key] = Masked
			} else {
				out[key] = value
			}
		}
	}
	return out
}
