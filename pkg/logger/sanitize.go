package logger

import (
	"net/url"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Masked replaces every credential written to a log entry.
const Masked = "***"

// credentialKeys are compared after lower-casing and dropping '-' and '_'.
var credentialKeys = map[string]struct{}{
	"authorization": {},
	"xadmintoken":   {},
	"admintoken":    {},
	"clustersecret": {},
	"secret":        {},
	"password":      {},
	"passwordhash":  {},
	"token":         {},
}

// credentialSuffixes catch composed keys such as new_password or peer_token.
var credentialSuffixes = []string{"password", "hash", "token", "secret"}

// bcrypt hashes travel between nodes in user replication payloads.
var bcryptPrefixes = []string{"$2a$", "$2b$", "$2y$"}

// SanitizeFields masks admin tokens, cluster JWTs, passwords and password
// hashes, whether they appear under a credential key or as a bare value.
func SanitizeFields(fields []zap.Field) []zap.Field {
	if len(fields) == 0 {
		return fields
	}

	out := make([]zap.Field, len(fields))
	for i, field := range fields {
		out[i] = sanitizeField(field)
	}
	return out
}

func sanitizeField(field zap.Field) zap.Field {
	if IsCredentialKey(field.Key) {
		return zap.String(field.Key, Masked)
	}
	if field.Type == zapcore.StringType {
		if LooksLikeCredential(field.String) {
			return zap.String(field.Key, Masked)
		}
		return field
	}

	enc := zapcore.NewMapObjectEncoder()
	field.AddTo(enc)
	value, ok := enc.Fields[field.Key]
	if !ok {
		return field
	}
	return zap.Any(field.Key, maskValue(value))
}

func maskValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for k, v := range typed {
			if IsCredentialKey(k) {
				out[k] = Masked
				continue
			}
			out[k] = maskValue(v)
		}
		return out
	case url.Values:
		return maskValues(typed)
	case map[string][]string:
		return maskValues(typed)
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = maskValue(item)
		}
		return out
	case string:
		if LooksLikeCredential(typed) {
			return Masked
		}
		return typed
	default:
		return value
	}
}

func maskValues(values map[string][]string) map[string][]string {
	out := make(map[string][]string, len(values))
	for k, items := range values {
		masked := make([]string, len(items))
		for i, item := range items {
			if IsCredentialKey(k) || LooksLikeCredential(item) {
				masked[i] = Masked
				continue
			}
			masked[i] = item
		}
		out[k] = masked
	}
	return out
}

func IsCredentialKey(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	normalized = strings.NewReplacer("-", "", "_", "").Replace(normalized)
	if normalized == "" {
		return false
	}
	if _, ok := credentialKeys[normalized]; ok {
		return true
	}
	for _, suffix := range credentialSuffixes {
		if strings.HasSuffix(normalized, suffix) {
			return true
		}
	}
	return false
}

// LooksLikeCredential reports bearer headers, JWTs and bcrypt hashes.
func LooksLikeCredential(value string) bool {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return false
	}
	if len(trimmed) > 7 && strings.EqualFold(trimmed[:7], "bearer ") {
		return true
	}
	for _, prefix := range bcryptPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return isJWT(trimmed)
}

func isJWT(value string) bool {
	parts := strings.Split(value, ".")
	if len(parts) != 3 || !strings.HasPrefix(parts[0], "eyJ") {
		return false
	}
	for _, part := range parts {
		if part == "" || strings.ContainsAny(part, " /+=") {
			return false
		}
	}
	return true
}
