package gsm

import "strings"

// SecretID maps a .env key onto a Secret Manager secret ID. Env keys are
// already uppercase [A-Z0-9_]; anything else is folded to '_' since secret
// IDs only allow letters, digits, '-' and '_'.
func SecretID(prefix, key string) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, r := range key {
		switch {
		case r >= 'A' && r <= 'Z', r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	id := b.String()
	if len(id) > 255 {
		id = id[:255]
	}
	return id
}

// KeyFromID reverses SecretID for prefixed secrets, returning the env key
// and whether the ID carried the prefix.
func KeyFromID(prefix, id string) (string, bool) {
	if prefix == "" {
		return id, true
	}
	key, ok := strings.CutPrefix(id, prefix)
	return key, ok
}
