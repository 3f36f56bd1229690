package http1

import (
	"sort"
	"strings"
)

// SanitizeHeaderKey ensures header name is a valid token; returns empty string if invalid.
func SanitizeHeaderKey(k string) string {
	if k == "" {
		return ""
	}
	for i := 0; i < len(k); i++ {
		c := k[i]
		if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
			continue
		}
		switch c {
		case '!', '#', '$', '%', '&', '\'', '*', '+', '-', '.', '^', '_', '`', '|', '~':
			continue
		default:
			return ""
		}
	}
	return k
}

// SanitizeHeaderValue removes CR/LF and control chars except HTAB.
func SanitizeHeaderValue(v string) string {
	if v == "" {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\r' || c == '\n' || c == 0x7f {
			continue
		}
		if c < 0x20 && c != '\t' {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}

// CanonicalHeaderKey returns the MIME canonical form of s ("content-type"
// becomes "Content-Type").
func CanonicalHeaderKey(s string) string {
	b := []byte(strings.ToLower(s))
	upper := true
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			if upper {
				b[i] = c - 'a' + 'A'
			}
			upper = false
			continue
		}
		upper = c == '-'
	}
	return string(b)
}

// NormalizeTrailer lower-cases and trims a trailer name and trims its value.
func NormalizeTrailer(k, v string) (string, string) {
	return strings.ToLower(strings.TrimSpace(k)), strings.TrimSpace(v)
}

func addHeader(h map[string][]string, k, v string) {
	hk := CanonicalHeaderKey(k)
	h[hk] = append(h[hk], v)
}

func getHeader(h map[string][]string, k string) string {
	hk := CanonicalHeaderKey(k)
	if vv, ok := h[hk]; ok && len(vv) > 0 {
		return vv[0]
	}
	return ""
}

// HasChunkedTE reports whether any Transfer-Encoding value names chunked.
func HasChunkedTE(h map[string][]string) bool {
	hk := CanonicalHeaderKey("Transfer-Encoding")
	if vv, ok := h[hk]; ok {
		for _, v := range vv {
			if strings.Contains(strings.ToLower(v), "chunked") {
				return true
			}
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
