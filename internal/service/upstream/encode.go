package upstream

import (
	"strconv"
	"strings"
)

const upperHex = "0123456789ABCDEF"

// EncodeURIComponent percent-encodes s the way browsers do for URI
// components: every byte except A-Z a-z 0-9 - _ . ! ~ * ' ( ) is escaped.
// The provider keys its cache on this exact form, so url.PathEscape is not a
// substitute.
func EncodeURIComponent(s string) string {
	var b strings.Builder
	b.Grow(len(s) * 3)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isURIComponentSafe(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0f])
	}
	return b.String()
}

func isURIComponentSafe(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	}
	switch c {
	case '-', '_', '.', '!', '~', '*', '\'', '(', ')':
		return true
	}
	return false
}

// BuildURL returns <base>/prompt/<encoded prompt>?seed=<seed>.
func BuildURL(base, prompt string, seed int) string {
	return strings.TrimRight(base, "/") + "/prompt/" + EncodeURIComponent(prompt) + "?seed=" + strconv.Itoa(seed)
}
