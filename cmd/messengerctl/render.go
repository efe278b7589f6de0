package main

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// printable strips what a terminal would interpret from text typed by other
// users: control characters, including ESC sequences, and the emoji
// modifiers that break fixed-width columns. Newlines become spaces.
func printable(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		i += size
		switch {
		case r == '\n' || r == '\t':
			b.WriteByte(' ')
		case r == utf8.RuneError && size == 1:
			b.WriteRune(unicode.ReplacementChar)
		case unicode.IsControl(r), isModifierRune(r):
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

func isModifierRune(r rune) bool {
	switch {
	case r >= 0x1F3FB && r <= 0x1F3FF: // skin tones
		return true
	case r == 0x200D: // zero width joiner
		return true
	case r >= 0xFE00 && r <= 0xFE0F, r >= 0xE0100 && r <= 0xE01EF:
		return true
	default:
		return false
	}
}
