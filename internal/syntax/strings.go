package syntax

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// unquote decodes a Python string literal, including its prefix and
// triple-quoted forms. f-strings are rejected since they would need
// expression evaluation.
func unquote(text string) (string, error) {
	raw := false
	i := 0
prefix:
	for ; i < len(text); i++ {
		switch text[i] {
		case 'r', 'R':
			raw = true
		case 'b', 'B', 'u', 'U':
		case 'f', 'F':
			return "", fmt.Errorf("f-strings are not supported")
		default:
			break prefix
		}
	}
	lit := text[i:]
	quote := ""
	switch {
	case strings.HasPrefix(lit, `"""`), strings.HasPrefix(lit, `'''`):
		quote = lit[:3]
	case strings.HasPrefix(lit, `"`), strings.HasPrefix(lit, `'`):
		quote = lit[:1]
	default:
		return "", fmt.Errorf("malformed string literal %s", text)
	}
	if len(lit) < 2*len(quote) || !strings.HasSuffix(lit, quote) {
		return "", fmt.Errorf("unterminated string literal %s", text)
	}
	inner := lit[len(quote) : len(lit)-len(quote)]
	if raw {
		return inner, nil
	}
	return unescape(inner)
}

// unescape processes backslash escapes with Python semantics: unknown
// escapes are kept verbatim and a backslash-newline joins lines.
// Values are UTF-8 strings, so \N{name} escapes and surrogate code points
// are reported as errors instead of being decoded.
func unescape(s string) (string, error) {
	if !strings.Contains(s, `\`) {
		return s, nil
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' || i+1 == len(s) {
			b.WriteByte(c)
			continue
		}
		i++
		switch e := s[i]; e {
		case '\n':
		case '\\', '\'', '"':
			b.WriteByte(e)
		case 'a':
			b.WriteByte('\a')
		case 'b':
			b.WriteByte('\b')
		case 'f':
			b.WriteByte('\f')
		case 'n':
			b.WriteByte('\n')
		case 'r':
			b.WriteByte('\r')
		case 't':
			b.WriteByte('\t')
		case 'v':
			b.WriteByte('\v')
		case 'x', 'u', 'U':
			width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[e]
			if i+1+width > len(s) {
				return "", fmt.Errorf(`truncated \%c escape`, e)
			}
			code, err := strconv.ParseUint(s[i+1:i+1+width], 16, 32)
			if err != nil {
				return "", fmt.Errorf(`invalid \%c escape`, e)
			}
			if code >= 0xD800 && code <= 0xDFFF {
				return "", fmt.Errorf(`surrogate \%c%s is not supported`, e, s[i+1:i+1+width])
			}
			if !utf8.ValidRune(rune(code)) {
				return "", fmt.Errorf(`invalid \%c escape`, e)
			}
			b.WriteRune(rune(code))
			i += width
		case 'N':
			return "", fmt.Errorf(`\N{...} escapes are not supported`)
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i
			for j < len(s) && j < i+3 && s[j] >= '0' && s[j] <= '7' {
				j++
			}
			code, _ := strconv.ParseUint(s[i:j], 8, 32)
			b.WriteRune(rune(code))
			i = j - 1
		default:
			b.WriteByte('\\')
			b.WriteByte(e)
		}
	}
	return b.String(), nil
}
