package exec

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// ----------------------------------------------------------------------------
//
// SQL LIKE operator, translated into a regex.
//
// The LIKE wildcard is simple, it supports 2 placeholders
//
// 1. %, represents zero, one or more sequences of any characters
// 2. _, represents exactly one character
// 3. escape uses the %[x] syntax, x is always exactly one character and is
//    matched literally, so %[%] matches a single %
//
// ----------------------------------------------------------------------------

func likeToRegex(input string) string {
	buf := strings.Builder{}
	buf.WriteString("(?s)^")

	l := len(input)
	for i := 0; i < l; {
		c, sz := utf8.DecodeRuneInString(input[i:])
		if c == utf8.RuneError && sz <= 1 {
			i++
			continue
		}

		switch c {
		case '%':
			// %[x] escape
			if i+1 < l && input[i+1] == '[' {
				inner, isz := utf8.DecodeRuneInString(input[i+2:])
				if inner != utf8.RuneError && i+2+isz < l && input[i+2+isz] == ']' {
					buf.WriteString(regexp.QuoteMeta(string(inner)))
					i += 3 + isz
					continue
				}
			}
			buf.WriteString(".*")

		case '_':
			buf.WriteString(".")

		default:
			buf.WriteString(regexp.QuoteMeta(string(c)))
		}

		i += sz
	}

	buf.WriteString("$")
	return buf.String()
}

func compileLike(pattern string) (*regexp.Regexp, error) {
	return regexp.Compile(likeToRegex(pattern))
}
