// Copyright 2025 Antfly, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package corpus

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"

	json "github.com/goccy/go-json"
)

// pythonToJSON rewrites a Python literal made of lists, dicts, strings,
// numbers, None, True and False as JSON. Strings are decoded with Python's
// escape rules, so repr() output such as 'it\'s "x"' survives.
func pythonToJSON(src string) (string, error) {
	var b strings.Builder
	b.Grow(len(src))
	for i := 0; i < len(src); {
		c := src[i]
		switch {
		case c == '\'' || c == '"':
			s, n, err := unquotePython(src[i:])
			if err != nil {
				return "", fmt.Errorf("offset %d: %w", i, err)
			}
			q, err := json.Marshal(s)
			if err != nil {
				return "", err
			}
			b.Write(q)
			i += n
		case c == ']' || c == '}' || c == ')':
			trimTrailingComma(&b)
			if c == ')' {
				c = ']'
			}
			b.WriteByte(c)
			i++
		case c == '(':
			b.WriteByte('[')
			i++
		case c >= '0' && c <= '9':
			j := i
			for j < len(src) && strings.IndexByte("0123456789.eE+-_", src[j]) >= 0 {
				j++
			}
			b.WriteString(strings.ReplaceAll(src[i:j], "_", ""))
			i = j
		case isIdentStart(c):
			j := i
			for j < len(src) && (isIdentStart(src[j]) || src[j] >= '0' && src[j] <= '9') {
				j++
			}
			switch word := src[i:j]; word {
			case "None":
				b.WriteString("null")
			case "True":
				b.WriteString("true")
			case "False":
				b.WriteString("false")
			default:
				return "", fmt.Errorf("offset %d: unsupported name %q", i, word)
			}
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

func isIdentStart(c byte) bool {
	return c == '_' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z'
}

// trimTrailingComma drops a comma, and the space after it, that Python
// allows before a closing bracket.
func trimTrailingComma(b *strings.Builder) {
	s := strings.TrimRight(b.String(), " \t\r\n")
	if strings.HasSuffix(s, ",") {
		s = s[:len(s)-1]
		b.Reset()
		b.WriteString(s)
	}
}

// unquotePython decodes the quoted string at the start of s and returns it
// with the number of bytes consumed.
func unquotePython(s string) (string, int, error) {
	quote := s[0]
	var out strings.Builder
	for i := 1; i < len(s); {
		c := s[i]
		switch {
		case c == quote:
			return out.String(), i + 1, nil
		case c == '\n':
			return "", 0, fmt.Errorf("newline in string literal")
		case c != '\\':
			out.WriteByte(c)
			i++
			continue
		}
		if i+1 >= len(s) {
			break
		}
		e := s[i+1]
		i += 2
		switch e {
		case '\\', '\'', '"':
			out.WriteByte(e)
		case '\n':
			// Line continuation.
		case 'n':
			out.WriteByte('\n')
		case 't':
			out.WriteByte('\t')
		case 'r':
			out.WriteByte('\r')
		case 'a':
			out.WriteByte('\a')
		case 'b':
			out.WriteByte('\b')
		case 'f':
			out.WriteByte('\f')
		case 'v':
			out.WriteByte('\v')
		case 'x', 'u', 'U':
			width := map[byte]int{'x': 2, 'u': 4, 'U': 8}[e]
			if i+width > len(s) {
				return "", 0, fmt.Errorf("truncated \\%c escape", e)
			}
			v, err := strconv.ParseUint(s[i:i+width], 16, 32)
			if err != nil || !utf8.ValidRune(rune(v)) {
				return "", 0, fmt.Errorf("invalid \\%c escape %q", e, s[i:i+width])
			}
			out.WriteRune(rune(v))
			i += width
		case '0', '1', '2', '3', '4', '5', '6', '7':
			j := i - 1
			for i < len(s) && i-j < 3 && s[i] >= '0' && s[i] <= '7' {
				i++
			}
			v, _ := strconv.ParseUint(s[j:i], 8, 32)
			out.WriteRune(rune(v))
		default:
			// Python keeps unrecognized escapes verbatim.
			out.WriteByte('\\')
			out.WriteByte(e)
		}
	}
	return "", 0, fmt.Errorf("unterminated string literal")
}
