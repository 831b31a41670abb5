package service

import (
	"encoding/json"
	"strings"
)

// literalReplacements maps script and Python literals onto their JSON form
var literalReplacements = map[string]string{
	"undefined": "null",
	"None":      "null",
	"NaN":       "null",
	"Infinity":  "null",
	"True":      "true",
	"False":     "false",
	"null":      "null",
	"true":      "true",
	"false":     "false",
}

// RepairJSON applies light syntax normalization to a script object literal so
// that it decodes as JSON: single quoted and template strings become double
// quoted, bare keys are quoted, trailing commas and comments are dropped and
// non-JSON literals are replaced.
func RepairJSON(s string) string {
	var out strings.Builder
	out.Grow(len(s) + len(s)/8)

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '"':
			end, ok := StringEnd(s, i)
			if !ok {
				out.WriteString(s[i:])
				return out.String()
			}
			out.WriteString(s[i : end+1])
			i = end

		case c == '\'' || c == '`':
			end, ok := StringEnd(s, i)
			if !ok {
				out.WriteString(s[i:])
				return out.String()
			}
			writeDoubleQuoted(&out, s[i+1:end], c)
			i = end

		case c == '/' && i+1 < len(s) && s[i+1] == '/':
			for i < len(s) && s[i] != '\n' {
				i++
			}

		case c == '/' && i+1 < len(s) && s[i+1] == '*':
			end := strings.Index(s[i+2:], "*/")
			if end < 0 {
				return out.String()
			}
			i += end + 3

		case c == '}' || c == ']':
			trimTrailingComma(&out)
			out.WriteByte(c)

		case isIdentStart(c):
			j := i
			for j < len(s) && isIdentByte(s[j]) && s[j] != '.' {
				j++
			}
			word := s[i:j]
			next := skipSpaces(s, j)
			switch {
			case next < len(s) && s[next] == ':' && precedesKey(out.String()):
				out.WriteByte('"')
				out.WriteString(word)
				out.WriteByte('"')
			case literalReplacements[word] != "":
				if word == "Infinity" {
					trimNegativeSign(&out)
				}
				out.WriteString(literalReplacements[word])
			default:
				out.WriteString(word)
			}
			i = j - 1

		default:
			out.WriteByte(c)
		}
	}
	return out.String()
}

// DecodeLoose decodes s as JSON, retrying once after RepairJSON
func DecodeLoose(s string, v any) error {
	err := json.Unmarshal([]byte(s), v)
	if err == nil {
		return nil
	}
	if repairErr := json.Unmarshal([]byte(RepairJSON(s)), v); repairErr != nil {
		return err
	}
	return nil
}

// writeDoubleQuoted re-emits the body of a single quoted or template literal as
// a JSON string
func writeDoubleQuoted(out *strings.Builder, body string, quote byte) {
	out.WriteByte('"')
	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\\' && i+1 < len(body) && body[i+1] == quote:
			out.WriteByte(quote)
			i++
		case c == '\\' && i+1 < len(body):
			out.WriteByte(c)
			out.WriteByte(body[i+1])
			i++
		case c == '"':
			out.WriteString(`\"`)
		case c == '\n':
			out.WriteString(`\n`)
		case c == '\r':
			out.WriteString(`\r`)
		case c == '\t':
			out.WriteString(`\t`)
		default:
			out.WriteByte(c)
		}
	}
	out.WriteByte('"')
}

// precedesKey reports whether the emitted text ends where an object key may start
func precedesKey(emitted string) bool {
	trimmed := strings.TrimRight(emitted, " \t\r\n")
	if trimmed == "" {
		return false
	}
	last := trimmed[len(trimmed)-1]
	return last == '{' || last == ','
}

func trimTrailingComma(out *strings.Builder) {
	current := out.String()
	trimmed := strings.TrimRight(current, " \t\r\n")
	if strings.HasSuffix(trimmed, ",") {
		out.Reset()
		out.WriteString(trimmed[:len(trimmed)-1])
	}
}

func trimNegativeSign(out *strings.Builder) {
	current := out.String()
	trimmed := strings.TrimRight(current, " \t")
	if strings.HasSuffix(trimmed, "-") {
		out.Reset()
		out.WriteString(trimmed[:len(trimmed)-1])
	}
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
