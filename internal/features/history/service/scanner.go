package service

import (
	"strings"
	"unicode"
)

// scanState is the lexical state of the nested-token scanner
type scanState int

const (
	outsideString scanState = iota
	inString
	escaped
)

// tokenScanner walks script text one byte at a time, tracking string literals
// and bracket depth. It never interprets the content beyond that.
type tokenScanner struct {
	state scanState
	quote byte
	depth int
}

// step advances the scanner over c and reports whether c is structural,
// i.e. outside any string literal.
func (s *tokenScanner) step(c byte) bool {
	switch s.state {
	case escaped:
		s.state = inString
		return false
	case inString:
		switch c {
		case '\\':
			s.state = escaped
		case s.quote:
			s.state = outsideString
		}
		return false
	}

	switch c {
	case '"', '\'', '`':
		s.state = inString
		s.quote = c
		return false
	case '{', '[', '(':
		s.depth++
	case '}', ']', ')':
		s.depth--
	}
	return true
}

func isOpener(c byte) bool {
	return c == '{' || c == '[' || c == '('
}

func isQuote(c byte) bool {
	return c == '"' || c == '\'' || c == '`'
}

// MatchingCloser returns the index of the bracket that closes the one at open.
// Brackets inside string literals are ignored. ok is false when open is not an
// opening bracket or the text ends before depth returns to zero.
func MatchingCloser(s string, open int) (int, bool) {
	if open < 0 || open >= len(s) || !isOpener(s[open]) {
		return -1, false
	}

	var sc tokenScanner
	for i := open; i < len(s); i++ {
		if !sc.step(s[i]) {
			continue
		}
		if sc.depth == 0 {
			return i, true
		}
		if sc.depth < 0 {
			return -1, false
		}
	}
	return -1, false
}

// StringEnd returns the index of the quote closing the literal that starts at start
func StringEnd(s string, start int) (int, bool) {
	if start < 0 || start >= len(s) || !isQuote(s[start]) {
		return -1, false
	}

	quote := s[start]
	for i := start + 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case quote:
			return i, true
		}
	}
	return -1, false
}

// SplitArguments splits the argument list of the call whose opening parenthesis
// is at open. It returns the trimmed top-level arguments and the index of the
// closing parenthesis.
func SplitArguments(s string, open int) ([]string, int, bool) {
	if open < 0 || open >= len(s) || s[open] != '(' {
		return nil, -1, false
	}
	return splitArgumentsFrom(s, open+1)
}

// splitArgumentsFrom splits comma separated arguments starting at from until
// the unmatched closing parenthesis.
func splitArgumentsFrom(s string, from int) ([]string, int, bool) {
	var (
		sc    tokenScanner
		args  []string
		start = from
	)

	for i := from; i < len(s); i++ {
		c := s[i]
		if !sc.step(c) {
			continue
		}
		switch {
		case sc.depth < 0:
			if c != ')' {
				return nil, -1, false
			}
			if last := strings.TrimSpace(s[start:i]); last != "" || len(args) > 0 {
				args = append(args, last)
			}
			return args, i, true
		case sc.depth == 0 && c == ',':
			args = append(args, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	return nil, -1, false
}

// FindCalls returns the index of the opening parenthesis of every call to name.
// Whitespace between the name and the parenthesis is allowed; occurrences that
// are part of a longer identifier are skipped.
func FindCalls(s, name string) []int {
	var calls []int
	for offset := 0; offset < len(s); {
		idx := strings.Index(s[offset:], name)
		if idx < 0 {
			break
		}
		pos := offset + idx
		offset = pos + len(name)

		if pos > 0 && isIdentByte(s[pos-1]) {
			continue
		}
		open := skipSpaces(s, offset)
		if open < len(s) && s[open] == '(' {
			calls = append(calls, open)
		}
	}
	return calls
}

// cutBalanced returns the balanced value starting at start, which must be an opener
func cutBalanced(s string, start int) (string, bool) {
	end, ok := MatchingCloser(s, start)
	if !ok {
		return "", false
	}
	return s[start : end+1], true
}

func skipSpaces(s string, i int) int {
	for i < len(s) && unicode.IsSpace(rune(s[i])) {
		i++
	}
	return i
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '$' || c == '.' ||
		(c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
