package guard

import (
	"strings"
	"unicode"

	"github.com/querypilot/querypilot/internal/failure"
)

type tokenKind int

const (
	tokenIdent tokenKind = iota
	tokenQuoted
	tokenString
	tokenNumber
	tokenParam
	tokenPunct
)

type token struct {
	kind  tokenKind
	text  string
	upper string
}

func (t token) is(upper string) bool {
	return t.kind == tokenIdent && t.upper == upper
}

func (t token) punct(p string) bool {
	return t.kind == tokenPunct && t.text == p
}

func (t token) name() bool {
	return t.kind == tokenIdent || t.kind == tokenQuoted
}

// lex splits a statement into tokens. Comments are dropped and string
// literals become opaque tokens, so keywords inside them are never seen.
func lex(sql string) ([]token, error) {
	src := []rune(sql)
	tokens := make([]token, 0, len(src)/3)
	for i := 0; i < len(src); {
		r := src[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '-' && i+1 < len(src) && src[i+1] == '-':
			for i < len(src) && src[i] != '\n' {
				i++
			}
		case r == '/' && i+1 < len(src) && src[i+1] == '*':
			end := indexRunes(src, i+2, "*/")
			if end < 0 {
				return nil, failure.New(failure.KindUnsafeStatement, "unterminated block comment")
			}
			i = end + 2
		case r == '\'' || r == '"':
			j, value, ok := scanQuoted(src, i, r)
			if !ok {
				return nil, failure.New(failure.KindUnsafeStatement, "unterminated quoted text")
			}
			if r == '\'' {
				tokens = append(tokens, token{kind: tokenString, text: value})
			} else {
				tokens = append(tokens, token{kind: tokenQuoted, text: value, upper: strings.ToUpper(value)})
			}
			i = j
		case r == '$' && i+1 < len(src) && (src[i+1] == '$' || unicode.IsLetter(src[i+1]) || src[i+1] == '_'):
			j, ok := scanDollarQuoted(src, i)
			if ok {
				tokens = append(tokens, token{kind: tokenString})
				i = j
				continue
			}
			j = i + 1
			for j < len(src) && isIdentRune(src[j]) {
				j++
			}
			tokens = append(tokens, token{kind: tokenParam, text: string(src[i:j])})
			i = j
		case unicode.IsLetter(r) || r == '_':
			j := i + 1
			for j < len(src) && isIdentRune(src[j]) {
				j++
			}
			text := string(src[i:j])
			tokens = append(tokens, token{kind: tokenIdent, text: text, upper: strings.ToUpper(text)})
			i = j
		case unicode.IsDigit(r):
			j := i + 1
			for j < len(src) && (unicode.IsDigit(src[j]) || src[j] == '.' || src[j] == '_' || unicode.IsLetter(src[j])) {
				j++
			}
			tokens = append(tokens, token{kind: tokenNumber, text: string(src[i:j])})
			i = j
		default:
			tokens = append(tokens, token{kind: tokenPunct, text: string(r)})
			i++
		}
	}
	return tokens, nil
}

func isIdentRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '$'
}

func scanQuoted(src []rune, start int, quote rune) (int, string, bool) {
	var b strings.Builder
	for i := start + 1; i < len(src); i++ {
		if src[i] != quote {
			b.WriteRune(src[i])
			continue
		}
		if i+1 < len(src) && src[i+1] == quote {
			b.WriteRune(quote)
			i++
			continue
		}
		return i + 1, b.String(), true
	}
	return 0, "", false
}

// scanDollarQuoted handles $$text$$ and $tag$text$tag$ literals.
func scanDollarQuoted(src []rune, start int) (int, bool) {
	j := start + 1
	for j < len(src) && src[j] != '$' {
		if !isIdentRune(src[j]) || src[j] == '$' {
			return 0, false
		}
		j++
	}
	if j >= len(src) {
		return 0, false
	}
	tag := string(src[start : j+1])
	end := indexRunes(src, j+1, tag)
	if end < 0 {
		return 0, false
	}
	return end + len([]rune(tag)), true
}

func indexRunes(src []rune, from int, needle string) int {
	if from > len(src) {
		return -1
	}
	idx := strings.Index(string(src[from:]), needle)
	if idx < 0 {
		return -1
	}
	return from + len([]rune(string(src[from:])[:idx]))
}
