package search

import (
	"strings"
	"unicode"

	"github.com/suteetoe/coursecatalog/internal/apperr"
)

// Matcher decides whether a document satisfies a parsed query string
type Matcher interface {
	Match(d *Doc) bool
}

// ParseQueryString parses the query_string subset evaluated in process:
// bare terms and "phrases" match document text, field:value matches a facet
// value, field:>=value compares lexically, field:* tests presence, and
// field:(a OR b) scopes a group to one field. AND, OR, NOT, && || ! and a
// leading - are understood; adjacent clauses are ANDed. An empty query
// matches every document.
func ParseQueryString(q string) (Matcher, error) {
	toks, err := lex(q)
	if err != nil {
		return nil, err
	}
	if len(toks) == 0 {
		return matchAll{}, nil
	}
	p := &qsParser{toks: toks}
	m, err := p.or("")
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.toks) {
		return nil, invalidQuery(q)
	}
	return m, nil
}

func invalidQuery(q string) error {
	return apperr.Validation("Invalid query %q.", q)
}

type tokKind int

const (
	tokTerm tokKind = iota
	tokPhrase
	tokLParen
	tokRParen
	tokAnd
	tokOr
	tokNot
)

type token struct {
	kind  tokKind
	field string
	value string
}

func lex(q string) ([]token, error) {
	var toks []token
	rs := []rune(q)
	i := 0
	for i < len(rs) {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			toks = append(toks, token{kind: tokLParen})
			i++
		case r == ')':
			toks = append(toks, token{kind: tokRParen})
			i++
		case r == '"':
			value, next, ok := readPhrase(rs, i)
			if !ok {
				return nil, invalidQuery(q)
			}
			toks = append(toks, token{kind: tokPhrase, value: value})
			i = next
		case r == '!' || (r == '-' && i+1 < len(rs) && !unicode.IsSpace(rs[i+1])):
			toks = append(toks, token{kind: tokNot})
			i++
		default:
			start := i
			for i < len(rs) && !unicode.IsSpace(rs[i]) && rs[i] != '(' && rs[i] != ')' && rs[i] != '"' {
				i++
			}
			word := string(rs[start:i])
			switch word {
			case "AND", "&&":
				toks = append(toks, token{kind: tokAnd})
				continue
			case "OR", "||":
				toks = append(toks, token{kind: tokOr})
				continue
			case "NOT":
				toks = append(toks, token{kind: tokNot})
				continue
			}
			if strings.HasSuffix(word, ":") && i < len(rs) {
				field := strings.TrimSuffix(word, ":")
				switch rs[i] {
				case '"':
					value, next, ok := readPhrase(rs, i)
					if !ok {
						return nil, invalidQuery(q)
					}
					toks = append(toks, token{kind: tokPhrase, field: field, value: value})
					i = next
					continue
				case '(':
					// field:( scopes the group; the paren is emitted on the next pass
					toks = append(toks, token{kind: tokLParen, field: field})
					i++
					continue
				}
			}
			field, value := "", word
			if k := strings.Index(word, ":"); k > 0 {
				field, value = word[:k], word[k+1:]
			}
			if value == "" {
				return nil, invalidQuery(q)
			}
			toks = append(toks, token{kind: tokTerm, field: field, value: value})
		}
	}
	return toks, nil
}

func readPhrase(rs []rune, i int) (string, int, bool) {
	end := i + 1
	for end < len(rs) && rs[end] != '"' {
		end++
	}
	if end >= len(rs) {
		return "", 0, false
	}
	return string(rs[i+1 : end]), end + 1, true
}

type qsParser struct {
	toks []token
	pos  int
}

func (p *qsParser) peek() *token {
	if p.pos < len(p.toks) {
		return &p.toks[p.pos]
	}
	return nil
}

func (p *qsParser) or(field string) (Matcher, error) {
	left, err := p.and(field)
	if err != nil {
		return nil, err
	}
	out := orMatch{left}
	for t := p.peek(); t != nil && t.kind == tokOr; t = p.peek() {
		p.pos++
		right, err := p.and(field)
		if err != nil {
			return nil, err
		}
		out = append(out, right)
	}
	if len(out) == 1 {
		return left, nil
	}
	return out, nil
}

func (p *qsParser) and(field string) (Matcher, error) {
	left, err := p.unary(field)
	if err != nil {
		return nil, err
	}
	out := andMatch{left}
	for t := p.peek(); t != nil && t.kind != tokOr && t.kind != tokRParen; t = p.peek() {
		if t.kind == tokAnd {
			p.pos++
		}
		right, err := p.unary(field)
		if err != nil {
			return nil, err
		}
		out = append(out, right)
	}
	if len(out) == 1 {
		return left, nil
	}
	return out, nil
}

func (p *qsParser) unary(field string) (Matcher, error) {
	t := p.peek()
	if t == nil {
		return nil, apperr.Validation("Invalid query: unexpected end of input.")
	}
	if t.kind == tokNot {
		p.pos++
		inner, err := p.unary(field)
		if err != nil {
			return nil, err
		}
		return notMatch{inner}, nil
	}
	return p.primary(field)
}

func (p *qsParser) primary(field string) (Matcher, error) {
	t := p.peek()
	if t == nil {
		return nil, apperr.Validation("Invalid query: unexpected end of input.")
	}
	p.pos++
	switch t.kind {
	case tokLParen:
		scope := field
		if t.field != "" {
			scope = t.field
		}
		inner, err := p.or(scope)
		if err != nil {
			return nil, err
		}
		if c := p.peek(); c == nil || c.kind != tokRParen {
			return nil, apperr.Validation("Invalid query: unbalanced parentheses.")
		}
		p.pos++
		return inner, nil
	case tokTerm, tokPhrase:
		f := t.field
		if f == "" {
			f = field
		}
		return newTermMatch(f, t.value, t.kind == tokPhrase), nil
	}
	return nil, apperr.Validation("Invalid query: unexpected operator.")
}

type matchAll struct{}

func (matchAll) Match(*Doc) bool { return true }

type andMatch []Matcher

func (m andMatch) Match(d *Doc) bool {
	for _, x := range m {
		if !x.Match(d) {
			return false
		}
	}
	return true
}

type orMatch []Matcher

func (m orMatch) Match(d *Doc) bool {
	for _, x := range m {
		if x.Match(d) {
			return true
		}
	}
	return false
}

type notMatch struct{ inner Matcher }

func (m notMatch) Match(d *Doc) bool { return !m.inner.Match(d) }

type termMatch struct {
	field  string
	op     string
	value  string
	phrase bool
}

func newTermMatch(field, value string, phrase bool) termMatch {
	m := termMatch{field: field, value: value, phrase: phrase}
	if phrase {
		return m
	}
	for _, op := range []string{">=", "<=", ">", "<"} {
		if strings.HasPrefix(value, op) && len(value) > len(op) {
			m.op, m.value = op, value[len(op):]
			return m
		}
	}
	return m
}

func (m termMatch) Match(d *Doc) bool {
	if m.field == "" || m.field == FieldText {
		return matchText(d.Text, m.value, m.phrase)
	}
	values := d.Values(m.field)
	if m.value == "*" && !m.phrase {
		return len(values) > 0
	}
	for _, v := range values {
		switch m.op {
		case ">=":
			if v >= m.value {
				return true
			}
		case "<=":
			if v <= m.value {
				return true
			}
		case ">":
			if v > m.value {
				return true
			}
		case "<":
			if v < m.value {
				return true
			}
		default:
			if strings.EqualFold(v, m.value) {
				return true
			}
		}
	}
	return false
}

// matchText matches a phrase as a substring and a term as a whole word or,
// with a trailing *, a word prefix
func matchText(text, value string, phrase bool) bool {
	text = strings.ToLower(text)
	value = strings.ToLower(value)
	if phrase {
		return strings.Contains(text, value)
	}
	prefix := strings.HasSuffix(value, "*")
	value = strings.TrimSuffix(value, "*")
	for _, w := range strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '+' && r != '.'
	}) {
		w = strings.Trim(w, ".")
		if w == value || (prefix && strings.HasPrefix(w, value)) {
			return true
		}
		// keys like A+B+1T2017 also match on their segments
		if !prefix && strings.Contains(w, "+") && strings.Contains(w, value) {
			for _, seg := range strings.Split(w, "+") {
				if seg == value {
					return true
				}
			}
		}
	}
	return false
}
